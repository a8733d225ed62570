package domain

import "fmt"

// The error taxonomy below is recoverable by design: every value is a typed
// result the caller maps to an actionable message. The single fatal
// condition is InvariantViolationError, which signals ledger corruption and
// must never be swallowed or clamped.

// NotFoundError is returned when an entity ID is unknown.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.ID)
}

// InsufficientQuantityError is returned when a reservation exceeds the
// remaining quantity.
type InsufficientQuantityError struct {
	EntityID  string
	Requested int64
	Remaining int64
}

func (e InsufficientQuantityError) Error() string {
	return fmt.Sprintf("entity %s: requested %d exceeds remaining %d", e.EntityID, e.Requested, e.Remaining)
}

// IllegalTransitionError is returned when the destination kind is not a
// legal child of the source kind, or the source status forbids conversion.
type IllegalTransitionError struct {
	SourceKind EntityKind
	DestKind   EntityKind
	Status     EntityStatus
}

func (e IllegalTransitionError) Error() string {
	if e.Status != "" && e.Status != StatusActive {
		return fmt.Sprintf("cannot convert %s in status %s", e.SourceKind, e.Status)
	}
	return fmt.Sprintf("cannot convert %s to %s", e.SourceKind, e.DestKind)
}

// LabNotPassedError is returned when packaging is attempted from a lab test
// batch whose result is not passed.
type LabNotPassedError struct {
	EntityID string
	Result   LabResult
}

func (e LabNotPassedError) Error() string {
	return fmt.Sprintf("lab test batch %s has result %s, packaging requires passed", e.EntityID, e.Result)
}

// MissingJustificationError is returned when a destruction lacks an actor
// or a reason.
type MissingJustificationError struct {
	Field string // "actor" or "reason"
}

func (e MissingJustificationError) Error() string {
	return fmt.Sprintf("destruction requires a %s", e.Field)
}

// AlreadyExhaustedError is returned when destroying an entity whose
// remaining quantity is already zero.
type AlreadyExhaustedError struct {
	EntityID string
	Status   EntityStatus
}

func (e AlreadyExhaustedError) Error() string {
	return fmt.Sprintf("entity %s is already %s with no remaining quantity", e.EntityID, e.Status)
}

// InvalidAmountError is returned when an operation amount is not a positive
// quantity, or a declared output weight is negative.
type InvalidAmountError struct {
	Amount int64
	Detail string
}

func (e InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: %s", e.Amount, e.Detail)
}

// ConcurrentModificationError is returned when a reservation or persist
// lost a race. Callers should retry once before surfacing.
type ConcurrentModificationError struct {
	Detail string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification: %s", e.Detail)
}

// InvariantViolationError indicates the ledger itself is corrupt, e.g. a
// negative remaining quantity observed on read. It is the only fatal error
// in the taxonomy and must be surfaced loudly rather than recovered from.
type InvariantViolationError struct {
	EntityID string
	Detail   string
}

func (e InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violated for entity %s: %s", e.EntityID, e.Detail)
}
