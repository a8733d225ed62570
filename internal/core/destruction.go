package core

import (
	"strings"

	"trackcore/pkg/domain"
)

// Destruction permanently removes quantity from circulation. Cultivation-
// tracking law requires every destructive action to carry a responsible
// actor and a reason, so both are mandatory here, not caller courtesy.

// DestroyInput describes a quantity-based destruction on a single entity.
// All destroys the full remainder regardless of Amount.
type DestroyInput struct {
	EntityID string
	Amount   int64
	All      bool
	ActorID  string
	Reason   string
}

// UnitDestructionOutcome reports the per-unit result of a bulk unit
// destruction. Err is nil when the unit was destroyed.
type UnitDestructionOutcome struct {
	EntityID string
	Err      error
}

func validateJustification(actorID, reason string) error {
	if strings.TrimSpace(actorID) == "" {
		return domain.MissingJustificationError{Field: "actor"}
	}
	if strings.TrimSpace(reason) == "" {
		return domain.MissingJustificationError{Field: "reason"}
	}
	return nil
}

// destroyInTx removes quantity from one entity inside the transaction.
func destroyInTx(tx Transaction, in DestroyInput) error {
	if err := validateJustification(in.ActorID, in.Reason); err != nil {
		return err
	}
	entity, ok := tx.FindEntity(in.EntityID)
	if !ok {
		return domain.NotFoundError{ID: in.EntityID}
	}
	if entity.RemainingQuantity == 0 {
		// Destroying an exhausted entity is an error, not a no-op: a
		// destruction request that changed nothing must not vanish from
		// the caller's view of the audit trail.
		return domain.AlreadyExhaustedError{EntityID: entity.ID, Status: entity.Status}
	}
	amount := in.Amount
	if in.All {
		amount = entity.RemainingQuantity
	}
	_, err := reserveQuantity(tx, reservation{
		entityID: in.EntityID,
		amount:   amount,
		cause:    domain.CauseDestroyed,
		actorID:  in.ActorID,
		reason:   strings.TrimSpace(in.Reason),
	})
	return err
}
