package core

import (
	"iter"
	"sort"

	"trackcore/pkg/domain"
)

// The quantity ledger is the single source of truth for how much of an
// entity's original quantity remains available. Every successful reserve
// appends one immutable ledger entry; no entry is ever edited or removed.
// Balances are checked against the entry history at every commit by
// QuantityConservationRule.

// reservation describes a single check-and-debit against an entity.
type reservation struct {
	entityID string
	amount   int64
	cause    domain.LedgerCause
	targetID string
	actorID  string
	reason   string
}

// reserveQuantity atomically checks amount against the remaining quantity
// and records the debit. It never partially applies: the entity update and
// ledger append happen in the same transaction or not at all. When the
// remainder reaches zero the final debit's cause decides the terminal
// status.
func reserveQuantity(tx Transaction, r reservation) (domain.Entity, error) {
	entity, ok := tx.FindEntity(r.entityID)
	if !ok {
		return domain.Entity{}, domain.NotFoundError{ID: r.entityID}
	}
	if entity.RemainingQuantity < 0 {
		return domain.Entity{}, domain.InvariantViolationError{EntityID: entity.ID, Detail: "negative remaining quantity observed"}
	}
	if r.amount <= 0 {
		return domain.Entity{}, domain.InvalidAmountError{Amount: r.amount, Detail: "reservation must be positive"}
	}
	if r.amount > entity.RemainingQuantity {
		return domain.Entity{}, domain.InsufficientQuantityError{
			EntityID:  entity.ID,
			Requested: r.amount,
			Remaining: entity.RemainingQuantity,
		}
	}

	updated, err := tx.UpdateEntity(entity.ID, func(e *domain.Entity) error {
		e.RemainingQuantity -= r.amount
		if e.RemainingQuantity == 0 {
			if r.cause == domain.CauseDestroyed {
				e.Status = domain.StatusDestroyed
			} else {
				e.Status = domain.StatusConverted
			}
		}
		return nil
	})
	if err != nil {
		return domain.Entity{}, err
	}

	if _, err := tx.AppendLedgerEntry(domain.LedgerEntry{
		EntityID: entity.ID,
		Cause:    r.cause,
		Amount:   r.amount,
		TargetID: r.targetID,
		ActorID:  r.actorID,
		Reason:   r.reason,
	}); err != nil {
		return domain.Entity{}, err
	}
	return updated, nil
}

// Remaining returns the entity's available quantity.
func Remaining(store PersistentStore, entityID string) (int64, error) {
	entity, ok := store.GetEntity(entityID)
	if !ok {
		return 0, domain.NotFoundError{ID: entityID}
	}
	if entity.RemainingQuantity < 0 {
		return 0, domain.InvariantViolationError{EntityID: entityID, Detail: "negative remaining quantity observed"}
	}
	return entity.RemainingQuantity, nil
}

// History returns the entity's debit records as a lazy, restartable
// sequence ordered by recording time ascending (sequence number breaks
// ties). Each range restarts from the oldest entry.
func History(store PersistentStore, entityID string) (iter.Seq[domain.LedgerEntry], error) {
	if _, ok := store.GetEntity(entityID); !ok {
		return nil, domain.NotFoundError{ID: entityID}
	}
	return func(yield func(domain.LedgerEntry) bool) {
		entries := store.LedgerEntries(entityID)
		sortLedgerEntries(entries)
		for _, entry := range entries {
			if !yield(entry) {
				return
			}
		}
	}, nil
}

func sortLedgerEntries(entries []domain.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].RecordedAt.Before(entries[j].RecordedAt)
	})
}
