package core

import (
	"trackcore/pkg/domain"
)

// Counters are a pure derived view over entity state and ledger history.
// There is no cached counter state that could drift from the ledger;
// callers wanting fresh figures after a mutation simply query again.

// CounterFilter narrows a roll-up to a room or responsible actor. Zero
// values match everything.
type CounterFilter struct {
	RoomID  string
	ActorID string
}

func (f CounterFilter) matches(e domain.Entity) bool {
	if f.RoomID != "" && e.RoomID != f.RoomID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	return true
}

// CounterSnapshot is the per-stage roll-up backing list-page tab counters.
type CounterSnapshot struct {
	Kind            domain.EntityKind `json:"kind"`
	ActiveBatches   int               `json:"active_batches"`
	ActiveUnits     int64             `json:"active_units"`
	ConvertedUnits  int64             `json:"converted_units"`
	DestroyedUnits  int64             `json:"destroyed_units"`
	ActiveWeight    int64             `json:"active_weight"`
	DestroyedWeight int64             `json:"destroyed_weight"`
}

// countsFromView computes the roll-up for one kind from a read snapshot.
func countsFromView(view RuleView, kind domain.EntityKind, filter CounterFilter) CounterSnapshot {
	snapshot := CounterSnapshot{Kind: kind}
	counted := kind.Unit() == domain.UnitCount
	for _, entity := range view.ListEntities() {
		if entity.Kind != kind || !filter.matches(entity) {
			continue
		}
		if entity.Status == domain.StatusActive {
			snapshot.ActiveBatches++
			if counted {
				snapshot.ActiveUnits += entity.RemainingQuantity
			} else {
				snapshot.ActiveWeight += entity.RemainingQuantity
			}
		}
		for _, entry := range view.LedgerEntries(entity.ID) {
			switch entry.Cause {
			case domain.CauseConverted:
				if counted {
					snapshot.ConvertedUnits += entry.Amount
				}
			case domain.CauseDestroyed:
				if counted {
					snapshot.DestroyedUnits += entry.Amount
				} else {
					snapshot.DestroyedWeight += entry.Amount
				}
			}
		}
	}
	return snapshot
}
