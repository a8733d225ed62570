package core

import (
	"context"
	"fmt"

	"trackcore/pkg/domain"
)

// QuantityConservationRule re-derives every entity's balance from its
// ledger history at commit time. A mismatch means the ledger itself is
// corrupt, so the rule fails the transaction with an invariant error
// instead of emitting a recoverable violation; silent correction would
// falsify the audit trail.
func QuantityConservationRule() domain.Rule {
	return quantityConservationRule{}
}

type quantityConservationRule struct{}

func (quantityConservationRule) Name() string { return "quantity_conservation" }

func (quantityConservationRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	for _, entity := range view.ListEntities() {
		if entity.OriginalQuantity < 0 {
			return domain.Result{}, domain.InvariantViolationError{EntityID: entity.ID, Detail: "negative original quantity"}
		}
		if entity.RemainingQuantity < 0 {
			return domain.Result{}, domain.InvariantViolationError{EntityID: entity.ID, Detail: "negative remaining quantity"}
		}
		if entity.RemainingQuantity > entity.OriginalQuantity {
			return domain.Result{}, domain.InvariantViolationError{EntityID: entity.ID, Detail: "remaining quantity exceeds original"}
		}

		var debited, converted int64
		for _, entry := range view.LedgerEntries(entity.ID) {
			if entry.Amount <= 0 {
				return domain.Result{}, domain.InvariantViolationError{EntityID: entity.ID, Detail: "non-positive ledger amount"}
			}
			debited += entry.Amount
			if entry.Cause == domain.CauseConverted {
				converted += entry.Amount
			}
		}
		if entity.OriginalQuantity-debited != entity.RemainingQuantity {
			return domain.Result{}, domain.InvariantViolationError{
				EntityID: entity.ID,
				Detail: fmt.Sprintf("remaining %d does not match original %d minus debits %d",
					entity.RemainingQuantity, entity.OriginalQuantity, debited),
			}
		}

		var childIntake int64
		for _, child := range view.ListChildren(entity.ID) {
			childIntake += child.SourceAmount
		}
		if childIntake != converted {
			return domain.Result{}, domain.InvariantViolationError{
				EntityID: entity.ID,
				Detail: fmt.Sprintf("children took %d but conversion debits total %d",
					childIntake, converted),
			}
		}
	}
	return domain.Result{}, nil
}
