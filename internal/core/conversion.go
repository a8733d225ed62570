package core

import (
	"strings"

	"trackcore/pkg/domain"
)

// ConvertInput describes a conversion request. Amount is debited from the
// source in the source's unit. OutputQuantity declares the new entity's
// original quantity when it is not carried 1:1 from the debit: required
// when the units differ (plants in, grams out), optional for weight-to-
// weight conversions where processing loss is a declared value (drying).
// Zero means "carry the amount".
type ConvertInput struct {
	SourceID       string
	DestKind       domain.EntityKind
	Amount         int64
	OutputQuantity int64
	ActorID        string
	RoomID         string
	Notes          string
}

// convertInTx executes a validated conversion inside the transaction. The
// reservation and child creation commit together or not at all.
func convertInTx(tx Transaction, in ConvertInput) ([]domain.Entity, error) {
	source, ok := tx.FindEntity(in.SourceID)
	if !ok {
		return nil, domain.NotFoundError{ID: in.SourceID}
	}
	if err := ValidateTransition(source, in.DestKind); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, domain.InvalidAmountError{Amount: in.Amount, Detail: "conversion amount must be positive"}
	}
	// Checked again by the reservation; rejecting here keeps an over-ask
	// from creating records inside the transaction scope first.
	if in.Amount > source.RemainingQuantity {
		return nil, domain.InsufficientQuantityError{
			EntityID:  source.ID,
			Requested: in.Amount,
			Remaining: source.RemainingQuantity,
		}
	}

	if unit, ok := UnitKind(source.Kind); ok && unit == in.DestKind {
		return expandUnits(tx, source, in)
	}

	output, err := outputQuantity(source, in)
	if err != nil {
		return nil, err
	}

	child, err := tx.CreateEntity(newChild(tx, source, in.DestKind, output, in))
	if err != nil {
		return nil, err
	}
	if _, err := reserveQuantity(tx, reservation{
		entityID: source.ID,
		amount:   in.Amount,
		cause:    domain.CauseConverted,
		targetID: child.ID,
		actorID:  in.ActorID,
		reason:   strings.TrimSpace(in.Notes),
	}); err != nil {
		return nil, err
	}
	return []domain.Entity{child}, nil
}

// expandUnits converts a batch into Amount individual unit records of
// quantity 1, all parented to the batch. The batch is debited once, in a
// single reservation taken before any unit exists, so the expansion is
// atomic and an over-ask does no per-unit work.
func expandUnits(tx Transaction, source domain.Entity, in ConvertInput) ([]domain.Entity, error) {
	if in.OutputQuantity != 0 && in.OutputQuantity != in.Amount {
		return nil, domain.InvalidAmountError{Amount: in.OutputQuantity, Detail: "unit expansion output must equal the expanded count"}
	}
	if _, err := reserveQuantity(tx, reservation{
		entityID: source.ID,
		amount:   in.Amount,
		cause:    domain.CauseConverted,
		actorID:  in.ActorID,
		reason:   strings.TrimSpace(in.Notes),
	}); err != nil {
		return nil, err
	}
	children := make([]domain.Entity, 0, in.Amount)
	for i := int64(0); i < in.Amount; i++ {
		child, err := tx.CreateEntity(newChild(tx, source, in.DestKind, 1, ConvertInput{
			SourceID: in.SourceID,
			DestKind: in.DestKind,
			Amount:   1,
			ActorID:  in.ActorID,
			RoomID:   in.RoomID,
			Notes:    in.Notes,
		}))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// PackageInput describes splitting a passed lab test batch into countable
// packaging units of a fixed per-unit weight. The batch is debited
// UnitCount*GramsPerUnit in one reservation.
type PackageInput struct {
	SourceID     string
	UnitCount    int64
	GramsPerUnit int64
	ActorID      string
	RoomID       string
	Notes        string
}

// packageInTx creates UnitCount packaging unit records of GramsPerUnit
// grams each, all parented to the lab test batch. Each unit's intake is
// its own per-unit weight, so the debit and the unit intakes reconcile.
func packageInTx(tx Transaction, in PackageInput) ([]domain.Entity, error) {
	source, ok := tx.FindEntity(in.SourceID)
	if !ok {
		return nil, domain.NotFoundError{ID: in.SourceID}
	}
	if err := ValidateTransition(source, domain.KindPackagingUnit); err != nil {
		return nil, err
	}
	if in.UnitCount <= 0 {
		return nil, domain.InvalidAmountError{Amount: in.UnitCount, Detail: "unit count must be positive"}
	}
	if in.GramsPerUnit <= 0 {
		return nil, domain.InvalidAmountError{Amount: in.GramsPerUnit, Detail: "per-unit weight must be positive"}
	}
	total := in.UnitCount * in.GramsPerUnit
	if total/in.UnitCount != in.GramsPerUnit {
		return nil, domain.InvalidAmountError{Amount: total, Detail: "packaging total overflows"}
	}
	if _, err := reserveQuantity(tx, reservation{
		entityID: source.ID,
		amount:   total,
		cause:    domain.CauseConverted,
		actorID:  in.ActorID,
		reason:   strings.TrimSpace(in.Notes),
	}); err != nil {
		return nil, err
	}
	conv := ConvertInput{
		SourceID: in.SourceID,
		DestKind: domain.KindPackagingUnit,
		Amount:   in.GramsPerUnit,
		ActorID:  in.ActorID,
		RoomID:   in.RoomID,
		Notes:    in.Notes,
	}
	units := make([]domain.Entity, 0, in.UnitCount)
	for i := int64(0); i < in.UnitCount; i++ {
		unit, err := tx.CreateEntity(newChild(tx, source, domain.KindPackagingUnit, in.GramsPerUnit, conv))
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

// outputQuantity resolves the new entity's original quantity. Weight loss
// during conversion is a declared value, not conserved 1:1, so a declared
// output may be lower than the debited amount.
func outputQuantity(source domain.Entity, in ConvertInput) (int64, error) {
	sameUnit := source.Kind.Unit() == in.DestKind.Unit()
	switch {
	case in.OutputQuantity < 0:
		return 0, domain.InvalidAmountError{Amount: in.OutputQuantity, Detail: "declared output cannot be negative"}
	case in.OutputQuantity > 0:
		return in.OutputQuantity, nil
	case sameUnit:
		return in.Amount, nil
	default:
		return 0, domain.InvalidAmountError{Amount: 0, Detail: "conversion across units requires a declared output quantity"}
	}
}

func newChild(tx Transaction, source domain.Entity, kind domain.EntityKind, quantity int64, in ConvertInput) domain.Entity {
	parentID := source.ID
	child := domain.Entity{
		Kind:              kind,
		BatchNumber:       nextBatchNumber(tx, kind),
		ParentID:          &parentID,
		Unit:              kind.Unit(),
		OriginalQuantity:  quantity,
		RemainingQuantity: quantity,
		SourceAmount:      in.Amount,
		Status:            domain.StatusActive,
		ActorID:           in.ActorID,
		RoomID:            in.RoomID,
		Notes:             in.Notes,
	}
	if kind == domain.KindLabTestBatch {
		child.LabResult = domain.LabResultPending
	}
	return child
}
