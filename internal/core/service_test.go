package core

import (
	"context"
	"errors"
	"testing"

	"trackcore/internal/infra/persistence/memory"
	"trackcore/pkg/domain"
)

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	return NewService(memory.NewStore(NewDefaultRulesEngine()), opts...)
}

func mustCreateSeedLot(t *testing.T, svc *Service, quantity int64) domain.Entity {
	t.Helper()
	lot, _, err := svc.CreateSeedLot(context.Background(), CreateSeedLotInput{
		Quantity: quantity,
		ActorID:  "grower-1",
		RoomID:   "room-a",
	})
	if err != nil {
		t.Fatalf("create seed lot: %v", err)
	}
	return lot
}

func mustConvert(t *testing.T, svc *Service, in ConvertInput) []domain.Entity {
	t.Helper()
	if in.ActorID == "" {
		in.ActorID = "grower-1"
	}
	created, _, err := svc.Convert(context.Background(), in)
	if err != nil {
		t.Fatalf("convert %s -> %s: %v", in.SourceID, in.DestKind, err)
	}
	return created
}

func TestCreateSeedLot(t *testing.T) {
	svc := newTestService(t)
	lot := mustCreateSeedLot(t, svc, 100)

	if lot.Kind != domain.KindSeedLot {
		t.Fatalf("kind = %s", lot.Kind)
	}
	if lot.Status != domain.StatusActive {
		t.Fatalf("status = %s", lot.Status)
	}
	if lot.RemainingQuantity != 100 || lot.OriginalQuantity != 100 {
		t.Fatalf("quantities = %d/%d", lot.RemainingQuantity, lot.OriginalQuantity)
	}
	if lot.ParentID != nil {
		t.Fatalf("seed lot must have no parent")
	}
	if !ValidBatchNumber(lot.BatchNumber) {
		t.Fatalf("batch number %q malformed", lot.BatchNumber)
	}
}

func TestCreateSeedLotValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.CreateSeedLot(ctx, CreateSeedLotInput{Quantity: 0, ActorID: "grower-1"})
	var amountErr domain.InvalidAmountError
	if !errors.As(err, &amountErr) {
		t.Fatalf("expected InvalidAmountError, got %v", err)
	}

	_, _, err = svc.CreateSeedLot(ctx, CreateSeedLotInput{Quantity: 10})
	var justErr domain.MissingJustificationError
	if !errors.As(err, &justErr) {
		t.Fatalf("expected MissingJustificationError, got %v", err)
	}
}

func TestBatchNumbersSequencePerDay(t *testing.T) {
	svc := newTestService(t)
	first := mustCreateSeedLot(t, svc, 10)
	second := mustCreateSeedLot(t, svc, 10)
	if first.BatchNumber == second.BatchNumber {
		t.Fatalf("batch numbers must be unique, both %s", first.BatchNumber)
	}
}

func TestConvertPartialThenExhaust(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)

	mother := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 4})[0]
	if mother.OriginalQuantity != 4 || mother.SourceAmount != 4 {
		t.Fatalf("mother quantities = %d source %d", mother.OriginalQuantity, mother.SourceAmount)
	}
	if mother.ParentID == nil || *mother.ParentID != lot.ID {
		t.Fatalf("mother parent = %v", mother.ParentID)
	}

	got, err := svc.GetEntity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.RemainingQuantity != 6 || got.Status != domain.StatusActive {
		t.Fatalf("after partial convert: remaining %d status %s", got.RemainingQuantity, got.Status)
	}

	mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindFloweringBatch, Amount: 6})
	got, err = svc.GetEntity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.RemainingQuantity != 0 || got.Status != domain.StatusConverted {
		t.Fatalf("after exhausting convert: remaining %d status %s", got.RemainingQuantity, got.Status)
	}

	// Terminal sources accept no further conversion.
	_, _, err = svc.Convert(ctx, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 1, ActorID: "grower-1"})
	var illegalErr domain.IllegalTransitionError
	if !errors.As(err, &illegalErr) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
}

func TestConvertInsufficientQuantity(t *testing.T) {
	svc := newTestService(t)
	lot := mustCreateSeedLot(t, svc, 10)
	mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 4})

	_, _, err := svc.Convert(context.Background(), ConvertInput{
		SourceID: lot.ID, DestKind: domain.KindFloweringBatch, Amount: 7, ActorID: "grower-1",
	})
	var insufficientErr domain.InsufficientQuantityError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientQuantityError, got %v", err)
	}
	if insufficientErr.Requested != 7 || insufficientErr.Remaining != 6 {
		t.Fatalf("error detail = %+v", insufficientErr)
	}

	// The failed conversion must not leave a child behind.
	children, err := svc.Descendants(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected 1 child after failed convert, got %d", len(children))
	}
}

func TestConvertCrossUnitRequiresDeclaredOutput(t *testing.T) {
	svc := newTestService(t)
	lot := mustCreateSeedLot(t, svc, 10)
	flowering := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindFloweringBatch, Amount: 10})[0]

	_, _, err := svc.Convert(context.Background(), ConvertInput{
		SourceID: flowering.ID, DestKind: domain.KindHarvest, Amount: 10, ActorID: "grower-1",
	})
	var amountErr domain.InvalidAmountError
	if !errors.As(err, &amountErr) {
		t.Fatalf("expected InvalidAmountError for missing output, got %v", err)
	}

	harvest := mustConvert(t, svc, ConvertInput{
		SourceID: flowering.ID, DestKind: domain.KindHarvest, Amount: 10, OutputQuantity: 5000,
	})[0]
	if harvest.Unit != domain.UnitGrams {
		t.Fatalf("harvest unit = %s", harvest.Unit)
	}
	if harvest.OriginalQuantity != 5000 || harvest.SourceAmount != 10 {
		t.Fatalf("harvest original %d source %d", harvest.OriginalQuantity, harvest.SourceAmount)
	}
}

func TestConvertDryingRecordsWeightLoss(t *testing.T) {
	svc := newTestService(t)
	lot := mustCreateSeedLot(t, svc, 10)
	flowering := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindFloweringBatch, Amount: 10})[0]
	harvest := mustConvert(t, svc, ConvertInput{SourceID: flowering.ID, DestKind: domain.KindHarvest, Amount: 10, OutputQuantity: 500})[0]

	drying := mustConvert(t, svc, ConvertInput{
		SourceID: harvest.ID, DestKind: domain.KindDryingBatch, Amount: 500, OutputQuantity: 80,
	})[0]
	if drying.SourceAmount != 500 {
		t.Fatalf("drying intake = %d, want 500", drying.SourceAmount)
	}
	if drying.OriginalQuantity != 80 || drying.RemainingQuantity != 80 {
		t.Fatalf("drying output = %d/%d, want 80", drying.OriginalQuantity, drying.RemainingQuantity)
	}

	got, err := svc.GetEntity(context.Background(), harvest.ID)
	if err != nil {
		t.Fatalf("get harvest: %v", err)
	}
	if got.Status != domain.StatusConverted || got.RemainingQuantity != 0 {
		t.Fatalf("harvest after drying: %s remaining %d", got.Status, got.RemainingQuantity)
	}
}

func TestConvertToUnitsExpansion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	mother := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 5})[0]

	plants, _, err := svc.ConvertToUnits(ctx, mother.ID, 3, "grower-1", "room-b", "")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(plants) != 3 {
		t.Fatalf("expected 3 mother plants, got %d", len(plants))
	}
	for _, p := range plants {
		if p.Kind != domain.KindMotherPlant {
			t.Fatalf("unit kind = %s", p.Kind)
		}
		if p.OriginalQuantity != 1 || p.RemainingQuantity != 1 || p.SourceAmount != 1 {
			t.Fatalf("unit quantities = %d/%d/%d", p.OriginalQuantity, p.RemainingQuantity, p.SourceAmount)
		}
		if p.ParentID == nil || *p.ParentID != mother.ID {
			t.Fatalf("unit parent = %v", p.ParentID)
		}
	}

	got, err := svc.GetEntity(ctx, mother.ID)
	if err != nil {
		t.Fatalf("get mother: %v", err)
	}
	if got.RemainingQuantity != 2 || got.Status != domain.StatusActive {
		t.Fatalf("mother after expansion: remaining %d status %s", got.RemainingQuantity, got.Status)
	}

	// One expansion, one ledger debit.
	history, err := svc.History(ctx, mother.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []domain.LedgerEntry
	for entry := range history {
		entries = append(entries, entry)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single expansion debit, got %d entries", len(entries))
	}
	if entries[0].Amount != 3 || entries[0].Cause != domain.CauseConverted {
		t.Fatalf("expansion entry = %+v", entries[0])
	}
}

func TestOverAskConversionCreatesNoRecords(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	svc := NewService(store)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	mother := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 5})[0]

	// Driven at the transaction level so the intermediate state is
	// visible: an over-ask must be rejected before any child record is
	// minted, for the unit expansion and the single-child path alike.
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var insufficientErr domain.InsufficientQuantityError

		_, err := convertInTx(tx, ConvertInput{SourceID: mother.ID, DestKind: domain.KindMotherPlant, Amount: 5000, ActorID: "grower-1"})
		if !errors.As(err, &insufficientErr) {
			t.Fatalf("expansion over-ask: expected InsufficientQuantityError, got %v", err)
		}
		if got := len(tx.Snapshot().ListEntities()); got != 2 {
			t.Fatalf("expansion over-ask left %d entities in scope, want 2", got)
		}

		_, err = convertInTx(tx, ConvertInput{SourceID: mother.ID, DestKind: domain.KindCuttingBatch, Amount: 5000, ActorID: "grower-1"})
		if !errors.As(err, &insufficientErr) {
			t.Fatalf("convert over-ask: expected InsufficientQuantityError, got %v", err)
		}
		if got := len(tx.Snapshot().ListEntities()); got != 2 {
			t.Fatalf("convert over-ask left %d entities in scope, want 2", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestDestroyRequiresJustification(t *testing.T) {
	svc := newTestService(t)
	lot := mustCreateSeedLot(t, svc, 10)
	ctx := context.Background()

	var justErr domain.MissingJustificationError
	_, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: lot.ID, Amount: 1, ActorID: "grower-1"})
	if !errors.As(err, &justErr) || justErr.Field != "reason" {
		t.Fatalf("expected missing reason, got %v", err)
	}
	_, err = svc.DestroyQuantity(ctx, DestroyInput{EntityID: lot.ID, Amount: 1, Reason: "mold"})
	if !errors.As(err, &justErr) || justErr.Field != "actor" {
		t.Fatalf("expected missing actor, got %v", err)
	}
}

func TestDestroyPartialAndRemainder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)

	if _, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: lot.ID, Amount: 3, ActorID: "grower-1", Reason: "failed germination"}); err != nil {
		t.Fatalf("partial destroy: %v", err)
	}
	got, err := svc.GetEntity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemainingQuantity != 7 || got.Status != domain.StatusActive {
		t.Fatalf("after partial destroy: remaining %d status %s", got.RemainingQuantity, got.Status)
	}

	if _, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: lot.ID, All: true, ActorID: "grower-1", Reason: "lot recalled"}); err != nil {
		t.Fatalf("destroy remainder: %v", err)
	}
	got, err = svc.GetEntity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemainingQuantity != 0 || got.Status != domain.StatusDestroyed {
		t.Fatalf("after full destroy: remaining %d status %s", got.RemainingQuantity, got.Status)
	}

	// Destroying an exhausted entity is an error, never a silent no-op.
	_, err = svc.DestroyQuantity(ctx, DestroyInput{EntityID: lot.ID, All: true, ActorID: "grower-1", Reason: "again"})
	var exhaustedErr domain.AlreadyExhaustedError
	if !errors.As(err, &exhaustedErr) {
		t.Fatalf("expected AlreadyExhaustedError, got %v", err)
	}

	// The record itself survives destruction.
	if _, err := svc.GetEntity(ctx, lot.ID); err != nil {
		t.Fatalf("destroyed entity must stay queryable: %v", err)
	}
}

func TestDestroyUnitsPartialSuccess(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	mother := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 5})[0]
	plants, _, err := svc.ConvertToUnits(ctx, mother.ID, 2, "grower-1", "room-b", "")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	ids := []string{plants[0].ID, "no-such-unit", plants[1].ID}
	outcomes, err := svc.DestroyUnits(ctx, ids, "grower-1", "pest infestation")
	if err != nil {
		t.Fatalf("destroy units: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Fatalf("valid units should destroy: %v / %v", outcomes[0].Err, outcomes[2].Err)
	}
	var notFound domain.NotFoundError
	if !errors.As(outcomes[1].Err, &notFound) {
		t.Fatalf("expected NotFoundError for missing unit, got %v", outcomes[1].Err)
	}

	for _, id := range []string{plants[0].ID, plants[1].ID} {
		got, err := svc.GetEntity(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != domain.StatusDestroyed {
			t.Fatalf("unit %s status = %s", id, got.Status)
		}
	}
}

func TestDestroyUnitsRejectsMissingJustification(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.DestroyUnits(context.Background(), []string{"x"}, "", "reason")
	var justErr domain.MissingJustificationError
	if !errors.As(err, &justErr) {
		t.Fatalf("expected MissingJustificationError, got %v", err)
	}
}

// buildLabBatch walks a lot through the weighed stages up to a lab test batch.
func buildLabBatch(t *testing.T, svc *Service) domain.Entity {
	t.Helper()
	lot := mustCreateSeedLot(t, svc, 10)
	flowering := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindFloweringBatch, Amount: 10})[0]
	harvest := mustConvert(t, svc, ConvertInput{SourceID: flowering.ID, DestKind: domain.KindHarvest, Amount: 10, OutputQuantity: 500})[0]
	drying := mustConvert(t, svc, ConvertInput{SourceID: harvest.ID, DestKind: domain.KindDryingBatch, Amount: 500, OutputQuantity: 80})[0]
	processing := mustConvert(t, svc, ConvertInput{SourceID: drying.ID, DestKind: domain.KindProcessingBatch, Amount: 80})[0]
	return mustConvert(t, svc, ConvertInput{SourceID: processing.ID, DestKind: domain.KindLabTestBatch, Amount: 80})[0]
}

func TestLabResultGatesPackaging(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lab := buildLabBatch(t, svc)
	if lab.LabResult != domain.LabResultPending {
		t.Fatalf("new lab batch result = %s", lab.LabResult)
	}

	_, _, err := svc.Convert(ctx, ConvertInput{SourceID: lab.ID, DestKind: domain.KindPackagingUnit, Amount: 10, ActorID: "grower-1"})
	var labErr domain.LabNotPassedError
	if !errors.As(err, &labErr) {
		t.Fatalf("expected LabNotPassedError, got %v", err)
	}

	updated, _, err := svc.SetLabResult(ctx, lab.ID, domain.LabResultPassed, map[string]float64{"thc_pct": 18.4, "cbd_pct": 0.6}, "lab-tech-2")
	if err != nil {
		t.Fatalf("set lab result: %v", err)
	}
	if updated.LabResult != domain.LabResultPassed || updated.LabMetrics["thc_pct"] != 18.4 {
		t.Fatalf("lab result not recorded: %+v", updated)
	}

	pack := mustConvert(t, svc, ConvertInput{SourceID: lab.ID, DestKind: domain.KindPackagingUnit, Amount: 10})[0]
	if pack.Kind != domain.KindPackagingUnit {
		t.Fatalf("pack kind = %s", pack.Kind)
	}
}

func TestPackageIntoUnits(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lab := buildLabBatch(t, svc)
	if _, _, err := svc.SetLabResult(ctx, lab.ID, domain.LabResultPassed, nil, "lab-tech-2"); err != nil {
		t.Fatalf("set lab result: %v", err)
	}

	units, _, err := svc.Package(ctx, PackageInput{SourceID: lab.ID, UnitCount: 4, GramsPerUnit: 20, ActorID: "packer-1", RoomID: "room-d"})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if len(units) != 4 {
		t.Fatalf("expected 4 packaging units, got %d", len(units))
	}
	for _, u := range units {
		if u.Kind != domain.KindPackagingUnit || u.Unit != domain.UnitGrams {
			t.Fatalf("unit shape = %s/%s", u.Kind, u.Unit)
		}
		if u.OriginalQuantity != 20 || u.RemainingQuantity != 20 || u.SourceAmount != 20 {
			t.Fatalf("unit quantities = %d/%d/%d, want 20 each", u.OriginalQuantity, u.RemainingQuantity, u.SourceAmount)
		}
		if u.ParentID == nil || *u.ParentID != lab.ID {
			t.Fatalf("unit parent = %v", u.ParentID)
		}
	}

	got, err := svc.GetEntity(ctx, lab.ID)
	if err != nil {
		t.Fatalf("get lab batch: %v", err)
	}
	if got.RemainingQuantity != 0 || got.Status != domain.StatusConverted {
		t.Fatalf("lab batch after packaging: remaining %d status %s", got.RemainingQuantity, got.Status)
	}

	// One split, one ledger debit for the full packaged weight.
	history, err := svc.History(ctx, lab.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []domain.LedgerEntry
	for entry := range history {
		entries = append(entries, entry)
	}
	if len(entries) != 1 || entries[0].Amount != 80 || entries[0].Cause != domain.CauseConverted {
		t.Fatalf("packaging debit = %+v", entries)
	}
}

func TestPackageRequiresPassedResult(t *testing.T) {
	svc := newTestService(t)
	lab := buildLabBatch(t, svc)

	_, _, err := svc.Package(context.Background(), PackageInput{SourceID: lab.ID, UnitCount: 4, GramsPerUnit: 20, ActorID: "packer-1"})
	var labErr domain.LabNotPassedError
	if !errors.As(err, &labErr) {
		t.Fatalf("expected LabNotPassedError, got %v", err)
	}
}

func TestPackageValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lab := buildLabBatch(t, svc)
	if _, _, err := svc.SetLabResult(ctx, lab.ID, domain.LabResultPassed, nil, "lab-tech-2"); err != nil {
		t.Fatalf("set lab result: %v", err)
	}

	var amountErr domain.InvalidAmountError
	_, _, err := svc.Package(ctx, PackageInput{SourceID: lab.ID, UnitCount: 0, GramsPerUnit: 20, ActorID: "packer-1"})
	if !errors.As(err, &amountErr) {
		t.Fatalf("zero count: expected InvalidAmountError, got %v", err)
	}
	_, _, err = svc.Package(ctx, PackageInput{SourceID: lab.ID, UnitCount: 4, GramsPerUnit: 0, ActorID: "packer-1"})
	if !errors.As(err, &amountErr) {
		t.Fatalf("zero weight: expected InvalidAmountError, got %v", err)
	}

	// 5 units of 20 g ask for 100 g of an 80 g batch.
	_, _, err = svc.Package(ctx, PackageInput{SourceID: lab.ID, UnitCount: 5, GramsPerUnit: 20, ActorID: "packer-1"})
	var insufficientErr domain.InsufficientQuantityError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("over-ask: expected InsufficientQuantityError, got %v", err)
	}
	if insufficientErr.Requested != 100 || insufficientErr.Remaining != 80 {
		t.Fatalf("over-ask detail = %+v", insufficientErr)
	}
}

func TestSetLabResultRequiresActiveBatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lab := buildLabBatch(t, svc)
	if _, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: lab.ID, All: true, ActorID: "grower-1", Reason: "contaminated sample"}); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	_, _, err := svc.SetLabResult(ctx, lab.ID, domain.LabResultPassed, nil, "lab-tech-2")
	var illegalErr domain.IllegalTransitionError
	if !errors.As(err, &illegalErr) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if illegalErr.Status != domain.StatusDestroyed {
		t.Fatalf("error status = %s, want destroyed", illegalErr.Status)
	}
}

func TestSettledLabResultIsImmutable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lab := buildLabBatch(t, svc)
	if _, _, err := svc.SetLabResult(ctx, lab.ID, domain.LabResultFailed, nil, "lab-tech-2"); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	_, _, err := svc.SetLabResult(ctx, lab.ID, domain.LabResultPassed, nil, "lab-tech-2")
	var ruleErr domain.RuleViolationError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected rule violation, got %v", err)
	}
}

func TestSetLabResultOnlyOnLabBatches(t *testing.T) {
	svc := newTestService(t)
	lot := mustCreateSeedLot(t, svc, 10)
	_, _, err := svc.SetLabResult(context.Background(), lot.ID, domain.LabResultPassed, nil, "lab-tech-2")
	var illegalErr domain.IllegalTransitionError
	if !errors.As(err, &illegalErr) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
}

func TestProvenanceWalk(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lab := buildLabBatch(t, svc)

	chain, err := svc.Provenance(ctx, lab.ID)
	if err != nil {
		t.Fatalf("provenance: %v", err)
	}
	wantKinds := []domain.EntityKind{
		domain.KindLabTestBatch,
		domain.KindProcessingBatch,
		domain.KindDryingBatch,
		domain.KindHarvest,
		domain.KindFloweringBatch,
		domain.KindSeedLot,
	}
	if len(chain) != len(wantKinds) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(wantKinds))
	}
	for i, want := range wantKinds {
		if chain[i].Kind != want {
			t.Fatalf("chain[%d] = %s, want %s", i, chain[i].Kind, want)
		}
	}
	root := chain[len(chain)-1]
	if root.ParentID != nil {
		t.Fatalf("root of chain must be parentless")
	}
}

func TestProvenanceSurvivesDestruction(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	mother := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 5})[0]

	if _, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: lot.ID, All: true, ActorID: "grower-1", Reason: "cleared"}); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	chain, err := svc.Provenance(ctx, mother.ID)
	if err != nil {
		t.Fatalf("provenance through destroyed parent: %v", err)
	}
	if len(chain) != 2 || chain[1].Status != domain.StatusDestroyed {
		t.Fatalf("destroyed parent must stay on the chain: %+v", chain)
	}
}

func TestHistoryOrderAndRestart(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 2})
	mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindFloweringBatch, Amount: 3})
	if _, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: lot.ID, Amount: 1, ActorID: "grower-1", Reason: "damaged"}); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	history, err := svc.History(ctx, lot.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	collect := func() []domain.LedgerEntry {
		var out []domain.LedgerEntry
		for entry := range history {
			out = append(out, entry)
		}
		return out
	}

	entries := collect()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantAmounts := []int64{2, 3, 1}
	wantCauses := []domain.LedgerCause{domain.CauseConverted, domain.CauseConverted, domain.CauseDestroyed}
	for i, entry := range entries {
		if entry.Amount != wantAmounts[i] || entry.Cause != wantCauses[i] {
			t.Fatalf("entry[%d] = %+v", i, entry)
		}
		if i > 0 && entries[i-1].Seq >= entry.Seq {
			t.Fatalf("entries out of order: seq %d then %d", entries[i-1].Seq, entry.Seq)
		}
	}

	// The sequence restarts from the oldest entry on each range.
	again := collect()
	if len(again) != 3 || again[0].Seq != entries[0].Seq {
		t.Fatalf("history must be restartable")
	}
}

func TestHistoryUnknownEntity(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.History(context.Background(), "missing")
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListEntitiesFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 4, RoomID: "room-b"})
	mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 2, RoomID: "room-c"})

	mothers, err := svc.ListEntities(ctx, EntityFilter{Kind: domain.KindMotherBatch})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mothers) != 2 {
		t.Fatalf("expected 2 mother batches, got %d", len(mothers))
	}

	roomB, err := svc.ListEntities(ctx, EntityFilter{Kind: domain.KindMotherBatch, RoomID: "room-b"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roomB) != 1 || roomB[0].RoomID != "room-b" {
		t.Fatalf("room filter failed: %+v", roomB)
	}

	byParent, err := svc.ListEntities(ctx, EntityFilter{ParentID: lot.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byParent) != 2 {
		t.Fatalf("parent filter: got %d", len(byParent))
	}
}

func TestCounts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	mother := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 6})[0]
	if _, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: mother.ID, Amount: 2, ActorID: "grower-1", Reason: "weak plants"}); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	seed, err := svc.CountsForKind(ctx, domain.KindSeedLot, CounterFilter{})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if seed.ActiveBatches != 1 || seed.ActiveUnits != 4 {
		t.Fatalf("seed counters = %+v", seed)
	}
	if seed.ConvertedUnits != 6 {
		t.Fatalf("seed converted = %d", seed.ConvertedUnits)
	}

	motherCounts, err := svc.CountsForKind(ctx, domain.KindMotherBatch, CounterFilter{})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if motherCounts.ActiveUnits != 4 || motherCounts.DestroyedUnits != 2 {
		t.Fatalf("mother counters = %+v", motherCounts)
	}

	all, err := svc.Counts(ctx, CounterFilter{})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(all) != len(domain.Kinds()) {
		t.Fatalf("expected a snapshot per kind, got %d", len(all))
	}
}

func TestConcurrentConvertsNeverDoubleSpend(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)

	// Two overlapping conversions of 6 against a remainder of 10: exactly
	// one wins, the other sees the depleted remainder.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := svc.Convert(ctx, ConvertInput{
				SourceID: lot.ID, DestKind: domain.KindMotherBatch, Amount: 6, ActorID: "grower-1",
			})
			results <- err
		}()
	}

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("expected exactly one loser, got %d failures", len(failures))
	}
	var insufficientErr domain.InsufficientQuantityError
	if !errors.As(failures[0], &insufficientErr) {
		t.Fatalf("loser error = %v", failures[0])
	}

	got, err := svc.GetEntity(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemainingQuantity != 4 {
		t.Fatalf("remaining = %d, want 4", got.RemainingQuantity)
	}
}

func TestCountsWeightKinds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lot := mustCreateSeedLot(t, svc, 10)
	flowering := mustConvert(t, svc, ConvertInput{SourceID: lot.ID, DestKind: domain.KindFloweringBatch, Amount: 10})[0]
	harvest := mustConvert(t, svc, ConvertInput{SourceID: flowering.ID, DestKind: domain.KindHarvest, Amount: 10, OutputQuantity: 500})[0]
	if _, err := svc.DestroyQuantity(ctx, DestroyInput{EntityID: harvest.ID, Amount: 120, ActorID: "grower-1", Reason: "mold"}); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	counts, err := svc.CountsForKind(ctx, domain.KindHarvest, CounterFilter{})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ActiveWeight != 380 || counts.DestroyedWeight != 120 {
		t.Fatalf("harvest counters = %+v", counts)
	}
	if counts.ActiveUnits != 0 || counts.DestroyedUnits != 0 {
		t.Fatalf("weighed kinds must not report unit counters: %+v", counts)
	}
}
