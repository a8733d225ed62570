package core

import (
	"errors"
	"testing"

	"trackcore/pkg/domain"
)

func activeEntity(kind domain.EntityKind) domain.Entity {
	return domain.Entity{
		Kind:              kind,
		Unit:              kind.Unit(),
		OriginalQuantity:  10,
		RemainingQuantity: 10,
		Status:            domain.StatusActive,
	}
}

func TestValidateTransitionTable(t *testing.T) {
	legal := []struct {
		source, dest domain.EntityKind
	}{
		{domain.KindSeedLot, domain.KindMotherBatch},
		{domain.KindSeedLot, domain.KindFloweringBatch},
		{domain.KindMotherBatch, domain.KindMotherPlant},
		{domain.KindMotherBatch, domain.KindCuttingBatch},
		{domain.KindMotherPlant, domain.KindCuttingBatch},
		{domain.KindCuttingBatch, domain.KindCutting},
		{domain.KindCuttingBatch, domain.KindBloomingCuttingBatch},
		{domain.KindCutting, domain.KindBloomingCuttingBatch},
		{domain.KindBloomingCuttingBatch, domain.KindPlant},
		{domain.KindBloomingCuttingBatch, domain.KindHarvest},
		{domain.KindFloweringBatch, domain.KindPlant},
		{domain.KindFloweringBatch, domain.KindHarvest},
		{domain.KindPlant, domain.KindHarvest},
		{domain.KindHarvest, domain.KindDryingBatch},
		{domain.KindDryingBatch, domain.KindProcessingBatch},
		{domain.KindProcessingBatch, domain.KindLabTestBatch},
	}
	for _, tc := range legal {
		if err := ValidateTransition(activeEntity(tc.source), tc.dest); err != nil {
			t.Fatalf("expected %s -> %s to be legal, got %v", tc.source, tc.dest, err)
		}
	}

	illegal := []struct {
		source, dest domain.EntityKind
	}{
		{domain.KindSeedLot, domain.KindHarvest},
		{domain.KindMotherBatch, domain.KindSeedLot},
		{domain.KindHarvest, domain.KindProcessingBatch},
		{domain.KindPackagingUnit, domain.KindSeedLot},
		{domain.KindDryingBatch, domain.KindLabTestBatch},
	}
	for _, tc := range illegal {
		err := ValidateTransition(activeEntity(tc.source), tc.dest)
		var illegalErr domain.IllegalTransitionError
		if !errors.As(err, &illegalErr) {
			t.Fatalf("expected IllegalTransitionError for %s -> %s, got %v", tc.source, tc.dest, err)
		}
	}
}

func TestValidateTransitionRejectsInvalidDest(t *testing.T) {
	err := ValidateTransition(activeEntity(domain.KindSeedLot), domain.EntityKind("greenhouse"))
	var illegalErr domain.IllegalTransitionError
	if !errors.As(err, &illegalErr) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
}

func TestValidateTransitionRejectsTerminalSource(t *testing.T) {
	for _, status := range []domain.EntityStatus{domain.StatusConverted, domain.StatusDestroyed} {
		source := activeEntity(domain.KindSeedLot)
		source.Status = status
		err := ValidateTransition(source, domain.KindMotherBatch)
		var illegalErr domain.IllegalTransitionError
		if !errors.As(err, &illegalErr) {
			t.Fatalf("status %s: expected IllegalTransitionError, got %v", status, err)
		}
		if illegalErr.Status != status {
			t.Fatalf("error should carry source status, got %s", illegalErr.Status)
		}
	}
}

func TestValidateTransitionLabGate(t *testing.T) {
	source := activeEntity(domain.KindLabTestBatch)
	for _, result := range []domain.LabResult{domain.LabResultPending, domain.LabResultFailed} {
		source.LabResult = result
		err := ValidateTransition(source, domain.KindPackagingUnit)
		var labErr domain.LabNotPassedError
		if !errors.As(err, &labErr) {
			t.Fatalf("result %s: expected LabNotPassedError, got %v", result, err)
		}
	}
	source.LabResult = domain.LabResultPassed
	if err := ValidateTransition(source, domain.KindPackagingUnit); err != nil {
		t.Fatalf("passed batch should package, got %v", err)
	}
}

func TestUnitKinds(t *testing.T) {
	cases := map[domain.EntityKind]domain.EntityKind{
		domain.KindMotherBatch:          domain.KindMotherPlant,
		domain.KindCuttingBatch:         domain.KindCutting,
		domain.KindBloomingCuttingBatch: domain.KindPlant,
		domain.KindFloweringBatch:       domain.KindPlant,
	}
	for batch, want := range cases {
		got, ok := UnitKind(batch)
		if !ok || got != want {
			t.Fatalf("UnitKind(%s) = %s,%v want %s", batch, got, ok, want)
		}
	}
	if _, ok := UnitKind(domain.KindHarvest); ok {
		t.Fatalf("harvest must not expand into units")
	}
}

func TestLegalTargetsCopies(t *testing.T) {
	targets := LegalTargets(domain.KindSeedLot)
	if len(targets) != 2 {
		t.Fatalf("seed lot should have 2 targets, got %d", len(targets))
	}
	targets[0] = domain.KindPackagingUnit
	again := LegalTargets(domain.KindSeedLot)
	if again[0] == domain.KindPackagingUnit {
		t.Fatalf("LegalTargets must return a copy")
	}
}
