package core

import (
	"trackcore/pkg/domain"
)

// The lifecycle state machine is data: a closed table of legal kind-to-kind
// conversions. Kind-specific behavior (count vs weight, unit expansion,
// the lab gate) is expressed here rather than duplicated per call site.

// conversionTargets lists the legal destination kinds per source kind.
// PackagingUnit has no entry: it is terminal.
var conversionTargets = map[domain.EntityKind][]domain.EntityKind{
	domain.KindSeedLot:              {domain.KindMotherBatch, domain.KindFloweringBatch},
	domain.KindMotherBatch:          {domain.KindMotherPlant, domain.KindCuttingBatch},
	domain.KindMotherPlant:          {domain.KindCuttingBatch},
	domain.KindCuttingBatch:         {domain.KindCutting, domain.KindBloomingCuttingBatch},
	domain.KindCutting:              {domain.KindBloomingCuttingBatch},
	domain.KindBloomingCuttingBatch: {domain.KindPlant, domain.KindHarvest},
	domain.KindFloweringBatch:       {domain.KindPlant, domain.KindHarvest},
	domain.KindPlant:                {domain.KindHarvest},
	domain.KindHarvest:              {domain.KindDryingBatch},
	domain.KindDryingBatch:          {domain.KindProcessingBatch},
	domain.KindProcessingBatch:      {domain.KindLabTestBatch},
	domain.KindLabTestBatch:         {domain.KindPackagingUnit},
}

// unitKinds maps a batch kind to the individual-unit kind it expands into.
var unitKinds = map[domain.EntityKind]domain.EntityKind{
	domain.KindMotherBatch:          domain.KindMotherPlant,
	domain.KindCuttingBatch:         domain.KindCutting,
	domain.KindBloomingCuttingBatch: domain.KindPlant,
	domain.KindFloweringBatch:       domain.KindPlant,
}

// LegalTargets returns the destination kinds reachable from a source kind.
func LegalTargets(source domain.EntityKind) []domain.EntityKind {
	targets := conversionTargets[source]
	out := make([]domain.EntityKind, len(targets))
	copy(out, targets)
	return out
}

// UnitKind returns the individual-unit kind a batch kind expands into.
func UnitKind(batch domain.EntityKind) (domain.EntityKind, bool) {
	unit, ok := unitKinds[batch]
	return unit, ok
}

// legalTarget reports whether dest appears in source's target list.
func legalTarget(source, dest domain.EntityKind) bool {
	for _, k := range conversionTargets[source] {
		if k == dest {
			return true
		}
	}
	return false
}

// ValidateTransition is a pure lookup: it checks the kind table and the
// source eligibility rules without touching quantities.
func ValidateTransition(source domain.Entity, dest domain.EntityKind) error {
	if !dest.Valid() {
		return domain.IllegalTransitionError{SourceKind: source.Kind, DestKind: dest}
	}
	if source.Status != domain.StatusActive {
		return domain.IllegalTransitionError{SourceKind: source.Kind, DestKind: dest, Status: source.Status}
	}
	if !legalTarget(source.Kind, dest) {
		return domain.IllegalTransitionError{SourceKind: source.Kind, DestKind: dest}
	}
	if source.Kind == domain.KindLabTestBatch && source.LabResult != domain.LabResultPassed {
		return domain.LabNotPassedError{EntityID: source.ID, Result: source.LabResult}
	}
	return nil
}
