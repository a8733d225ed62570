package core

import (
	"context"
	"fmt"

	"trackcore/pkg/domain"
)

// ProvenanceIntegrityRule enforces the tree shape of the provenance graph:
// every non-root entity points at exactly one existing parent of a legal
// source kind, roots are seed lots, and parent links never change after
// creation.
func ProvenanceIntegrityRule() domain.Rule {
	return provenanceIntegrityRule{}
}

type provenanceIntegrityRule struct{}

func (provenanceIntegrityRule) Name() string { return "provenance_integrity" }

func (provenanceIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	for _, entity := range view.ListEntities() {
		if entity.Kind == domain.KindSeedLot {
			if entity.ParentID != nil {
				res.Violations = append(res.Violations, provenanceViolation(entity,
					fmt.Sprintf("seed lot %s must not have a parent", entity.ID)))
			}
			continue
		}
		if entity.ParentID == nil || *entity.ParentID == "" {
			res.Violations = append(res.Violations, provenanceViolation(entity,
				fmt.Sprintf("entity %s of kind %s has no parent", entity.ID, entity.Kind)))
			continue
		}
		parent, ok := view.FindEntity(*entity.ParentID)
		if !ok {
			res.Violations = append(res.Violations, provenanceViolation(entity,
				fmt.Sprintf("entity %s references missing parent %s", entity.ID, *entity.ParentID)))
			continue
		}
		if parent.ID == entity.ID {
			res.Violations = append(res.Violations, provenanceViolation(entity,
				fmt.Sprintf("entity %s references itself as parent", entity.ID)))
			continue
		}
		if !legalTarget(parent.Kind, entity.Kind) {
			res.Violations = append(res.Violations, provenanceViolation(entity,
				fmt.Sprintf("entity %s of kind %s cannot descend from %s", entity.ID, entity.Kind, parent.Kind)))
		}
		if entity.Kind == domain.KindPackagingUnit && parent.LabResult != domain.LabResultPassed {
			res.Violations = append(res.Violations, provenanceViolation(entity,
				fmt.Sprintf("packaging unit %s descends from lab test batch %s with result %s", entity.ID, parent.ID, parent.LabResult)))
		}
	}

	for _, change := range changes {
		if change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := entityPayload(change.Before)
		after, okAfter := entityPayload(change.After)
		if !okBefore || !okAfter {
			continue
		}
		if !sameParent(before.ParentID, after.ParentID) {
			res.Violations = append(res.Violations, provenanceViolation(after,
				fmt.Sprintf("entity %s parent link is immutable", after.ID)))
		}
		if before.Kind != after.Kind || before.BatchNumber != after.BatchNumber || before.OriginalQuantity != after.OriginalQuantity {
			res.Violations = append(res.Violations, provenanceViolation(after,
				fmt.Sprintf("entity %s identity fields are immutable", after.ID)))
		}
	}

	return res, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func provenanceViolation(e domain.Entity, message string) domain.Violation {
	return domain.Violation{
		Rule:     "provenance_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   e.Kind,
		EntityID: e.ID,
	}
}
