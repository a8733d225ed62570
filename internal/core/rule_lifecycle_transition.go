package core

import (
	"context"
	"fmt"

	"trackcore/pkg/domain"
)

// LifecycleTransitionRule blocks illegal status transitions. Terminal
// statuses admit no exit, and a settled lab result never changes.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

var validStatuses = toSet(
	string(domain.StatusActive),
	string(domain.StatusConverted),
	string(domain.StatusDestroyed),
)

var validLabResults = toSet(
	"",
	string(domain.LabResultPending),
	string(domain.LabResultPassed),
	string(domain.LabResultFailed),
)

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		after, ok := entityPayload(change.After)
		if !ok {
			continue
		}
		if _, valid := validStatuses[string(after.Status)]; !valid {
			res.Violations = append(res.Violations, lifecycleViolation(after,
				fmt.Sprintf("entity %s is set to invalid status %s", after.ID, after.Status)))
			continue
		}
		if _, valid := validLabResults[string(after.LabResult)]; !valid {
			res.Violations = append(res.Violations, lifecycleViolation(after,
				fmt.Sprintf("entity %s is set to invalid lab result %s", after.ID, after.LabResult)))
			continue
		}

		before, ok := entityPayload(change.Before)
		if !ok {
			continue
		}
		if before.Status.Terminal() && after.Status != before.Status {
			res.Violations = append(res.Violations, lifecycleViolation(after,
				fmt.Sprintf("cannot move entity %s from terminal status %s to %s", before.ID, before.Status, after.Status)))
		}
		if (before.LabResult == domain.LabResultPassed || before.LabResult == domain.LabResultFailed) &&
			after.LabResult != before.LabResult {
			res.Violations = append(res.Violations, lifecycleViolation(after,
				fmt.Sprintf("cannot change settled lab result of entity %s from %s to %s", before.ID, before.LabResult, after.LabResult)))
		}
	}
	return res, nil
}

func lifecycleViolation(e domain.Entity, message string) domain.Violation {
	return domain.Violation{
		Rule:     "lifecycle_transition",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   e.Kind,
		EntityID: e.ID,
	}
}

func entityPayload(payload any) (domain.Entity, bool) {
	switch v := payload.(type) {
	case domain.Entity:
		return v, true
	case *domain.Entity:
		if v == nil {
			return domain.Entity{}, false
		}
		return *v, true
	default:
		return domain.Entity{}, false
	}
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
