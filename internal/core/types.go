package core

import "trackcore/pkg/domain"

type (
	// Entity aliases domain.Entity for core operations.
	Entity = domain.Entity
	// LedgerEntry aliases domain.LedgerEntry.
	LedgerEntry = domain.LedgerEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// Rule aliases domain.Rule evaluated at commit.
	Rule = domain.Rule
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// RuleView aliases domain.RuleView providing read-only state.
	RuleView = domain.RuleView
	// Transaction aliases domain.Transaction representing a unit of work.
	Transaction = domain.Transaction
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
	// EntityKind aliases domain.EntityKind.
	EntityKind = domain.EntityKind
	// EntityStatus aliases domain.EntityStatus.
	EntityStatus = domain.EntityStatus
	// LabResult aliases domain.LabResult.
	LabResult = domain.LabResult
	// LedgerCause aliases domain.LedgerCause.
	LedgerCause = domain.LedgerCause
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(QuantityConservationRule())
	engine.Register(LifecycleTransitionRule())
	engine.Register(ProvenanceIntegrityRule())
	return engine
}
