// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by trackcore.
package domain

import "time"

// EntityKind identifies a stage in the cultivation pipeline.
type EntityKind string

// Supported entity kinds, ordered roughly seed-to-package. Batch kinds group
// material created together; unit kinds are individual records of quantity 1
// expanded out of a batch.
const (
	// KindSeedLot identifies a purchased lot of seeds, the root of every provenance chain.
	KindSeedLot EntityKind = "seed_lot"
	// KindMotherBatch identifies a batch of plants raised as cutting donors.
	KindMotherBatch EntityKind = "mother_batch"
	// KindMotherPlant identifies an individual mother plant expanded from a mother batch.
	KindMotherPlant EntityKind = "mother_plant"
	// KindCuttingBatch identifies a batch of cuttings taken from a mother plant.
	KindCuttingBatch EntityKind = "cutting_batch"
	// KindCutting identifies an individual cutting expanded from a cutting batch.
	KindCutting EntityKind = "cutting"
	// KindBloomingCuttingBatch identifies cuttings moved into the flowering stage.
	KindBloomingCuttingBatch EntityKind = "blooming_cutting_batch"
	// KindFloweringBatch identifies plants grown to flower directly from seed.
	KindFloweringBatch EntityKind = "flowering_batch"
	// KindPlant identifies an individual flowering plant expanded from a batch.
	KindPlant EntityKind = "plant"
	// KindHarvest identifies the fresh weight cut from flowering plants.
	KindHarvest EntityKind = "harvest"
	// KindDryingBatch identifies harvested material in the drying stage.
	KindDryingBatch EntityKind = "drying_batch"
	// KindProcessingBatch identifies dried material being trimmed and processed.
	KindProcessingBatch EntityKind = "processing_batch"
	// KindLabTestBatch identifies processed material submitted for lab testing.
	KindLabTestBatch EntityKind = "lab_test_batch"
	// KindPackagingUnit identifies one packaged end-product unit, the terminal
	// stage. A packaging run creates one record per unit, each holding its
	// per-unit weight in grams.
	KindPackagingUnit EntityKind = "packaging_unit"
)

// Kinds returns every entity kind in pipeline order.
func Kinds() []EntityKind {
	return []EntityKind{
		KindSeedLot, KindMotherBatch, KindMotherPlant, KindCuttingBatch,
		KindCutting, KindBloomingCuttingBatch, KindFloweringBatch, KindPlant,
		KindHarvest, KindDryingBatch, KindProcessingBatch, KindLabTestBatch,
		KindPackagingUnit,
	}
}

// QuantityUnit is the unit an entity's quantity is measured in.
type QuantityUnit string

// Plant-stage entities are counted; harvest-stage entities are weighed in
// whole grams. Integer quantities keep the conservation arithmetic exact.
const (
	UnitCount QuantityUnit = "count"
	UnitGrams QuantityUnit = "grams"
)

// Unit returns the quantity unit for the kind.
func (k EntityKind) Unit() QuantityUnit {
	switch k {
	case KindHarvest, KindDryingBatch, KindProcessingBatch, KindLabTestBatch, KindPackagingUnit:
		return UnitGrams
	default:
		return UnitCount
	}
}

// Valid reports whether the kind is part of the pipeline.
func (k EntityKind) Valid() bool {
	switch k {
	case KindSeedLot, KindMotherBatch, KindMotherPlant, KindCuttingBatch,
		KindCutting, KindBloomingCuttingBatch, KindFloweringBatch, KindPlant,
		KindHarvest, KindDryingBatch, KindProcessingBatch, KindLabTestBatch,
		KindPackagingUnit:
		return true
	}
	return false
}

// EntityStatus represents the lifecycle status of an entity.
type EntityStatus string

// Lifecycle statuses. Converted and destroyed are terminal; nothing ever
// returns to active.
const (
	// StatusActive indicates the entity still has quantity available.
	StatusActive EntityStatus = "active"
	// StatusConverted indicates the full quantity moved into child entities.
	StatusConverted EntityStatus = "converted"
	// StatusDestroyed indicates the remainder was destroyed. Destruction is a
	// status, never a row deletion, so the audit trail stays intact.
	StatusDestroyed EntityStatus = "destroyed"
)

// Terminal reports whether the status admits no further mutation.
func (s EntityStatus) Terminal() bool {
	return s == StatusConverted || s == StatusDestroyed
}

// LabResult is the test outcome layered onto an active lab test batch.
type LabResult string

// Lab results. Only a passed batch may be packaged.
const (
	LabResultPending LabResult = "pending"
	LabResultPassed  LabResult = "passed"
	LabResultFailed  LabResult = "failed"
)

// LedgerCause tags why quantity left an entity.
type LedgerCause string

// Ledger debit causes.
const (
	CauseConverted LedgerCause = "converted"
	CauseDestroyed LedgerCause = "destroyed"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity is a batch or individual unit of plant material. Provenance fields
// are immutable after creation; only RemainingQuantity, Status, LabResult,
// and LabMetrics mutate post-creation.
type Entity struct {
	Base
	Kind        EntityKind   `json:"kind"`
	BatchNumber string       `json:"batch_number"`
	ParentID    *string      `json:"parent_id"`
	Unit        QuantityUnit `json:"unit"`
	// OriginalQuantity is fixed at creation. RemainingQuantity is always
	// OriginalQuantity minus the sum of ledger debits.
	OriginalQuantity  int64 `json:"original_quantity"`
	RemainingQuantity int64 `json:"remaining_quantity"`
	// SourceAmount is the quantity debited from the parent to create this
	// entity, in the parent's unit. For a drying batch this is the fresh
	// weight taken in, while OriginalQuantity records the declared dry weight.
	SourceAmount int64              `json:"source_amount"`
	Status       EntityStatus       `json:"status"`
	LabResult    LabResult          `json:"lab_result,omitempty"`
	LabMetrics   map[string]float64 `json:"lab_metrics,omitempty"`
	ActorID      string             `json:"actor_id"`
	RoomID       string             `json:"room_id"`
	Notes        string             `json:"notes,omitempty"`
}

// LedgerEntry is one immutable quantity debit. Entries are append-only; no
// entry is ever edited or removed.
type LedgerEntry struct {
	ID         string      `json:"id"`
	Seq        uint64      `json:"seq"`
	EntityID   string      `json:"entity_id"`
	Cause      LedgerCause `json:"cause"`
	Amount     int64       `json:"amount"`
	TargetID   string      `json:"target_id,omitempty"`
	ActorID    string      `json:"actor_id"`
	Reason     string      `json:"reason,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityKind
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured for rule evaluation and audit.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionAppend indicates a ledger entry was appended.
	ActionAppend Action = "append"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityKind
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
