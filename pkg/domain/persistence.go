package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence
// implementation must support within an atomic scope. There is no delete:
// destroyed entities keep their rows so provenance stays walkable.
type Transaction interface {
	Snapshot() RuleView
	Now() time.Time
	CreateEntity(Entity) (Entity, error)
	UpdateEntity(id string, mutator func(*Entity) error) (Entity, error)
	AppendLedgerEntry(LedgerEntry) (LedgerEntry, error)
	// NextBatchSequence atomically allocates the next per-kind-per-day
	// counter used for human-readable batch numbers.
	NextBatchSequence(kind EntityKind, day string) int
	FindEntity(id string) (Entity, bool)
	ListChildren(parentID string) []Entity
	LedgerEntries(entityID string) []LedgerEntry
}

// PersistentStore is a minimal abstraction over durable backends. Entity
// status, remaining quantity, and the full ledger history survive process
// restarts and are queryable by entity ID and by parent ID.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(RuleView) error) error
	GetEntity(id string) (Entity, bool)
	ListEntities() []Entity
	ListChildren(parentID string) []Entity
	LedgerEntries(entityID string) []LedgerEntry
}
