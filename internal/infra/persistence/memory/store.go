// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trackcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the
// domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Entity aliases domain.Entity for in-memory persistence operations.
	Entity = domain.Entity
	// LedgerEntry aliases domain.LedgerEntry.
	LedgerEntry = domain.LedgerEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// RuleView aliases domain.RuleView providing read-only state.
	RuleView = domain.RuleView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	entities  map[string]Entity
	ledger    []LedgerEntry
	sequences map[string]int
	ledgerSeq uint64
}

// Snapshot captures a point-in-time clone of the store state, serializable
// for external persistence.
type Snapshot struct {
	Entities  map[string]Entity `json:"entities"`
	Ledger    []LedgerEntry     `json:"ledger"`
	Sequences map[string]int    `json:"sequences"`
	LedgerSeq uint64            `json:"ledger_seq"`
}

func newMemoryState() memoryState {
	return memoryState{
		entities:  make(map[string]Entity),
		sequences: make(map[string]int),
	}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		entities:  make(map[string]Entity, len(s.entities)),
		ledger:    make([]LedgerEntry, len(s.ledger)),
		sequences: make(map[string]int, len(s.sequences)),
		ledgerSeq: s.ledgerSeq,
	}
	for k, v := range s.entities {
		cloned.entities[k] = cloneEntity(v)
	}
	copy(cloned.ledger, s.ledger)
	for k, v := range s.sequences {
		cloned.sequences[k] = v
	}
	return cloned
}

func cloneEntity(e Entity) Entity {
	cp := e
	if e.ParentID != nil {
		id := *e.ParentID
		cp.ParentID = &id
	}
	if len(e.LabMetrics) != 0 {
		cp.LabMetrics = make(map[string]float64, len(e.LabMetrics))
		for k, v := range e.LabMetrics {
			cp.LabMetrics[k] = v
		}
	}
	return cp
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Entities:  make(map[string]Entity, len(state.entities)),
		Ledger:    make([]LedgerEntry, len(state.ledger)),
		Sequences: make(map[string]int, len(state.sequences)),
		LedgerSeq: state.ledgerSeq,
	}
	for k, v := range state.entities {
		s.Entities[k] = cloneEntity(v)
	}
	copy(s.Ledger, state.ledger)
	for k, v := range state.sequences {
		s.Sequences[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Entities {
		state.entities[k] = cloneEntity(v)
	}
	state.ledger = append(state.ledger, s.Ledger...)
	for k, v := range s.Sequences {
		state.sequences[k] = v
	}
	state.ledgerSeq = s.LedgerSeq
	// Older snapshots stored no explicit ledger sequence counter.
	for _, entry := range state.ledger {
		if entry.Seq > state.ledgerSeq {
			state.ledgerSeq = entry.Seq
		}
	}
	return state
}

// Store provides an in-memory transactional store for the tracking domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, primarily for deterministic tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type ruleView struct {
	state *memoryState
}

func newRuleView(state *memoryState) RuleView {
	return ruleView{state: state}
}

// ListEntities returns all entities within the snapshot.
func (v ruleView) ListEntities() []Entity {
	out := make([]Entity, 0, len(v.state.entities))
	for _, e := range v.state.entities {
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindEntity retrieves an entity by ID from the snapshot.
func (v ruleView) FindEntity(id string) (Entity, bool) {
	e, ok := v.state.entities[id]
	if !ok {
		return Entity{}, false
	}
	return cloneEntity(e), true
}

// ListChildren returns the entities whose parent is the given ID.
func (v ruleView) ListChildren(parentID string) []Entity {
	return childrenOf(v.state, parentID)
}

// LedgerEntries returns the debit history of one entity in append order.
func (v ruleView) LedgerEntries(entityID string) []LedgerEntry {
	return ledgerOf(v.state, entityID)
}

func childrenOf(state *memoryState, parentID string) []Entity {
	var out []Entity
	for _, e := range state.entities {
		if e.ParentID != nil && *e.ParentID == parentID {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func ledgerOf(state *memoryState, entityID string) []LedgerEntry {
	var out []LedgerEntry
	for _, entry := range state.ledger {
		if entry.EntityID == entityID {
			out = append(out, entry)
		}
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The rules engine evaluates the candidate state before it replaces
// the committed state; any error or blocking violation discards the copy.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newRuleView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(RuleView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newRuleView(&snapshot)
	return fn(view)
}

// GetEntity retrieves an entity from the committed state.
func (s *Store) GetEntity(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entities[id]
	if !ok {
		return Entity{}, false
	}
	return cloneEntity(e), true
}

// ListEntities returns all committed entities.
func (s *Store) ListEntities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := newRuleView(&s.state)
	return view.ListEntities()
}

// ListChildren returns the committed children of the given entity.
func (s *Store) ListChildren(parentID string) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return childrenOf(&s.state, parentID)
}

// LedgerEntries returns the committed debit history of one entity.
func (s *Store) LedgerEntries(entityID string) []LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledgerOf(&s.state, entityID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() RuleView {
	return newRuleView(&tx.state)
}

// Now returns the transaction timestamp. All records created or updated in
// one transaction share it.
func (tx *transaction) Now() time.Time {
	return tx.now
}

// CreateEntity stores a new entity within the transaction.
func (tx *transaction) CreateEntity(e Entity) (Entity, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.entities[e.ID]; exists {
		return Entity{}, fmt.Errorf("entity %q already exists", e.ID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.entities[e.ID] = cloneEntity(e)
	tx.recordChange(Change{Entity: e.Kind, Action: domain.ActionCreate, After: cloneEntity(e)})
	return cloneEntity(e), nil
}

// UpdateEntity mutates an entity using the provided mutator function.
func (tx *transaction) UpdateEntity(id string, mutator func(*Entity) error) (Entity, error) {
	current, ok := tx.state.entities[id]
	if !ok {
		return Entity{}, domain.NotFoundError{ID: id}
	}
	before := cloneEntity(current)
	if err := mutator(&current); err != nil {
		return Entity{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.entities[id] = cloneEntity(current)
	tx.recordChange(Change{Entity: current.Kind, Action: domain.ActionUpdate, Before: before, After: cloneEntity(current)})
	return cloneEntity(current), nil
}

// AppendLedgerEntry records an immutable quantity debit. The entry receives
// a monotonically increasing sequence number within the store.
func (tx *transaction) AppendLedgerEntry(entry LedgerEntry) (LedgerEntry, error) {
	if entry.EntityID == "" {
		return LedgerEntry{}, fmt.Errorf("ledger entry requires entity id")
	}
	if _, ok := tx.state.entities[entry.EntityID]; !ok {
		return LedgerEntry{}, domain.NotFoundError{ID: entry.EntityID}
	}
	if entry.ID == "" {
		entry.ID = tx.store.newID()
	}
	tx.state.ledgerSeq++
	entry.Seq = tx.state.ledgerSeq
	entry.RecordedAt = tx.now
	tx.state.ledger = append(tx.state.ledger, entry)
	kind := tx.state.entities[entry.EntityID].Kind
	tx.recordChange(Change{Entity: kind, Action: domain.ActionAppend, After: entry})
	return entry, nil
}

// NextBatchSequence atomically allocates the next per-kind-per-day counter
// used for human-readable batch numbers.
func (tx *transaction) NextBatchSequence(kind domain.EntityKind, day string) int {
	key := string(kind) + "|" + day
	tx.state.sequences[key]++
	return tx.state.sequences[key]
}

// FindEntity exposes entity lookup within the transaction scope.
func (tx *transaction) FindEntity(id string) (Entity, bool) {
	e, ok := tx.state.entities[id]
	if !ok {
		return Entity{}, false
	}
	return cloneEntity(e), true
}

// ListChildren exposes child lookup within the transaction scope.
func (tx *transaction) ListChildren(parentID string) []Entity {
	return childrenOf(&tx.state, parentID)
}

// LedgerEntries exposes ledger lookup within the transaction scope.
func (tx *transaction) LedgerEntries(entityID string) []LedgerEntry {
	return ledgerOf(&tx.state, entityID)
}
