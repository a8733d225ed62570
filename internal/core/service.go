package core

import (
	"context"
	"iter"
	"sort"
	"strings"

	"trackcore/pkg/domain"
)

// Service exposes the transactional operations of the tracking core. Every
// mutation runs through the store's transaction scope so the rules engine
// evaluates the full state at commit.
type Service struct {
	store   PersistentStore
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLogger installs a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock installs a clock, primarily for deterministic tests.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(rec MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		clock:   systemClock{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// observe wraps one operation with tracing, metrics, and error logging.
func (s *Service) observe(ctx context.Context, operation string, fields map[string]any, fn func(context.Context) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	err := fn(ctx)
	s.metrics.Observe(ctx, operation, err == nil, s.clock.Now().Sub(start))
	span.End(err)
	if err != nil {
		s.logger.Error(ctx, operation, err, fields)
	} else {
		s.logger.Info(ctx, operation, fields)
	}
	return err
}

// CreateSeedLotInput describes a new root of a provenance chain.
type CreateSeedLotInput struct {
	Quantity int64
	ActorID  string
	RoomID   string
	Notes    string
}

// CreateSeedLot registers a purchased seed lot. Seed lots are the only
// entities created without a parent.
func (s *Service) CreateSeedLot(ctx context.Context, in CreateSeedLotInput) (domain.Entity, domain.Result, error) {
	var created domain.Entity
	var res domain.Result
	err := s.observe(ctx, "create_seed_lot", map[string]any{"actor": in.ActorID}, func(ctx context.Context) error {
		if in.Quantity <= 0 {
			return domain.InvalidAmountError{Amount: in.Quantity, Detail: "seed lot quantity must be positive"}
		}
		if strings.TrimSpace(in.ActorID) == "" {
			return domain.MissingJustificationError{Field: "actor"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateEntity(domain.Entity{
				Kind:              domain.KindSeedLot,
				BatchNumber:       nextBatchNumber(tx, domain.KindSeedLot),
				Unit:              domain.UnitCount,
				OriginalQuantity:  in.Quantity,
				RemainingQuantity: in.Quantity,
				Status:            domain.StatusActive,
				ActorID:           in.ActorID,
				RoomID:            in.RoomID,
				Notes:             in.Notes,
			})
			return err
		})
		return err
	})
	return created, res, err
}

// Convert moves quantity from a source entity into a newly created child
// entity of the destination kind. When the destination is the source batch's
// individual-unit kind, the conversion expands into Amount records of
// quantity 1 and the returned slice holds all of them.
func (s *Service) Convert(ctx context.Context, in ConvertInput) ([]domain.Entity, domain.Result, error) {
	var created []domain.Entity
	var res domain.Result
	err := s.observe(ctx, "convert", map[string]any{"source": in.SourceID, "dest_kind": string(in.DestKind)}, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = convertInTx(tx, in)
			return err
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	return created, res, nil
}

// ConvertToUnits expands count units out of a batch. It is Convert with the
// destination kind resolved from the batch's kind.
func (s *Service) ConvertToUnits(ctx context.Context, sourceID string, count int64, actorID, roomID, notes string) ([]domain.Entity, domain.Result, error) {
	source, ok := s.store.GetEntity(sourceID)
	if !ok {
		return nil, domain.Result{}, domain.NotFoundError{ID: sourceID}
	}
	unit, ok := UnitKind(source.Kind)
	if !ok {
		return nil, domain.Result{}, domain.IllegalTransitionError{SourceKind: source.Kind, DestKind: source.Kind}
	}
	return s.Convert(ctx, ConvertInput{
		SourceID: sourceID,
		DestKind: unit,
		Amount:   count,
		ActorID:  actorID,
		RoomID:   roomID,
		Notes:    notes,
	})
}

// DestroyQuantity removes quantity from a single entity. Actor and reason
// are mandatory.
func (s *Service) DestroyQuantity(ctx context.Context, in DestroyInput) (domain.Result, error) {
	var res domain.Result
	err := s.observe(ctx, "destroy_quantity", map[string]any{"entity": in.EntityID, "actor": in.ActorID}, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return destroyInTx(tx, in)
		})
		return err
	})
	return res, err
}

// DestroyUnits destroys each listed unit in its own transaction and reports
// per-unit outcomes. A failing unit never rolls back the ones already
// destroyed; callers inspect the outcomes for partial success.
func (s *Service) DestroyUnits(ctx context.Context, entityIDs []string, actorID, reason string) ([]UnitDestructionOutcome, error) {
	if err := validateJustification(actorID, reason); err != nil {
		return nil, err
	}
	outcomes := make([]UnitDestructionOutcome, 0, len(entityIDs))
	_ = s.observe(ctx, "destroy_units", map[string]any{"count": len(entityIDs), "actor": actorID}, func(ctx context.Context) error {
		var firstErr error
		for _, id := range entityIDs {
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				return destroyInTx(tx, DestroyInput{
					EntityID: id,
					All:      true,
					ActorID:  actorID,
					Reason:   reason,
				})
			})
			outcomes = append(outcomes, UnitDestructionOutcome{EntityID: id, Err: err})
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return outcomes, nil
}

// Package splits a passed lab test batch into UnitCount packaging unit
// records of GramsPerUnit grams each. The batch is debited once for the
// full packaged weight, so the split is atomic.
func (s *Service) Package(ctx context.Context, in PackageInput) ([]domain.Entity, domain.Result, error) {
	var units []domain.Entity
	var res domain.Result
	err := s.observe(ctx, "package", map[string]any{"source": in.SourceID, "units": in.UnitCount}, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			units, err = packageInTx(tx, in)
			return err
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	return units, res, nil
}

// SetLabResult settles the test outcome on a lab test batch. A pending
// result may move to passed or failed exactly once; metrics are attached
// alongside the result.
func (s *Service) SetLabResult(ctx context.Context, entityID string, result domain.LabResult, metrics map[string]float64, actorID string) (domain.Entity, domain.Result, error) {
	var updated domain.Entity
	var res domain.Result
	err := s.observe(ctx, "set_lab_result", map[string]any{"entity": entityID, "result": string(result)}, func(ctx context.Context) error {
		if result != domain.LabResultPassed && result != domain.LabResultFailed {
			return domain.InvalidAmountError{Detail: "lab result must settle to passed or failed"}
		}
		if strings.TrimSpace(actorID) == "" {
			return domain.MissingJustificationError{Field: "actor"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			entity, ok := tx.FindEntity(entityID)
			if !ok {
				return domain.NotFoundError{ID: entityID}
			}
			if entity.Kind != domain.KindLabTestBatch {
				return domain.IllegalTransitionError{SourceKind: entity.Kind, DestKind: entity.Kind}
			}
			if entity.Status != domain.StatusActive {
				return domain.IllegalTransitionError{SourceKind: entity.Kind, DestKind: entity.Kind, Status: entity.Status}
			}
			updated, err = tx.UpdateEntity(entityID, func(e *domain.Entity) error {
				e.LabResult = result
				if len(metrics) > 0 {
					e.LabMetrics = make(map[string]float64, len(metrics))
					for k, v := range metrics {
						e.LabMetrics[k] = v
					}
				}
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// GetEntity fetches one entity by ID.
func (s *Service) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	entity, ok := s.store.GetEntity(id)
	if !ok {
		return domain.Entity{}, domain.NotFoundError{ID: id}
	}
	return entity, nil
}

// EntityFilter narrows a listing. Zero values match everything.
type EntityFilter struct {
	Kind     domain.EntityKind
	Status   domain.EntityStatus
	ParentID string
	RoomID   string
	ActorID  string
}

func (f EntityFilter) matches(e domain.Entity) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ParentID != "" && (e.ParentID == nil || *e.ParentID != f.ParentID) {
		return false
	}
	if f.RoomID != "" && e.RoomID != f.RoomID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	return true
}

// ListEntities returns entities matching the filter, ordered by creation
// time then ID for stable pagination.
func (s *Service) ListEntities(ctx context.Context, filter EntityFilter) ([]domain.Entity, error) {
	var out []domain.Entity
	err := s.store.View(ctx, func(view RuleView) error {
		for _, entity := range view.ListEntities() {
			if filter.matches(entity) {
				out = append(out, entity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Counts rolls up per-kind counters over the filtered entity set. The
// figures are derived from entity state and ledger history on every call;
// nothing is cached.
func (s *Service) Counts(ctx context.Context, filter CounterFilter) ([]CounterSnapshot, error) {
	var out []CounterSnapshot
	err := s.store.View(ctx, func(view RuleView) error {
		for _, kind := range domain.Kinds() {
			out = append(out, countsFromView(view, kind, filter))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountsForKind rolls up counters for a single kind.
func (s *Service) CountsForKind(ctx context.Context, kind domain.EntityKind, filter CounterFilter) (CounterSnapshot, error) {
	var out CounterSnapshot
	err := s.store.View(ctx, func(view RuleView) error {
		out = countsFromView(view, kind, filter)
		return nil
	})
	return out, err
}

// History returns the entity's ledger entries as a lazy sequence ordered
// oldest first.
func (s *Service) History(ctx context.Context, entityID string) (iter.Seq[domain.LedgerEntry], error) {
	return History(s.store, entityID)
}

// Remaining returns the entity's available quantity.
func (s *Service) Remaining(ctx context.Context, entityID string) (int64, error) {
	return Remaining(s.store, entityID)
}

// Provenance walks the parent chain from the entity to its root seed lot.
// The returned slice starts at the entity itself and ends at the root.
func (s *Service) Provenance(ctx context.Context, entityID string) ([]domain.Entity, error) {
	var chain []domain.Entity
	err := s.store.View(ctx, func(view RuleView) error {
		current, ok := view.FindEntity(entityID)
		if !ok {
			return domain.NotFoundError{ID: entityID}
		}
		seen := map[string]bool{}
		for {
			if seen[current.ID] {
				return domain.InvariantViolationError{EntityID: current.ID, Detail: "provenance cycle detected"}
			}
			seen[current.ID] = true
			chain = append(chain, current)
			if current.ParentID == nil || *current.ParentID == "" {
				return nil
			}
			parent, ok := view.FindEntity(*current.ParentID)
			if !ok {
				return domain.InvariantViolationError{EntityID: current.ID, Detail: "provenance chain references missing parent"}
			}
			current = parent
		}
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// Descendants lists the entity's direct children ordered by creation time.
func (s *Service) Descendants(ctx context.Context, entityID string) ([]domain.Entity, error) {
	if _, ok := s.store.GetEntity(entityID); !ok {
		return nil, domain.NotFoundError{ID: entityID}
	}
	children := s.store.ListChildren(entityID)
	sort.Slice(children, func(i, j int) bool {
		if children[i].CreatedAt.Equal(children[j].CreatedAt) {
			return children[i].ID < children[j].ID
		}
		return children[i].CreatedAt.Before(children[j].CreatedAt)
	})
	return children, nil
}
