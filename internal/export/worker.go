// Package export generates compliance reports asynchronously and archives
// them in blob storage. Reports are derived entirely from entity state and
// ledger history, so a regulator can re-request any report at any time.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trackcore/internal/blob"
	"trackcore/internal/core"
	"trackcore/pkg/domain"
)

// ReportKind identifies a compliance report template.
type ReportKind string

const (
	// ReportProvenance renders the full parent chain of one entity.
	ReportProvenance ReportKind = "provenance"
	// ReportLedger renders the debit history of one entity.
	ReportLedger ReportKind = "ledger"
	// ReportCounters renders the per-stage roll-up across the pipeline.
	ReportCounters ReportKind = "counters"
)

// Format identifies a report output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures one stored report file.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	Kind        ReportKind `json:"kind"`
	EntityID    string     `json:"entity_id,omitempty"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input represents an enqueue request for the worker.
type Input struct {
	Kind        ReportKind
	EntityID    string
	Filter      core.CounterFilter
	Formats     []Format
	RequestedBy string
	Reason      string
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Actor      string     `json:"actor"`
	Kind       ReportKind `json:"kind"`
	EntityID   string     `json:"entity_id,omitempty"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	Note       string     `json:"note,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Worker executes report exports asynchronously.
type Worker struct {
	service *core.Service
	store   blob.Store
	audit   AuditLogger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id    string
	input Input
}

// NewWorker constructs an export worker.
func NewWorker(service *core.Service, store blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		service: service,
		store:   store,
		audit:   audit,
		queue:   make(chan task, 32),
		jobs:    make(map[string]*Record),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules a report export and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	switch input.Kind {
	case ReportProvenance, ReportLedger:
		if strings.TrimSpace(input.EntityID) == "" {
			return Record{}, fmt.Errorf("%s report requires entity id", input.Kind)
		}
	case ReportCounters:
	default:
		return Record{}, fmt.Errorf("unknown report kind %s", input.Kind)
	}
	if strings.TrimSpace(input.RequestedBy) == "" {
		return Record{}, domain.MissingJustificationError{Field: "actor"}
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON}
	}
	seen := make(map[Format]struct{}, len(formats))
	uniq := make([]Format, 0, len(formats))
	for _, f := range formats {
		if f != FormatJSON && f != FormatCSV {
			return Record{}, fmt.Errorf("unsupported report format %s", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := Record{
		ID:          id,
		Kind:        input.Kind,
		EntityID:    input.EntityID,
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	w.recordAudit(ctx, id, StatusQueued, "")

	select {
	case w.queue <- task{id: id, input: input}:
	default:
		return Record{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.updateStatus(t.id, StatusRunning, "")

	report, err := w.buildReport(t.input)
	if err != nil {
		w.fail(t.id, err.Error())
		return
	}

	w.mu.RLock()
	record, ok := w.jobs[t.id]
	if !ok {
		w.mu.RUnlock()
		return
	}
	formats := append([]Format(nil), record.Formats...)
	w.mu.RUnlock()

	artifacts := make([]Artifact, 0, len(formats))
	for _, format := range formats {
		payload, contentType, err := render(report, format)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		key := fmt.Sprintf("reports/%s/%s.%s", t.input.Kind, t.id, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"kind": string(t.input.Kind), "requested_by": t.input.RequestedBy},
		})
		if err != nil {
			w.fail(t.id, fmt.Sprintf("store artifact: %v", err))
			return
		}
		artifacts = append(artifacts, Artifact{
			Key:         info.Key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   info.Size,
			URL:         info.URL,
			CreatedAt:   info.LastModified,
		})
	}
	w.complete(t.id, artifacts)
}

// report is the renderable form shared by all report kinds: a header map
// plus tabular rows with a fixed column order.
type report struct {
	Kind        ReportKind       `json:"kind"`
	GeneratedAt time.Time        `json:"generated_at"`
	Header      map[string]any   `json:"header,omitempty"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
}

func (w *Worker) buildReport(input Input) (report, error) {
	switch input.Kind {
	case ReportProvenance:
		return w.provenanceReport(input.EntityID)
	case ReportLedger:
		return w.ledgerReport(input.EntityID)
	case ReportCounters:
		return w.countersReport(input.Filter)
	default:
		return report{}, fmt.Errorf("unknown report kind %s", input.Kind)
	}
}

func (w *Worker) provenanceReport(entityID string) (report, error) {
	chain, err := w.service.Provenance(w.ctx, entityID)
	if err != nil {
		return report{}, err
	}
	rep := report{
		Kind:        ReportProvenance,
		GeneratedAt: time.Now().UTC(),
		Header:      map[string]any{"entity_id": entityID, "depth": len(chain)},
		Columns:     []string{"batch_number", "kind", "status", "unit", "original_quantity", "remaining_quantity", "source_amount"},
	}
	for _, e := range chain {
		rep.Rows = append(rep.Rows, map[string]any{
			"batch_number":       e.BatchNumber,
			"kind":               string(e.Kind),
			"status":             string(e.Status),
			"unit":               string(e.Unit),
			"original_quantity":  e.OriginalQuantity,
			"remaining_quantity": e.RemainingQuantity,
			"source_amount":      e.SourceAmount,
		})
	}
	return rep, nil
}

func (w *Worker) ledgerReport(entityID string) (report, error) {
	entries, err := w.service.History(w.ctx, entityID)
	if err != nil {
		return report{}, err
	}
	rep := report{
		Kind:        ReportLedger,
		GeneratedAt: time.Now().UTC(),
		Header:      map[string]any{"entity_id": entityID},
		Columns:     []string{"seq", "cause", "amount", "target_id", "actor_id", "reason", "recorded_at"},
	}
	for entry := range entries {
		rep.Rows = append(rep.Rows, map[string]any{
			"seq":         entry.Seq,
			"cause":       string(entry.Cause),
			"amount":      entry.Amount,
			"target_id":   entry.TargetID,
			"actor_id":    entry.ActorID,
			"reason":      entry.Reason,
			"recorded_at": entry.RecordedAt.Format(time.RFC3339),
		})
	}
	return rep, nil
}

func (w *Worker) countersReport(filter core.CounterFilter) (report, error) {
	snapshots, err := w.service.Counts(w.ctx, filter)
	if err != nil {
		return report{}, err
	}
	rep := report{
		Kind:        ReportCounters,
		GeneratedAt: time.Now().UTC(),
		Columns:     []string{"kind", "active_batches", "active_units", "converted_units", "destroyed_units", "active_weight", "destroyed_weight"},
	}
	for _, s := range snapshots {
		rep.Rows = append(rep.Rows, map[string]any{
			"kind":             string(s.Kind),
			"active_batches":   s.ActiveBatches,
			"active_units":     s.ActiveUnits,
			"converted_units":  s.ConvertedUnits,
			"destroyed_units":  s.DestroyedUnits,
			"active_weight":    s.ActiveWeight,
			"destroyed_weight": s.DestroyedWeight,
		})
	}
	return rep, nil
}

func render(rep report, format Format) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(rep.Columns); err != nil {
			return nil, "", err
		}
		for _, row := range rep.Rows {
			record := make([]string, len(rep.Columns))
			for i, column := range rep.Columns {
				record[i] = formatValue(row[column])
			}
			if err := writer.Write(record); err != nil {
				return nil, "", err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported report format %s", format)
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (w *Worker) updateStatus(id string, status Status, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, status, message)
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, StatusSucceeded, "")
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, StatusFailed, reason)
}

func (w *Worker) recordAudit(ctx context.Context, id string, status Status, note string) {
	if w.audit == nil {
		return
	}
	w.mu.RLock()
	var actor, reason, entityID string
	var kind ReportKind
	if record, ok := w.jobs[id]; ok {
		actor = record.RequestedBy
		reason = record.Reason
		entityID = record.EntityID
		kind = record.Kind
	}
	w.mu.RUnlock()
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     "compliance_export",
		Actor:      actor,
		Kind:       kind,
		EntityID:   entityID,
		Status:     status,
		Reason:     reason,
		Note:       note,
		OccurredAt: time.Now().UTC(),
	})
}

func (r Record) copy() Record {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	return dup
}

// MemoryAuditLog captures audit entries in-memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
