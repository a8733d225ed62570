// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics, persisting a versioned snapshot after every
// successful transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"trackcore/internal/infra/persistence/memory"
	"trackcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/trackcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory
// implementation for transactions. A revision column on the snapshot row
// detects concurrent writers sharing one database.
type Store struct {
	*memory.Store
	db       *sql.DB
	mu       sync.Mutex
	revision int64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN). It ensures the snapshot table exists and hydrates the
// in-memory store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, revision, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, revision: revision}, nil
}

// RunInTransaction applies fn within a transaction, then snapshots to
// Postgres if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS track_state (
		id INT PRIMARY KEY,
		revision BIGINT NOT NULL,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, int64, error) {
	var payload []byte
	var revision int64
	err := db.QueryRowContext(ctx, `SELECT revision, payload FROM track_state WHERE id = 1`).Scan(&revision, &payload)
	if err == sql.ErrNoRows {
		return memory.Snapshot{}, 0, nil
	}
	if err != nil {
		return memory.Snapshot{}, 0, fmt.Errorf("select state: %w", err)
	}
	var snapshot memory.Snapshot
	if len(payload) != 0 {
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return memory.Snapshot{}, 0, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	return snapshot, revision, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	next := s.revision + 1
	res, err := s.db.ExecContext(ctx, `INSERT INTO track_state(id, revision, payload) VALUES(1, $1, $2)
		ON CONFLICT(id) DO UPDATE SET revision = EXCLUDED.revision, payload = EXCLUDED.payload
		WHERE track_state.revision = $3`, next, data, s.revision)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// The race is lost: the in-memory commit never reached the
		// database. Resynchronize to the stored snapshot so the caller
		// can retry against the winner's state.
		if stored, rev, lerr := loadSnapshot(ctx, s.db); lerr == nil {
			s.ImportState(stored)
			s.revision = rev
		}
		return domain.ConcurrentModificationError{Detail: "snapshot revision advanced by another writer"}
	}
	s.revision = next
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
