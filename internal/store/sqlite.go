package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/approval-watcher/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// callRow is the database shape of model.ExternalCall.
type callRow struct {
	ID         string    `db:"id"`
	RequestID  string    `db:"request_id"`
	URL        string    `db:"url"`
	Method     string    `db:"method"`
	StatusCode int       `db:"status_code"`
	Outcome    string    `db:"outcome"`
	Error      string    `db:"error"`
	DurationMS int64     `db:"duration_ms"`
	StartedAt  time.Time `db:"started_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r callRow) toModel() model.ExternalCall {
	return model.ExternalCall{
		ID:         r.ID,
		RequestID:  r.RequestID,
		URL:        r.URL,
		Method:     r.Method,
		StatusCode: r.StatusCode,
		Outcome:    r.Outcome,
		Error:      r.Error,
		Duration:   time.Duration(r.DurationMS) * time.Millisecond,
		StartedAt:  r.StartedAt,
	}
}

// RecordCall inserts a call or updates the row with the same ID.
// If the call has no ID, a new UUID is generated.
func (s *SQLiteStore) RecordCall(ctx context.Context, call model.ExternalCall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_calls (
			id, request_id, url, method, status_code, outcome, error,
			duration_ms, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status_code = excluded.status_code,
			outcome     = excluded.outcome,
			error       = excluded.error,
			duration_ms = excluded.duration_ms,
			updated_at  = excluded.updated_at`,
		call.ID, call.RequestID, call.URL, call.Method, call.StatusCode,
		call.Outcome, call.Error, call.Duration.Milliseconds(),
		call.StartedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording call %s: %w", call.ID, err)
	}

	return nil
}

// RecentCalls retrieves the newest calls, up to limit.
func (s *SQLiteStore) RecentCalls(ctx context.Context, limit int) ([]model.ExternalCall, error) {
	if limit < 1 {
		limit = 50
	}

	var rows []callRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM external_calls ORDER BY started_at DESC, updated_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent calls: %w", err)
	}

	return toModels(rows), nil
}

// CallsForRequest retrieves all calls for a request id, oldest first.
func (s *SQLiteStore) CallsForRequest(
	ctx context.Context,
	requestID string,
) ([]model.ExternalCall, error) {
	var rows []callRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM external_calls WHERE request_id = ? ORDER BY started_at",
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying calls for request %s: %w", requestID, err)
	}

	return toModels(rows), nil
}

func toModels(rows []callRow) []model.ExternalCall {
	calls := make([]model.ExternalCall, 0, len(rows))
	for _, r := range rows {
		calls = append(calls, r.toModel())
	}
	return calls
}
