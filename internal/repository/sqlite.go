package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"workflow-ingest/backend/pkg/models"
)

// sqliteTime is how timestamps are stored in TEXT columns. It sorts
// lexically in UTC.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a SQLite implementation of Store for local development and
// single-node deployments. Uniqueness relies on the same (namespace, name)
// constraint as the Postgres schema.
type SQLiteStore struct {
	db     *sql.DB
	logger Logger
}

// OpenSQLite opens a SQLite database at path with foreign keys and a busy
// timeout enabled. Writes are funnelled through one connection.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore creates a new SQLiteStore. The caller owns db.
func NewSQLiteStore(db *sql.DB, logger Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&n); err != nil {
		return fmt.Errorf("migration %d: check: %w", m.version, err)
	}
	if n > 0 {
		return nil
	}

	s.logger.Info("Applying migration", "version", m.version, "name", m.name)
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("migration %d: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.version, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.version, err)
	}
	return tx.Commit()
}

// LookupToken retrieves an active token by its digest.
func (s *SQLiteStore) LookupToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	var (
		t       models.Token
		created string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT token_hash, namespace, name, is_active, created_at FROM ingest_tokens WHERE token_hash = ? AND is_active = 1",
		tokenHash,
	).Scan(&t.TokenHash, &t.Namespace, &t.Name, &t.Active, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &t, nil
}

// IssueToken stores a new active token.
func (s *SQLiteStore) IssueToken(ctx context.Context, token *models.Token) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ingest_tokens (token_hash, namespace, name, is_active, created_at) VALUES (?, ?, ?, 1, ?)",
		token.TokenHash, token.Namespace, token.Name, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	token.Active = true
	token.CreatedAt = now
	return nil
}

// RevokeToken marks a token inactive.
func (s *SQLiteStore) RevokeToken(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE ingest_tokens SET is_active = 0 WHERE token_hash = ?", tokenHash)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveOrCreate returns the workflow id for (namespace, name), creating
// the row with INSERT ... ON CONFLICT DO NOTHING when it is missing.
func (s *SQLiteStore) ResolveOrCreate(ctx context.Context, namespace, name string) (string, error) {
	name, err := models.NormalizeWorkflowName(name)
	if err != nil {
		return "", err
	}

	id, err := s.workflowID(ctx, namespace, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO workflows (id, namespace, name, active, created_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (namespace, name) DO NOTHING
		RETURNING id`,
		uuid.NewString(), namespace, name, formatTime(time.Now()),
	).Scan(&id)
	switch {
	case err == nil:
		s.logger.Debug("Created workflow", "namespace", namespace, "name", name, "id", id)
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		return s.workflowID(ctx, namespace, name)
	default:
		return "", fmt.Errorf("insert workflow: %w", err)
	}
}

func (s *SQLiteStore) workflowID(ctx context.Context, namespace, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM workflows WHERE namespace = ? AND name = ?",
		namespace, name,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select workflow: %w", err)
	}
	return id, nil
}

// GetWorkflow retrieves a workflow by namespace and name.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, namespace, name string) (*models.Workflow, error) {
	name, err := models.NormalizeWorkflowName(name)
	if err != nil {
		return nil, ErrNotFound
	}

	var (
		w       models.Workflow
		created string
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT id, namespace, name, active, created_at FROM workflows WHERE namespace = ? AND name = ?",
		namespace, name,
	).Scan(&w.ID, &w.Namespace, &w.Name, &w.Active, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if w.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &w, nil
}

// CountWorkflows counts workflow rows for the pair.
func (s *SQLiteStore) CountWorkflows(ctx context.Context, namespace, name string) (int, error) {
	name, err := models.NormalizeWorkflowName(name)
	if err != nil {
		return 0, nil
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflows WHERE namespace = ? AND name = ?",
		namespace, name,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return n, nil
}

// Record inserts a run. Nothing is written when validation fails.
func (s *SQLiteStore) Record(ctx context.Context, run *models.Run) (int64, error) {
	metadata, err := prepareRun(run)
	if err != nil {
		return 0, err
	}

	var ended sql.NullString
	if run.EndedAt != nil {
		ended = sql.NullString{String: formatTime(*run.EndedAt), Valid: true}
	}
	now := time.Now().UTC()

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO workflow_runs (
			namespace, workflow_id, status, started_at, ended_at, duration_ms,
			error_message, external_run_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		run.Namespace, run.WorkflowID, string(run.Status), formatTime(run.StartedAt), ended, run.DurationMS,
		run.ErrorMessage, run.ExternalRunID, string(metadata), formatTime(now),
	).Scan(&run.ID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	run.CreatedAt = now
	return run.ID, nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	var (
		r                  models.Run
		status, metadata   string
		started, created   string
		ended              sql.NullString
		duration           sql.NullInt64
		errMsg, externalID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, namespace, workflow_id, status, started_at, ended_at, duration_ms,
			error_message, external_run_id, metadata, created_at
		FROM workflow_runs WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.Namespace, &r.WorkflowID, &status, &started, &ended, &duration,
		&errMsg, &externalID, &metadata, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.Status = models.RunStatus(status)
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if ended.Valid {
		t, err := parseTime(ended.String)
		if err != nil {
			return nil, err
		}
		r.EndedAt = &t
	}
	if duration.Valid {
		r.DurationMS = &duration.Int64
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	if externalID.Valid {
		r.ExternalRunID = &externalID.String
	}
	if r.Metadata, err = decodeMetadata([]byte(metadata)); err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRuns counts runs for a workflow.
func (s *SQLiteStore) CountRuns(ctx context.Context, workflowID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_runs WHERE workflow_id = ?", workflowID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
