package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"workflow-ingest/backend/pkg/models"
)

// migrationLockKey serializes migrations across instances.
const migrationLockKey = 7_413_902_211

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a PostgreSQL implementation of Store.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger Logger
}

// NewPostgresStore creates a new PostgresStore. The caller owns the pool.
func NewPostgresStore(db *pgxpool.Pool, logger Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Migrate applies pending schema migrations. Each version runs in its own
// transaction under an advisory lock, so concurrent instances are safe.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *PostgresStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(migrationLockKey)); err != nil {
		return fmt.Errorf("migration %d: lock: %w", m.version, err)
	}

	var applied bool
	err = tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.version).Scan(&applied)
	if err != nil {
		return fmt.Errorf("migration %d: check: %w", m.version, err)
	}
	if applied {
		return nil
	}

	s.logger.Info("Applying migration", "version", m.version, "name", m.name)
	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("migration %d: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.version, err)
	}
	return tx.Commit(ctx)
}

// LookupToken retrieves an active token by its digest.
func (s *PostgresStore) LookupToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	var t models.Token
	err := s.db.QueryRow(ctx,
		"SELECT token_hash, namespace, name, is_active, created_at FROM ingest_tokens WHERE token_hash = $1 AND is_active = TRUE",
		tokenHash,
	).Scan(&t.TokenHash, &t.Namespace, &t.Name, &t.Active, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	return &t, nil
}

// IssueToken stores a new active token.
func (s *PostgresStore) IssueToken(ctx context.Context, token *models.Token) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO ingest_tokens (token_hash, namespace, name, is_active) VALUES ($1, $2, $3, TRUE) RETURNING created_at",
		token.TokenHash, token.Namespace, token.Name,
	).Scan(&token.CreatedAt)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	token.Active = true
	return nil
}

// RevokeToken marks a token inactive.
func (s *PostgresStore) RevokeToken(ctx context.Context, tokenHash string) error {
	tag, err := s.db.Exec(ctx, "UPDATE ingest_tokens SET is_active = FALSE WHERE token_hash = $1", tokenHash)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveOrCreate returns the workflow id for (namespace, name). A missing
// row is created with INSERT ... ON CONFLICT DO NOTHING, so racing callers
// all end up reading the single row that won.
func (s *PostgresStore) ResolveOrCreate(ctx context.Context, namespace, name string) (string, error) {
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

	err = s.db.QueryRow(ctx,
		`INSERT INTO workflows (id, namespace, name, active) VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (namespace, name) DO NOTHING
		RETURNING id`,
		uuid.NewString(), namespace, name,
	).Scan(&id)
	switch {
	case err == nil:
		s.logger.Debug("Created workflow", "namespace", namespace, "name", name, "id", id)
		return id, nil
	case errors.Is(err, pgx.ErrNoRows):
		// lost the race; the winner's row is committed
		return s.workflowID(ctx, namespace, name)
	default:
		return "", fmt.Errorf("insert workflow: %w", classifyPgError(err))
	}
}

func (s *PostgresStore) workflowID(ctx context.Context, namespace, name string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		"SELECT id FROM workflows WHERE namespace = $1 AND name = $2",
		namespace, name,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select workflow: %w", err)
	}
	return id, nil
}

// GetWorkflow retrieves a workflow by namespace and name.
func (s *PostgresStore) GetWorkflow(ctx context.Context, namespace, name string) (*models.Workflow, error) {
	name, err := models.NormalizeWorkflowName(name)
	if err != nil {
		return nil, ErrNotFound
	}

	var w models.Workflow
	err = s.db.QueryRow(ctx,
		"SELECT id, namespace, name, active, created_at FROM workflows WHERE namespace = $1 AND name = $2",
		namespace, name,
	).Scan(&w.ID, &w.Namespace, &w.Name, &w.Active, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &w, nil
}

// CountWorkflows counts workflow rows for the pair.
func (s *PostgresStore) CountWorkflows(ctx context.Context, namespace, name string) (int, error) {
	name, err := models.NormalizeWorkflowName(name)
	if err != nil {
		return 0, nil
	}

	var n int
	err = s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM workflows WHERE namespace = $1 AND name = $2",
		namespace, name,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return n, nil
}

// Record inserts a run. Nothing is written when validation fails.
func (s *PostgresStore) Record(ctx context.Context, run *models.Run) (int64, error) {
	metadata, err := prepareRun(run)
	if err != nil {
		return 0, err
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO workflow_runs (
			namespace, workflow_id, status, started_at, ended_at, duration_ms,
			error_message, external_run_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		run.Namespace, run.WorkflowID, string(run.Status), run.StartedAt, run.EndedAt, run.DurationMS,
		run.ErrorMessage, run.ExternalRunID, metadata,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", classifyPgError(err))
	}
	return run.ID, nil
}

// classifyPgError maps input-encoding rejections to validation errors so
// they are not mistaken for an outage.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22021", "22P05": // character_not_in_repertoire, untranslatable_character
			return fmt.Errorf("%w: %s", models.ErrNULCharacter, pgErr.Message)
		}
	}
	return err
}

// GetRun retrieves a run by id.
func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	var (
		r        models.Run
		status   string
		metadata []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, namespace, workflow_id, status, started_at, ended_at, duration_ms,
			error_message, external_run_id, metadata, created_at
		FROM workflow_runs WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.Namespace, &r.WorkflowID, &status, &r.StartedAt, &r.EndedAt, &r.DurationMS,
		&r.ErrorMessage, &r.ExternalRunID, &metadata, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if r.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRuns counts runs for a workflow.
func (s *PostgresStore) CountRuns(ctx context.Context, workflowID string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM workflow_runs WHERE workflow_id = $1", workflowID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}
