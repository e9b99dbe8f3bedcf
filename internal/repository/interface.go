package repository

import (
	"context"
	"errors"

	"workflow-ingest/backend/pkg/models"
)

// ErrNotFound is returned when a point read finds no row.
var ErrNotFound = errors.New("not found")

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// TokenStore is the read-only view of ingest tokens.
type TokenStore interface {
	// LookupToken returns the active token with the given SHA-256 digest.
	// Unknown and revoked tokens both yield ErrNotFound.
	LookupToken(ctx context.Context, tokenHash string) (*models.Token, error)
}

// TokenIssuer writes tokens. Production tokens come from the admin system;
// this is used by the seed command and tests.
type TokenIssuer interface {
	IssueToken(ctx context.Context, token *models.Token) error
	RevokeToken(ctx context.Context, tokenHash string) error
}

// WorkflowRegistry maps (namespace, name) to a stable workflow id.
type WorkflowRegistry interface {
	// ResolveOrCreate returns the id of the workflow, creating it on first
	// sight. Concurrent calls for the same pair return the same id.
	ResolveOrCreate(ctx context.Context, namespace, name string) (string, error)
	// GetWorkflow returns the workflow or ErrNotFound.
	GetWorkflow(ctx context.Context, namespace, name string) (*models.Workflow, error)
	// CountWorkflows counts rows for the pair; it is 0 or 1.
	CountWorkflows(ctx context.Context, namespace, name string) (int, error)
}

// RunRecorder appends execution runs.
type RunRecorder interface {
	// Record validates and inserts the run in a single statement and
	// returns the new run id.
	Record(ctx context.Context, run *models.Run) (int64, error)
	// GetRun returns the run or ErrNotFound.
	GetRun(ctx context.Context, id int64) (*models.Run, error)
	// CountRuns counts the runs recorded for a workflow.
	CountRuns(ctx context.Context, workflowID string) (int, error)
}

// Store is everything a storage backend provides.
type Store interface {
	TokenStore
	TokenIssuer
	WorkflowRegistry
	RunRecorder
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
}
