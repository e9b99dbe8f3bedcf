// Package cache puts a Redis read-through cache in front of the workflow
// registry. Workflow ids never change once assigned, so cached entries only
// expire to bound memory.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"workflow-ingest/backend/internal/repository"
	"workflow-ingest/backend/pkg/models"
)

// DefaultTTL is used when the registry is built with a zero TTL.
const DefaultTTL = 10 * time.Minute

var _ repository.WorkflowRegistry = (*Registry)(nil)

// Registry wraps a WorkflowRegistry. Redis failures are logged and the call
// falls through to the wrapped registry, so the cache never fails a request.
type Registry struct {
	next   repository.WorkflowRegistry
	client redis.Cmdable
	ttl    time.Duration
	logger repository.Logger
}

// NewRegistry creates a caching Registry. The caller owns the client.
func NewRegistry(next repository.WorkflowRegistry, client redis.Cmdable, ttl time.Duration, logger repository.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{next: next, client: client, ttl: ttl, logger: logger}
}

// Key returns the cache key for a workflow. Lengths are included so that
// namespaces or names containing ':' cannot collide.
func Key(namespace, name string) string {
	return fmt.Sprintf("wf:%d:%s:%s", len(namespace), namespace, name)
}

// ResolveOrCreate returns the cached id or resolves it through the wrapped
// registry and caches the result.
func (r *Registry) ResolveOrCreate(ctx context.Context, namespace, name string) (string, error) {
	normalized, err := models.NormalizeWorkflowName(name)
	if err != nil {
		return "", err
	}
	key := Key(namespace, normalized)

	id, err := r.client.Get(ctx, key).Result()
	switch {
	case err == nil && id != "":
		r.logger.Debug("Workflow cache hit", "namespace", namespace, "workflow_id", id)
		return id, nil
	case err != nil && !errors.Is(err, redis.Nil):
		r.logger.Error("Workflow cache read failed", "key", key, "error", err)
	}

	id, err = r.next.ResolveOrCreate(ctx, namespace, normalized)
	if err != nil {
		return "", err
	}

	if err := r.client.Set(ctx, key, id, r.ttl).Err(); err != nil {
		r.logger.Error("Workflow cache write failed", "key", key, "error", err)
	}
	return id, nil
}

// GetWorkflow is not cached.
func (r *Registry) GetWorkflow(ctx context.Context, namespace, name string) (*models.Workflow, error) {
	return r.next.GetWorkflow(ctx, namespace, name)
}

// CountWorkflows is not cached.
func (r *Registry) CountWorkflows(ctx context.Context, namespace, name string) (int, error) {
	return r.next.CountWorkflows(ctx, namespace, name)
}
