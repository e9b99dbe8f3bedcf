package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-ingest/backend/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

func strPtr(s string) *string { return &s }

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("Token lookup", func(t *testing.T) {
		tok := &models.Token{TokenHash: "hash-a", Namespace: "org-a", Name: "n8n prod"}
		require.NoError(t, store.IssueToken(ctx, tok))

		got, err := store.LookupToken(ctx, "hash-a")
		require.NoError(t, err)
		assert.Equal(t, "org-a", got.Namespace)
		assert.Equal(t, "n8n prod", got.Name)
		assert.True(t, got.Active)

		_, err = store.LookupToken(ctx, "unknown")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.RevokeToken(ctx, "hash-a"))
		_, err = store.LookupToken(ctx, "hash-a")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, store.RevokeToken(ctx, "unknown"), ErrNotFound)
	})

	t.Run("ResolveOrCreate is idempotent", func(t *testing.T) {
		id1, err := store.ResolveOrCreate(ctx, "org-a", "Send Welcome Email")
		require.NoError(t, err)
		require.NotEmpty(t, id1)

		id2, err := store.ResolveOrCreate(ctx, "org-a", "  Send Welcome Email ")
		require.NoError(t, err)
		assert.Equal(t, id1, id2)

		n, err := store.CountWorkflows(ctx, "org-a", "Send Welcome Email")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		w, err := store.GetWorkflow(ctx, "org-a", "Send Welcome Email")
		require.NoError(t, err)
		assert.Equal(t, id1, w.ID)
		assert.True(t, w.Active)
	})

	t.Run("Names are namespaced and case-sensitive", func(t *testing.T) {
		a, err := store.ResolveOrCreate(ctx, "org-a", "Nightly Sync")
		require.NoError(t, err)
		b, err := store.ResolveOrCreate(ctx, "org-b", "Nightly Sync")
		require.NoError(t, err)
		c, err := store.ResolveOrCreate(ctx, "org-a", "nightly sync")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.NotEqual(t, a, c)
	})

	t.Run("Empty name is rejected", func(t *testing.T) {
		_, err := store.ResolveOrCreate(ctx, "org-a", "   ")
		assert.ErrorIs(t, err, models.ErrEmptyWorkflowName)
	})

	t.Run("Concurrent ResolveOrCreate yields one row", func(t *testing.T) {
		const k = 32
		ids := make([]string, k)
		errs := make([]error, k)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				ids[i], errs[i] = store.ResolveOrCreate(ctx, "org-race", "Hot Workflow")
			}(i)
		}
		close(start)
		wg.Wait()

		for i := 0; i < k; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		n, err := store.CountWorkflows(ctx, "org-race", "Hot Workflow")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Record and read back", func(t *testing.T) {
		wfID, err := store.ResolveOrCreate(ctx, "org-a", "Report")
		require.NoError(t, err)

		start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
		end := start.Add(2 * time.Second)
		metadata := map[string]any{
			"emails_sent": json.Number("12"),
			"big":         json.Number("12345678901234567890"),
			"tags":        []any{"a", "b"},
			"nested":      map[string]any{"ok": true, "ratio": json.Number("0.25")},
		}
		run := &models.Run{
			Namespace:     "org-a",
			WorkflowID:    wfID,
			Status:        models.RunStatusFailed,
			StartedAt:     start,
			EndedAt:       &end,
			ErrorMessage:  strPtr("smtp timeout"),
			ExternalRunID: strPtr("exec-991"),
			Metadata:      metadata,
		}
		id, err := store.Record(ctx, run)
		require.NoError(t, err)
		assert.NotZero(t, id)

		got, err := store.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wfID, got.WorkflowID)
		assert.Equal(t, "org-a", got.Namespace)
		assert.Equal(t, models.RunStatusFailed, got.Status)
		assert.True(t, start.Equal(got.StartedAt))
		require.NotNil(t, got.EndedAt)
		assert.True(t, end.Equal(*got.EndedAt))
		require.NotNil(t, got.DurationMS)
		assert.Equal(t, int64(2000), *got.DurationMS)
		assert.Equal(t, "smtp timeout", *got.ErrorMessage)
		assert.Equal(t, "exec-991", *got.ExternalRunID)
		assert.Equal(t, metadata, got.Metadata)
	})

	t.Run("Duplicate deliveries add runs, not workflows", func(t *testing.T) {
		wfID, err := store.ResolveOrCreate(ctx, "org-a", "Retry Me")
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			again, err := store.ResolveOrCreate(ctx, "org-a", "Retry Me")
			require.NoError(t, err)
			_, err = store.Record(ctx, &models.Run{
				Namespace:  "org-a",
				WorkflowID: again,
				Status:     models.RunStatusSuccess,
				StartedAt:  time.Now(),
			})
			require.NoError(t, err)
		}

		runs, err := store.CountRuns(ctx, wfID)
		require.NoError(t, err)
		assert.Equal(t, 2, runs)
		n, err := store.CountWorkflows(ctx, "org-a", "Retry Me")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Ended before started writes nothing", func(t *testing.T) {
		wfID, err := store.ResolveOrCreate(ctx, "org-a", "Backwards")
		require.NoError(t, err)

		start := time.Now()
		end := start.Add(-time.Minute)
		_, err = store.Record(ctx, &models.Run{
			Namespace:  "org-a",
			WorkflowID: wfID,
			Status:     models.RunStatusSuccess,
			StartedAt:  start,
			EndedAt:    &end,
		})
		assert.ErrorIs(t, err, models.ErrEndBeforeStart)

		runs, err := store.CountRuns(ctx, wfID)
		require.NoError(t, err)
		assert.Zero(t, runs)
	})

	t.Run("NUL text writes nothing", func(t *testing.T) {
		_, err := store.ResolveOrCreate(ctx, "org-a", "Null\x00Byte")
		assert.ErrorIs(t, err, models.ErrNULCharacter)

		wfID, err := store.ResolveOrCreate(ctx, "org-a", "Null Byte")
		require.NoError(t, err)

		msg := "boom\x00"
		runs := []*models.Run{
			{Namespace: "org-a", WorkflowID: wfID, Status: models.RunStatusFailed, StartedAt: time.Now(), ErrorMessage: &msg},
			{Namespace: "org-a", WorkflowID: wfID, Status: models.RunStatusSuccess, StartedAt: time.Now(), ExternalRunID: &msg},
			{Namespace: "org-a", WorkflowID: wfID, Status: models.RunStatusSuccess, StartedAt: time.Now(), Metadata: map[string]any{"k": msg}},
		}
		for _, run := range runs {
			_, err = store.Record(ctx, run)
			assert.ErrorIs(t, err, models.ErrNULCharacter)
			assert.True(t, models.IsValidationError(err))
		}

		count, err := store.CountRuns(ctx, wfID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("Missing workflow id is rejected", func(t *testing.T) {
		_, err := store.Record(ctx, &models.Run{Status: models.RunStatusSuccess, StartedAt: time.Now()})
		assert.ErrorIs(t, err, models.ErrMissingWorkflowID)
	})

	t.Run("Unknown run", func(t *testing.T) {
		_, err := store.GetRun(ctx, 987654)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Migrate is repeatable", func(t *testing.T) {
		assert.NoError(t, store.Migrate(ctx))
	})
}
