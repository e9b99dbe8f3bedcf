package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-ingest/backend/internal/auth"
	"workflow-ingest/backend/internal/logging"
	"workflow-ingest/backend/internal/repository"
)

func TestSeed_IssuedTokenAuthenticates(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := repository.NewSQLiteStore(db, logger)
	require.NoError(t, store.Migrate(ctx))

	var out bytes.Buffer
	require.NoError(t, seed(ctx, store, "acme", "n8n", &out, logger))

	token := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(token, auth.TokenPrefix))

	ns, err := auth.New(store, logger).Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "acme", ns.ID)
	assert.Equal(t, "n8n", ns.TokenName)
}

func TestSeedCommand_RequiresNamespace(t *testing.T) {
	cmd := newSeedCommand()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.ErrorContains(t, cmd.ExecuteContext(context.Background()), "namespace")
}
