package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-ingest/backend/internal/config"
	"workflow-ingest/backend/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SERVER_BODY_LIMIT", "1K")
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func TestRouter_BodyLimit(t *testing.T) {
	e := newRouter(testConfig(t), logging.Discard())
	e.POST("/echo", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 2048)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORS.Origin = "https://dash.example.com"
	e := newRouter(cfg, logging.Discard())
	e.POST("/ingest/workflow-run", func(c echo.Context) error { return nil })

	req := httptest.NewRequest(http.MethodOptions, "/ingest/workflow-run", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
}

func TestLoad_LogLevelOverride(t *testing.T) {
	testConfig(t)

	cfg, _, err := load(&rootOptions{logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}
