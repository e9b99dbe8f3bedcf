// Package api contains the HTTP handlers for the workflow-run ingestion service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"workflow-ingest/backend/internal/ingest"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "workflow-ingest"

// Ingester runs one workflow-run report through authentication, workflow
// resolution and recording.
type Ingester interface {
	Ingest(ctx context.Context, authHeader string, body []byte) (*ingest.Result, error)
}

// Handler contains HTTP handlers for the ingestion REST API.
type Handler struct {
	ingester Ingester
	logger   ingest.Logger
}

// NewHandler creates a new Handler with required dependencies.
func NewHandler(ingester Ingester, logger ingest.Logger) *Handler {
	return &Handler{ingester: ingester, logger: logger}
}

// RegisterRoutes mounts the health and ingest endpoints on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.HandleHealth)
	e.POST("/ingest/workflow-run", h.IngestWorkflowRun)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	OK        bool      `json:"ok"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// HandleHealth returns basic health status (always returns 200 OK). It does
// not touch storage.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		OK:        true,
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   ServiceName,
	})
}
