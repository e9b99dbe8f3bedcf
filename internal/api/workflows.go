package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// IngestResponse acknowledges a recorded run.
type IngestResponse struct {
	OK         bool   `json:"ok"`
	WorkflowID string `json:"workflow_id"`
	RunID      int64  `json:"run_id"`
	Message    string `json:"message"`
}

// IngestWorkflowRun records one workflow run
// (POST /ingest/workflow-run)
func (h *Handler) IngestWorkflowRun(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return malformedBody(c, "failed to read request body")
	}

	res, err := h.ingester.Ingest(req.Context(), req.Header.Get(echo.HeaderAuthorization), body)
	if err != nil {
		return h.ingestError(c, err)
	}

	return c.JSON(http.StatusCreated, IngestResponse{
		OK:         true,
		WorkflowID: res.WorkflowID,
		RunID:      res.RunID,
		Message:    "Workflow run recorded for " + res.WorkflowName,
	})
}
