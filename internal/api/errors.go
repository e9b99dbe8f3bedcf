package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/moogar0880/problems"

	"workflow-ingest/backend/internal/ingest"
)

const problemContentType = "application/problem+json"

func statusFor(kind ingest.Kind) int {
	switch kind {
	case ingest.KindMalformedPayload, ingest.KindInvalidInput:
		return http.StatusBadRequest
	case ingest.KindUnauthorized:
		return http.StatusUnauthorized
	case ingest.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case ingest.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ingestError renders a pipeline failure as an RFC 7807 problem. Storage and
// internal failures only ever expose the generic message.
func (h *Handler) ingestError(c echo.Context, err error) error {
	kind := ingest.KindOf(err)
	status := statusFor(kind)

	if kind == ingest.KindUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ingest request failed", "path", c.Path(), "kind", kind.Code(), "error", err)
	}

	return writeProblem(c, status, kind.Code(), ingest.MessageOf(err))
}

func malformedBody(c echo.Context, detail string) error {
	return writeProblem(c, http.StatusBadRequest, ingest.KindMalformedPayload.Code(), detail)
}

func writeProblem(c echo.Context, status int, code, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request().URL.Path).
		WithType(code).
		WithDetail(detail)

	c.Response().Header().Set(echo.HeaderContentType, problemContentType)
	return c.JSON(status, problem)
}
