// Package mcp exposes workflow-run ingestion as MCP tools so agents can
// report runs over the same pipeline as the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"workflow-ingest/backend/internal/auth"
	"workflow-ingest/backend/internal/ingest"
	"workflow-ingest/backend/internal/repository"
)

type authorizationKey struct{}

// WithAuthorization returns a context carrying the Authorization header value
// of the MCP transport request.
func WithAuthorization(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, authorizationKey{}, header)
}

func authorization(ctx context.Context) string {
	header, _ := ctx.Value(authorizationKey{}).(string)
	return header
}

// Ingester runs a raw workflow-run report through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, authHeader string, body []byte) (*ingest.Result, error)
}

type Server struct {
	mcpServer *server.MCPServer
	ingester  Ingester
	authn     ingest.Authenticator
	runs      repository.RunRecorder
	timeout   time.Duration
}

// NewServer builds the MCP server. timeout bounds each storage call made by
// the read tools; zero means ingest.DefaultStorageTimeout.
func NewServer(ingester Ingester, authn ingest.Authenticator, runs repository.RunRecorder, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = ingest.DefaultStorageTimeout
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Run Ingestion",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		ingester: ingester,
		authn:    authn,
		runs:     runs,
		timeout:  timeout,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_workflow_run",
			mcp.WithDescription("Record one execution run of a workflow. The workflow is created on first report."),
			mcp.WithString("workflow_name", mcp.Required(), mcp.Description("Name of the workflow, unique within the token's namespace")),
			mcp.WithString("status", mcp.Required(), mcp.Enum("success", "failed", "running"), mcp.Description("Run outcome")),
			mcp.WithString("started_at", mcp.Required(), mcp.Description("RFC 3339 start time with offset")),
			mcp.WithString("ended_at", mcp.Description("RFC 3339 end time with offset")),
			mcp.WithString("error_message", mcp.Description("Failure detail")),
			mcp.WithString("external_run_id", mcp.Description("Run id assigned by the reporting platform")),
			mcp.WithObject("metadata", mcp.Description("Arbitrary JSON object stored with the run")),
		),
		s.handleRecordRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_run",
			mcp.WithDescription("Fetch a recorded run of the token's namespace"),
			mcp.WithNumber("run_id", mcp.Required(), mcp.Description("Id returned by record_workflow_run")),
		),
		s.handleGetRun,
	)
}

func (s *Server) handleRecordRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	if args == nil {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	body, err := json.Marshal(args)
	if err != nil {
		return mcp.NewToolResultError("Invalid arguments: " + err.Error()), nil
	}

	res, err := s.ingester.Ingest(ctx, authorization(ctx), body)
	if err != nil {
		return toolError(err), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{
		"ok":          true,
		"workflow_id": res.WorkflowID,
		"run_id":      res.RunID,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetInt("run_id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	token, err := auth.ParseBearer(authorization(ctx))
	if err != nil {
		return toolError(err), nil
	}
	authCtx, cancel := s.storageContext(ctx)
	ns, err := s.authn.Authenticate(authCtx, token)
	cancel()
	if err != nil {
		return toolError(err), nil
	}

	getCtx, cancel := s.storageContext(ctx)
	defer cancel()
	run, err := s.runs.GetRun(getCtx, int64(id))
	// Runs of other namespaces are reported as missing.
	if errors.Is(err, repository.ErrNotFound) || (err == nil && run.Namespace != ns.ID) {
		return mcp.NewToolResultError(fmt.Sprintf("run %d not found", id)), nil
	}
	if err != nil {
		return toolError(err), nil
	}

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// storageContext detaches a storage call from caller cancellation and bounds
// it by the configured timeout.
func (s *Server) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// toolError reports err as "<code>: <message>". Storage failures never
// expose driver messages.
func toolError(err error) *mcp.CallToolResult {
	var ie *ingest.Error
	switch {
	case errors.As(err, &ie):
		return mcp.NewToolResultError(ie.Kind.Code() + ": " + ingest.MessageOf(err))
	case auth.IsUnauthorized(err):
		return mcp.NewToolResultError(ingest.KindUnauthorized.Code() + ": " + err.Error())
	default:
		return mcp.NewToolResultError(ingest.KindStorageUnavailable.Code() + ": storage is unavailable, retry later")
	}
}

func contextFromRequest(ctx context.Context, r *http.Request) context.Context {
	return WithAuthorization(ctx, r.Header.Get("Authorization"))
}

// MountHTTPHandlers registers the streamable HTTP endpoint on /mcp and the
// SSE transport on /mcp/sse and /mcp/message.
func MountHTTPHandlers(e *echo.Echo, mcpServer *server.MCPServer) {
	httpServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(contextFromRequest),
	)
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(contextFromRequest),
	)

	e.Any("/mcp", echo.WrapHandler(httpServer))
	e.GET("/mcp/sse", echo.WrapHandler(sseServer))
	e.POST("/mcp/message", echo.WrapHandler(sseServer))
}
