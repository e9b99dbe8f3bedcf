// Package ingest authenticates workflow-run reports, resolves the workflow
// they belong to and records the run.
package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"workflow-ingest/backend/internal/auth"
	"workflow-ingest/backend/internal/repository"
	"workflow-ingest/backend/pkg/models"
)

// DefaultStorageTimeout bounds every storage call.
const DefaultStorageTimeout = 5 * time.Second

// Authenticator resolves a bearer token to a namespace.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Namespace, error)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Result acknowledges a recorded run.
type Result struct {
	Namespace    string
	WorkflowID   string
	WorkflowName string
	RunID        int64
	Status       models.RunStatus
}

// Pipeline runs one ingestion per call and keeps no state between calls.
// Workflow uniqueness is left to the registry's storage constraint.
type Pipeline struct {
	authn     Authenticator
	workflows repository.WorkflowRegistry
	runs      repository.RunRecorder
	logger    Logger
	timeout   time.Duration
	tracer    trace.Tracer
	metrics   *metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStorageTimeout sets the deadline applied to each storage call.
func WithStorageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMeter sets the meter used for ingest metrics.
func WithMeter(meter metric.Meter) Option {
	return func(p *Pipeline) { p.metrics = newMetrics(meter) }
}

// WithTracer sets the tracer used for ingest spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = tracer }
}

// New creates a Pipeline. Metrics and spans go to the global OTel providers
// unless overridden.
func New(authn Authenticator, workflows repository.WorkflowRegistry, runs repository.RunRecorder, logger Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		authn:     authn,
		workflows: workflows,
		runs:      runs,
		logger:    logger,
		timeout:   DefaultStorageTimeout,
		tracer:    otel.Tracer(instrumentationName),
		metrics:   newMetrics(otel.Meter(instrumentationName)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest handles a raw request: parse the body, authenticate the
// Authorization header value, validate, resolve the workflow and record the
// run. The first failure is returned as an *Error; nothing is retried.
func (p *Pipeline) Ingest(ctx context.Context, authHeader string, body []byte) (*Result, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ingest.workflow_run", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	res, err := p.ingest(ctx, authHeader, body)

	outcome, status := "ok", ""
	if err != nil {
		outcome = KindOf(err).Code()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		p.logFailure(err)
	} else {
		status = string(res.Status)
		span.SetAttributes(
			attribute.String("ingest.namespace", res.Namespace),
			attribute.String("ingest.workflow.id", res.WorkflowID),
			attribute.Int64("ingest.run.id", res.RunID),
		)
		span.SetStatus(codes.Ok, "")
		p.logger.Info("Workflow run recorded",
			"namespace", res.Namespace,
			"workflow_id", res.WorkflowID,
			"workflow_name", res.WorkflowName,
			"run_id", res.RunID,
			"status", status,
		)
	}
	span.SetAttributes(attribute.String("ingest.outcome", outcome))
	p.metrics.observe(ctx, outcome, status, time.Since(start))

	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, authHeader string, body []byte) (*Result, error) {
	payload, err := ParsePayload(body)
	if err != nil {
		return nil, err
	}

	ns, err := p.authenticate(ctx, authHeader)
	if err != nil {
		return nil, err
	}

	// Everything is validated before the first write so an invalid report
	// never creates a workflow.
	name, run, err := payload.Validate()
	if err != nil {
		return nil, err
	}

	workflowID, err := p.resolve(ctx, ns.ID, name)
	if err != nil {
		return nil, err
	}

	run.Namespace = ns.ID
	run.WorkflowID = workflowID
	runID, err := p.record(ctx, run)
	if err != nil {
		return nil, err
	}

	return &Result{
		Namespace:    ns.ID,
		WorkflowID:   workflowID,
		WorkflowName: name,
		RunID:        runID,
		Status:       run.Status,
	}, nil
}

func (p *Pipeline) authenticate(ctx context.Context, authHeader string) (models.Namespace, error) {
	const op = "authenticate"

	token, err := auth.ParseBearer(authHeader)
	if err != nil {
		return models.Namespace{}, unauthorized(op, err)
	}

	sctx, cancel := p.storageContext(ctx)
	defer cancel()

	ns, err := p.authn.Authenticate(sctx, token)
	if err != nil {
		if auth.IsUnauthorized(err) {
			return models.Namespace{}, unauthorized(op, err)
		}
		return models.Namespace{}, unavailable(op, err)
	}
	return ns, nil
}

func (p *Pipeline) resolve(ctx context.Context, namespace, name string) (string, error) {
	const op = "resolve workflow"

	sctx, cancel := p.storageContext(ctx)
	defer cancel()

	id, err := p.workflows.ResolveOrCreate(sctx, namespace, name)
	if err != nil {
		if models.IsValidationError(err) {
			return "", invalid(op, err)
		}
		return "", unavailable(op, err)
	}
	return id, nil
}

func (p *Pipeline) record(ctx context.Context, run *models.Run) (int64, error) {
	const op = "record run"

	sctx, cancel := p.storageContext(ctx)
	defer cancel()

	id, err := p.runs.Record(sctx, run)
	if err != nil {
		if models.IsValidationError(err) {
			return 0, invalid(op, err)
		}
		return 0, unavailable(op, err)
	}
	return id, nil
}

// storageContext detaches from the caller's cancellation so a disconnect
// cannot interrupt a write half way, and bounds the call with the storage
// timeout instead.
func (p *Pipeline) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
}

func (p *Pipeline) logFailure(err error) {
	switch KindOf(err) {
	case KindStorageUnavailable, KindInternal:
		p.logger.Error("Workflow run ingestion failed", "kind", KindOf(err).Code(), "error", err)
	case KindUnauthorized:
		p.logger.Warn("Rejected workflow run report", "kind", KindOf(err).Code(), "error", err)
	default:
		p.logger.Debug("Rejected workflow run report", "kind", KindOf(err).Code(), "error", err)
	}
}
