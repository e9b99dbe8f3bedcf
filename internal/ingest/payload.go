package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"workflow-ingest/backend/pkg/models"
)

// payloadSchema describes the shape of a workflow-run report. Value rules
// (status enumeration, timestamp format, ordering) are checked afterwards so
// that shape errors and value errors are reported as different kinds.
const payloadSchema = `{
	"type": "object",
	"required": ["workflow_name", "status", "started_at"],
	"properties": {
		"workflow_name":   {"type": "string"},
		"status":          {"type": "string"},
		"started_at":      {"type": "string"},
		"ended_at":        {"type": ["string", "null"]},
		"error_message":   {"type": ["string", "null"]},
		"external_run_id": {"type": ["string", "null"]},
		"metadata":        {"type": ["object", "null"]}
	}
}`

// timestampLayout requires an explicit offset (Z or +hh:mm). Fractional
// seconds are accepted by time.Parse without being in the layout.
const timestampLayout = time.RFC3339

var (
	schema   = mustNewSchema(gojsonschema.NewStringLoader(payloadSchema))
	validate = newValidator()
)

func mustNewSchema(l gojsonschema.JSONLoader) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(l)
	if err != nil {
		panic(err)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Payload is a workflow-run report as sent by an automation node.
type Payload struct {
	WorkflowName  string         `json:"workflow_name"`
	Status        string         `json:"status"          validate:"oneof=success failed running"`
	StartedAt     string         `json:"started_at"      validate:"datetime=2006-01-02T15:04:05Z07:00"`
	EndedAt       *string        `json:"ended_at"        validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	ErrorMessage  *string        `json:"error_message"`
	ExternalRunID *string        `json:"external_run_id"`
	Metadata      map[string]any `json:"metadata"`
}

// ParsePayload decodes a request body. Syntax errors, missing required
// fields and wrongly typed fields are MalformedPayload errors.
func ParsePayload(body []byte) (*Payload, error) {
	const op = "parse"

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed(op, "request body is empty", nil)
	}
	if !json.Valid(body) {
		return nil, malformed(op, "request body is not valid JSON", nil)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, malformed(op, "request body could not be read", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, describeSchemaError(re))
		}
		return nil, malformed(op, strings.Join(msgs, "; "), nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, malformed(op, "request body does not match the payload schema", err)
	}
	return &p, nil
}

func describeSchemaError(re gojsonschema.ResultError) string {
	if re.Type() == "required" {
		if prop, ok := re.Details()["property"]; ok {
			return fmt.Sprintf("%v is required", prop)
		}
	}
	return fmt.Sprintf("%s: %s", re.Field(), re.Description())
}

// Validate checks field values and builds the run to record, without
// touching storage. The workflow name is normalized; the returned run has
// no workflow id or namespace yet. Failures are InvalidInput errors.
func (p *Payload) Validate() (string, *models.Run, error) {
	const op = "validate"

	name, err := models.NormalizeWorkflowName(p.WorkflowName)
	if err != nil {
		return "", nil, invalid(op, err)
	}

	if err := validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return "", nil, invalid(op, describeFieldError(fieldErrs[0]))
		}
		return "", nil, invalid(op, err)
	}

	startedAt, err := time.Parse(timestampLayout, p.StartedAt)
	if err != nil {
		return "", nil, invalid(op, fmt.Errorf("started_at: %w", err))
	}

	run := &models.Run{
		Status:        models.RunStatus(p.Status),
		StartedAt:     startedAt,
		ErrorMessage:  p.ErrorMessage,
		ExternalRunID: p.ExternalRunID,
		Metadata:      p.Metadata,
	}
	if p.EndedAt != nil {
		endedAt, err := time.Parse(timestampLayout, *p.EndedAt)
		if err != nil {
			return "", nil, invalid(op, fmt.Errorf("ended_at: %w", err))
		}
		run.EndedAt = &endedAt
	}

	if err := run.Validate(); err != nil {
		return "", nil, invalid(op, err)
	}
	return name, run, nil
}

func describeFieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%w (got %q)", models.ErrInvalidStatus, fe.Value())
	case "datetime":
		return fmt.Errorf("%s must be an ISO-8601 timestamp with a timezone offset (got %q)", fe.Field(), fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
