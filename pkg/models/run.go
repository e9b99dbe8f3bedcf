package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus is the outcome reported for a workflow execution.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusRunning RunStatus = "running"
)

// RunStatuses lists every accepted status, in the order used in messages.
var RunStatuses = []RunStatus{RunStatusSuccess, RunStatusFailed, RunStatusRunning}

// Valid reports whether s is one of the enumerated statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusRunning:
		return true
	}
	return false
}

// Validation errors. Callers classify them with IsValidationError.
var (
	ErrEmptyWorkflowName = errors.New("workflow_name must not be empty")
	ErrInvalidStatus     = errors.New("invalid status, must be one of: success, failed, running")
	ErrMissingStartedAt  = errors.New("started_at is required")
	ErrEndBeforeStart    = errors.New("ended_at must not be earlier than started_at")
	ErrInvalidMetadata   = errors.New("metadata is not serializable")
	ErrMissingWorkflowID = errors.New("workflow id is required")
	// ErrNULCharacter rejects text PostgreSQL cannot store in TEXT or JSONB.
	ErrNULCharacter = errors.New("must not contain NUL characters")
)

// IsValidationError reports whether err is caused by an invalid field value.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyWorkflowName) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrMissingStartedAt) ||
		errors.Is(err, ErrEndBeforeStart) ||
		errors.Is(err, ErrInvalidMetadata) ||
		errors.Is(err, ErrMissingWorkflowID) ||
		errors.Is(err, ErrNULCharacter)
}

// Run is one recorded execution of a workflow. Runs are written once and
// never updated.
type Run struct {
	ID            int64          `json:"id"`
	Namespace     string         `json:"namespace"`
	WorkflowID    string         `json:"workflow_id"`
	Status        RunStatus      `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	ExternalRunID *string        `json:"external_run_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Validate checks the field-level rules a run must satisfy before it is
// written. The workflow id is not required here so the pipeline can validate
// before resolving the workflow.
func (r *Run) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w (got %q)", ErrInvalidStatus, r.Status)
	}
	if r.StartedAt.IsZero() {
		return ErrMissingStartedAt
	}
	if r.EndedAt != nil && r.EndedAt.Before(r.StartedAt) {
		return ErrEndBeforeStart
	}
	if r.ErrorMessage != nil && strings.ContainsRune(*r.ErrorMessage, 0) {
		return fmt.Errorf("error_message: %w", ErrNULCharacter)
	}
	if r.ExternalRunID != nil && strings.ContainsRune(*r.ExternalRunID, 0) {
		return fmt.Errorf("external_run_id: %w", ErrNULCharacter)
	}
	b, err := r.MetadataJSON()
	if err != nil {
		return err
	}
	return checkMetadataText(b)
}

// checkMetadataText walks the encoded metadata so keys and strings of any
// Go type are checked after marshalling.
func checkMetadataText(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if containsNUL(v) {
		return fmt.Errorf("metadata: %w", ErrNULCharacter)
	}
	return nil
}

func containsNUL(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.ContainsRune(t, 0)
	case map[string]any:
		for k, e := range t {
			if strings.ContainsRune(k, 0) || containsNUL(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if containsNUL(e) {
				return true
			}
		}
	}
	return false
}

// MetadataJSON encodes the metadata for storage. A nil map is stored as an
// empty object.
func (r *Run) MetadataJSON() ([]byte, error) {
	if r.Metadata == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return b, nil
}

// ComputeDuration fills DurationMS from the two timestamps when both exist.
func (r *Run) ComputeDuration() {
	if r.EndedAt == nil {
		r.DurationMS = nil
		return
	}
	// Sub saturates past ~292 years, so seconds and nanoseconds are
	// combined separately.
	secs := r.EndedAt.Unix() - r.StartedAt.Unix()
	nanos := int64(r.EndedAt.Nanosecond() - r.StartedAt.Nanosecond())
	if nanos < 0 {
		secs--
		nanos += int64(time.Second)
	}
	d := secs*1000 + nanos/int64(time.Millisecond)
	r.DurationMS = &d
}
