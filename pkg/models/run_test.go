package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunValidate(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	before := start.Add(-time.Minute)
	after := start.Add(90 * time.Second)

	tests := []struct {
		name    string
		run     Run
		wantErr error
	}{
		{"minimal", Run{Status: RunStatusSuccess, StartedAt: start}, nil},
		{"ended after start", Run{Status: RunStatusFailed, StartedAt: start, EndedAt: &after}, nil},
		{"ended equal start", Run{Status: RunStatusRunning, StartedAt: start, EndedAt: &start}, nil},
		{"bogus status", Run{Status: "bogus", StartedAt: start}, ErrInvalidStatus},
		{"empty status", Run{StartedAt: start}, ErrInvalidStatus},
		{"missing start", Run{Status: RunStatusSuccess}, ErrMissingStartedAt},
		{"ended before start", Run{Status: RunStatusSuccess, StartedAt: start, EndedAt: &before}, ErrEndBeforeStart},
		{"nan metadata", Run{Status: RunStatusSuccess, StartedAt: start, Metadata: map[string]any{"x": math.NaN()}}, ErrInvalidMetadata},
		{"func metadata", Run{Status: RunStatusSuccess, StartedAt: start, Metadata: map[string]any{"f": func() {}}}, ErrInvalidMetadata},
		{"nul in error message", Run{Status: RunStatusFailed, StartedAt: start, ErrorMessage: strPtr("boom\x00")}, ErrNULCharacter},
		{"nul in external id", Run{Status: RunStatusSuccess, StartedAt: start, ExternalRunID: strPtr("\x00")}, ErrNULCharacter},
		{"nul in metadata value", Run{Status: RunStatusSuccess, StartedAt: start, Metadata: map[string]any{"a": []any{map[string]any{"b": "x\x00y"}}}}, ErrNULCharacter},
		{"nul in metadata key", Run{Status: RunStatusSuccess, StartedAt: start, Metadata: map[string]any{"k\x00": 1}}, ErrNULCharacter},
		{"nul in typed metadata", Run{Status: RunStatusSuccess, StartedAt: start, Metadata: map[string]any{"tags": []string{"ok", "\x00"}}}, ErrNULCharacter},
		{"escaped backslash is fine", Run{Status: RunStatusSuccess, StartedAt: start, Metadata: map[string]any{"path": `C:\u0000`}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestRunComputeDuration(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	r := Run{StartedAt: start, EndedAt: &end}
	r.ComputeDuration()
	require.NotNil(t, r.DurationMS)
	assert.Equal(t, int64(1500), *r.DurationMS)

	r.EndedAt = nil
	r.ComputeDuration()
	assert.Nil(t, r.DurationMS)
}

func TestRunComputeDuration_Extremes(t *testing.T) {
	start := time.Date(1, 1, 1, 0, 0, 0, 900_000_000, time.UTC)
	end := time.Date(9999, 12, 31, 23, 59, 59, 100_000_000, time.UTC)

	r := Run{StartedAt: start, EndedAt: &end}
	r.ComputeDuration()
	require.NotNil(t, r.DurationMS)
	assert.Equal(t, (end.Unix()-start.Unix())*1000-800, *r.DurationMS)

	// sub-millisecond gaps across a second boundary truncate to zero
	a := time.Date(2024, 1, 15, 10, 30, 0, 999_999_000, time.UTC)
	b := time.Date(2024, 1, 15, 10, 30, 1, 0, time.UTC)
	r = Run{StartedAt: a, EndedAt: &b}
	r.ComputeDuration()
	assert.Equal(t, int64(0), *r.DurationMS)
}

func TestMetadataJSON_NilIsEmptyObject(t *testing.T) {
	r := Run{}
	b, err := r.MetadataJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestNormalizeWorkflowName(t *testing.T) {
	n, err := NormalizeWorkflowName("  Send Welcome Email\t")
	require.NoError(t, err)
	assert.Equal(t, "Send Welcome Email", n)

	n, err = NormalizeWorkflowName("send welcome email")
	require.NoError(t, err)
	assert.NotEqual(t, "Send Welcome Email", n)

	_, err = NormalizeWorkflowName(" \n\t ")
	assert.ErrorIs(t, err, ErrEmptyWorkflowName)

	_, err = NormalizeWorkflowName("Send\x00Email")
	assert.ErrorIs(t, err, ErrNULCharacter)
	assert.True(t, IsValidationError(err))
}

func TestRunStatusValid(t *testing.T) {
	for _, s := range RunStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, RunStatus("SUCCESS").Valid())
}

func strPtr(s string) *string { return &s }
