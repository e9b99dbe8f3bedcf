package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-ingest/backend/pkg/models"
)

func TestParsePayload_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"empty", "", "empty"},
		{"not json", "{workflow_name:", "not valid JSON"},
		{"array", `[]`, "(root)"},
		{"missing name", `{"status":"success","started_at":"2024-01-15T10:30:00Z"}`, "workflow_name is required"},
		{"missing status", `{"workflow_name":"A","started_at":"2024-01-15T10:30:00Z"}`, "status is required"},
		{"missing started_at", `{"workflow_name":"A","status":"success"}`, "started_at is required"},
		{"status not string", `{"workflow_name":"A","status":1,"started_at":"2024-01-15T10:30:00Z"}`, "status"},
		{"metadata not object", `{"workflow_name":"A","status":"success","started_at":"2024-01-15T10:30:00Z","metadata":[1]}`, "metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, KindMalformedPayload, KindOf(err))
			assert.Contains(t, MessageOf(err), tt.msg)
		})
	}
}

func TestParsePayload_OptionalFields(t *testing.T) {
	p, err := ParsePayload([]byte(`{
		"workflow_name": "Send Welcome Email",
		"status": "failed",
		"started_at": "2024-01-15T10:30:00Z",
		"ended_at": null,
		"error_message": "smtp timeout",
		"external_run_id": "exec-1",
		"metadata": {"emails_sent": 12345678901234567890, "nested": {"a": [1, 2]}},
		"extra": "ignored"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Send Welcome Email", p.WorkflowName)
	assert.Nil(t, p.EndedAt)
	require.NotNil(t, p.ErrorMessage)
	assert.Equal(t, "smtp timeout", *p.ErrorMessage)
	assert.Equal(t, json.Number("12345678901234567890"), p.Metadata["emails_sent"])
}

func TestPayloadValidate(t *testing.T) {
	end := "2024-01-15T10:31:30.5+01:00"
	p := &Payload{
		WorkflowName: "  Send Welcome Email ",
		Status:       "success",
		StartedAt:    "2024-01-15T09:30:00Z",
		EndedAt:      &end,
	}

	name, run, err := p.Validate()
	require.NoError(t, err)
	assert.Equal(t, "Send Welcome Email", name)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.True(t, run.StartedAt.Equal(time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)))
	require.NotNil(t, run.EndedAt)
	assert.True(t, run.EndedAt.Equal(time.Date(2024, 1, 15, 9, 31, 30, 500_000_000, time.UTC)))
}

func TestParsePayload_EscapedNULIsRejected(t *testing.T) {
	p, err := ParsePayload([]byte(`{"workflow_name":"A","status":"success","started_at":"2024-01-15T10:30:00Z","metadata":{"k\u0000":"v"}}`))
	require.NoError(t, err)

	_, _, err = p.Validate()
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.ErrorIs(t, err, models.ErrNULCharacter)
}

func TestPayloadValidate_InvalidInput(t *testing.T) {
	earlier := "2024-01-15T10:29:59Z"
	noOffset := "2024-01-15T10:31:00"
	empty := ""
	nul := "boom\x00"

	tests := []struct {
		name    string
		payload Payload
		msg     string
	}{
		{"blank name", Payload{WorkflowName: "  ", Status: "success", StartedAt: "2024-01-15T10:30:00Z"}, "workflow_name"},
		{"bogus status", Payload{WorkflowName: "A", Status: "bogus", StartedAt: "2024-01-15T10:30:00Z"}, "invalid status"},
		{"started without offset", Payload{WorkflowName: "A", Status: "success", StartedAt: "2024-01-15T10:30:00"}, "started_at"},
		{"started garbage", Payload{WorkflowName: "A", Status: "success", StartedAt: "yesterday"}, "started_at"},
		{"ended without offset", Payload{WorkflowName: "A", Status: "success", StartedAt: "2024-01-15T10:30:00Z", EndedAt: &noOffset}, "ended_at"},
		{"ended before started", Payload{WorkflowName: "A", Status: "success", StartedAt: "2024-01-15T10:30:00Z", EndedAt: &earlier}, "ended_at must not be earlier"},
		{"ended empty", Payload{WorkflowName: "A", Status: "success", StartedAt: "2024-01-15T10:30:00Z", EndedAt: &empty}, "ended_at"},
		{"nul in name", Payload{WorkflowName: "Send\x00Email", Status: "success", StartedAt: "2024-01-15T10:30:00Z"}, "workflow_name: must not contain NUL"},
		{"nul in error message", Payload{WorkflowName: "A", Status: "failed", StartedAt: "2024-01-15T10:30:00Z", ErrorMessage: &nul}, "error_message: must not contain NUL"},
		{"nul in external id", Payload{WorkflowName: "A", Status: "success", StartedAt: "2024-01-15T10:30:00Z", ExternalRunID: &nul}, "external_run_id: must not contain NUL"},
		{"nul in metadata", Payload{WorkflowName: "A", Status: "success", StartedAt: "2024-01-15T10:30:00Z", Metadata: map[string]any{"k": nul}}, "metadata: must not contain NUL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.payload.Validate()
			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err))
			assert.Contains(t, MessageOf(err), tt.msg)
		})
	}
}
