package repository

import (
	"bytes"
	"encoding/json"
	"fmt"

	"workflow-ingest/backend/pkg/models"
)

// prepareRun runs the validation shared by every backend and returns the
// encoded metadata.
func prepareRun(run *models.Run) ([]byte, error) {
	if run.WorkflowID == "" {
		return nil, models.ErrMissingWorkflowID
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	run.ComputeDuration()
	return run.MetadataJSON()
}

// decodeMetadata keeps numbers as json.Number so values survive a round trip
// exactly.
func decodeMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
