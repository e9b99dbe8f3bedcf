package models

import (
	"fmt"
	"strings"
	"time"
)

// Workflow is a named automation definition owned by a namespace. The pair
// (Namespace, Name) is unique.
type Workflow struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeWorkflowName trims leading and trailing whitespace. Everything
// else is kept as is, so names compare byte for byte and case-sensitively.
// It returns ErrEmptyWorkflowName when nothing is left.
func NormalizeWorkflowName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", ErrEmptyWorkflowName
	}
	if strings.ContainsRune(n, 0) {
		return "", fmt.Errorf("workflow_name: %w", ErrNULCharacter)
	}
	return n, nil
}
