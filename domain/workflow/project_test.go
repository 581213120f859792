package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dotmac/ispsaga/domain/workflow"
)

func TestProjectOutput_ReadsNestedField(t *testing.T) {
	w := &workflow.Workflow{
		Output: map[string]any{
			"output_data": map[string]any{
				"ipv4_address": "203.0.113.9",
			},
		},
	}
	assert.Equal(t, "203.0.113.9", w.ProjectOutput("output_data.ipv4_address").String())
}

func TestProjectOutput_MissingFieldIsEmpty(t *testing.T) {
	w := &workflow.Workflow{}
	assert.False(t, w.ProjectOutput("output_data.ipv4_address").Exists())
}

func TestProjectContext_ReadsField(t *testing.T) {
	w := &workflow.Workflow{Context: map[string]any{"subscriber_id": "sub-1"}}
	assert.Equal(t, "sub-1", w.ProjectContext("subscriber_id").String())
}
