package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/outflowhq/outflow/pkg/engine"
	"github.com/outflowhq/outflow/pkg/models"
)

func conditionNode(data map[string]any) *models.Node {
	return &models.Node{ID: "c1", Type: models.NodeTypeCondition, Data: data}
}

func TestCustomConditionTruthyWithoutOperator(t *testing.T) {
	execCtx := &models.ExecutionContext{
		Variables: map[string]any{"qualified": true},
	}

	result := engine.EvaluateCondition(conditionNode(map[string]any{
		"conditionType": "custom",
		"value":         "variables.qualified",
	}), execCtx, engine.ConversationStats{})

	assert.True(t, result.Result)
	assert.Equal(t, models.EdgeLabelYes, result.Path)
}

func TestCustomConditionComparesAgainstExpected(t *testing.T) {
	execCtx := &models.ExecutionContext{
		Variables: map[string]any{"segment": "enterprise"},
	}

	// The path only addresses the variable; the comparison target is the
	// node's expected parameter.
	result := engine.EvaluateCondition(conditionNode(map[string]any{
		"conditionType": "custom",
		"operator":      engine.OpEquals,
		"value":         "variables.segment",
		"expected":      "enterprise",
	}), execCtx, engine.ConversationStats{})

	assert.True(t, result.Result)
	assert.Equal(t, models.EdgeLabelYes, result.Path)

	mismatch := engine.EvaluateCondition(conditionNode(map[string]any{
		"conditionType": "custom",
		"operator":      engine.OpEquals,
		"value":         "variables.segment",
		"expected":      "smb",
	}), execCtx, engine.ConversationStats{})

	assert.False(t, mismatch.Result)
	assert.Equal(t, models.EdgeLabelNo, mismatch.Path)
}

func TestCustomConditionNumericComparison(t *testing.T) {
	execCtx := &models.ExecutionContext{
		Variables: map[string]any{"score": float64(72)},
	}

	result := engine.EvaluateCondition(conditionNode(map[string]any{
		"conditionType": "custom",
		"operator":      engine.OpGreaterOrEqual,
		"value":         "variables.score",
		"expected":      float64(50),
	}), execCtx, engine.ConversationStats{})

	assert.True(t, result.Result)
}

func TestCustomConditionMissingVariableIsNo(t *testing.T) {
	result := engine.EvaluateCondition(conditionNode(map[string]any{
		"conditionType": "custom",
		"value":         "variables.missing",
	}), &models.ExecutionContext{}, engine.ConversationStats{})

	assert.False(t, result.Result)
	assert.Equal(t, models.EdgeLabelNo, result.Path)
}
