package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/schema"
	"github.com/outflowhq/outflow/pkg/testutil"
)

func validAgent() *models.AgentDefinition {
	return testutil.Agent("agent-1",
		[]*models.Node{
			testutil.TriggerNode("t1", "invite_accepted"),
			testutil.ActionNode("a1", models.ActionSendMessage, map[string]any{"message": "oi"}),
		},
		[]*models.Edge{
			testutil.Edge("e1", "t1", "a1", ""),
		},
	)
}

func TestValidateAgentAccepts(t *testing.T) {
	v := schema.NewValidator()

	require.NoError(t, v.ValidateAgent(validAgent()))
}

func TestValidateAgentRequiresTrigger(t *testing.T) {
	v := schema.NewValidator()

	agent := validAgent()
	agent.Nodes = agent.Nodes[1:]
	agent.Edges = nil

	assert.ErrorIs(t, v.ValidateAgent(agent), schema.ErrNoTrigger)
}

func TestValidateAgentRejectsDuplicateNodes(t *testing.T) {
	v := schema.NewValidator()

	agent := validAgent()
	agent.Nodes = append(agent.Nodes, &models.Node{ID: "t1", Type: models.NodeTypeTrigger})

	assert.ErrorIs(t, v.ValidateAgent(agent), schema.ErrDuplicateNodeID)
}

func TestValidateAgentRejectsDanglingEdge(t *testing.T) {
	v := schema.NewValidator()

	agent := validAgent()
	agent.Edges = append(agent.Edges, &models.Edge{ID: "e2", Source: "a1", Target: "missing"})

	assert.ErrorIs(t, v.ValidateAgent(agent), schema.ErrDanglingEdge)
}

func TestValidateAgentRejectsUnknownActionType(t *testing.T) {
	v := schema.NewValidator()

	agent := validAgent()
	agent.Nodes[1].ActionType = "explode"

	assert.ErrorIs(t, v.ValidateAgent(agent), schema.ErrInvalidAction)
}

func TestValidateDefinitionJSON(t *testing.T) {
	valid := []byte(`{
		"nodes": [{"id": "t1", "type": "trigger"}],
		"edges": []
	}`)
	require.NoError(t, schema.ValidateDefinitionJSON(valid))

	missingType := []byte(`{"nodes": [{"id": "t1"}], "edges": []}`)
	assert.Error(t, schema.ValidateDefinitionJSON(missingType))

	badNodeType := []byte(`{"nodes": [{"id": "t1", "type": "banana"}], "edges": []}`)
	assert.Error(t, schema.ValidateDefinitionJSON(badNodeType))
}
