// Package testutil provides builders for agent workflow graphs used in
// tests.
package testutil

import (
	"github.com/outflowhq/outflow/pkg/models"
)

// TriggerNode builds a trigger node gating the given event. An empty event
// matches any event.
func TriggerNode(id, event string, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:   id,
		Type: models.NodeTypeTrigger,
		Data: map[string]any{},
	}
	if event != "" {
		node.Data["event"] = event
	}

	return apply(node, overrides)
}

// ActionNode builds an action node with the given payload.
func ActionNode(id string, actionType models.ActionType, data map[string]any, overrides ...func(*models.Node)) *models.Node {
	if data == nil {
		data = map[string]any{}
	}

	node := &models.Node{
		ID:         id,
		Type:       models.NodeTypeAction,
		ActionType: actionType,
		Data:       data,
	}

	return apply(node, overrides)
}

// ConditionNode builds a condition node evaluating conditionType.
func ConditionNode(id, conditionType string, data map[string]any, overrides ...func(*models.Node)) *models.Node {
	if data == nil {
		data = map[string]any{}
	}

	data["conditionType"] = conditionType

	node := &models.Node{
		ID:   id,
		Type: models.NodeTypeCondition,
		Data: data,
	}

	return apply(node, overrides)
}

// StepNode builds a conversationStep node.
func StepNode(id, instructions, objective string, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:   id,
		Type: models.NodeTypeConversationStep,
		Data: map[string]any{
			"instructions": instructions,
			"objective":    objective,
		},
	}

	return apply(node, overrides)
}

// WithData merges extra keys into the node payload.
func WithData(extra map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		for k, v := range extra {
			n.Data[k] = v
		}
	}
}

// Edge connects source to target. Label may be empty for an unconditional
// edge.
func Edge(id, source, target, label string) *models.Edge {
	return &models.Edge{ID: id, Source: source, Target: target, Label: label}
}

// Agent assembles a definition around the given graph with sane defaults.
func Agent(id string, nodes []*models.Node, edges []*models.Edge, overrides ...func(*models.AgentDefinition)) *models.AgentDefinition {
	agent := &models.AgentDefinition{
		ID:        id,
		AccountID: "acct-1",
		Name:      "Test agent " + id,
		Enabled:   true,
		Nodes:     nodes,
		Edges:     edges,
	}

	for _, override := range overrides {
		override(agent)
	}

	return agent
}

func apply(node *models.Node, overrides []func(*models.Node)) *models.Node {
	for _, override := range overrides {
		override(node)
	}

	return node
}
