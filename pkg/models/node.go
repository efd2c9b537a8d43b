// Package models defines the core domain models for conversation workflow automation.
package models

// NodeType categorizes a node in an agent's workflow graph.
type NodeType string

const (
	NodeTypeTrigger          NodeType = "trigger"
	NodeTypeCondition        NodeType = "condition"
	NodeTypeAction           NodeType = "action"
	NodeTypeConversationStep NodeType = "conversationStep"
)

// Edge labels with reserved meaning. Condition nodes route by the evaluated
// branch label and fall back to EdgeLabelDefault; branching actions route by
// EdgeLabelSuccess / EdgeLabelError. An empty label is unconditional.
const (
	EdgeLabelDefault = "default"
	EdgeLabelSuccess = "success"
	EdgeLabelError   = "error"
	EdgeLabelYes     = "yes"
	EdgeLabelNo      = "no"
	EdgeLabelFailure = "failure"
)

// Node is one unit in an immutable per-agent workflow graph.
type Node struct {
	ID         string         `json:"id"          validate:"required"`
	Type       NodeType       `json:"type"        validate:"required"`
	ActionType ActionType     `json:"action_type,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Name       string         `json:"name,omitempty"`
}

func (n *Node) IsTrigger() bool          { return n.Type == NodeTypeTrigger }
func (n *Node) IsAction() bool           { return n.Type == NodeTypeAction }
func (n *Node) IsCondition() bool        { return n.Type == NodeTypeCondition }
func (n *Node) IsConversationStep() bool { return n.Type == NodeTypeConversationStep }

// Event returns the trigger event a trigger node gates on, if any.
func (n *Node) Event() string {
	event, _ := n.Data["event"].(string)

	return event
}

// Edge connects two nodes. Label selects it during navigation; edges keep
// their definition order, which is significant for tie-breaking.
type Edge struct {
	ID     string `json:"id"     validate:"required"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label,omitempty"`
}

// AgentDefinition is an immutable workflow graph plus the escalation
// configuration that belongs to one automation agent.
type AgentDefinition struct {
	ID        string  `json:"id"         validate:"required"`
	AccountID string  `json:"account_id" validate:"required"`
	Name      string  `json:"name"       validate:"required,min=1"`
	Enabled   bool    `json:"enabled"`
	Nodes     []*Node `json:"nodes"`
	Edges     []*Edge `json:"edges"`

	// Escalation configuration.
	TransferTriggers []string `json:"transfer_triggers,omitempty"`
	TransferMessage  string   `json:"transfer_message,omitempty"`
	Silent           bool     `json:"silent,omitempty"`
	SectorID         string   `json:"sector_id,omitempty"`
}

// FindNode returns the node with the given ID, or nil.
func (d *AgentDefinition) FindNode(id string) *Node {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerFor returns the trigger node gating the given event. A trigger with
// no configured event matches any event; an exact match wins over it.
func (d *AgentDefinition) TriggerFor(event string) *Node {
	var fallback *Node

	for _, node := range d.Nodes {
		if !node.IsTrigger() {
			continue
		}

		switch node.Event() {
		case event:
			return node
		case "":
			if fallback == nil {
				fallback = node
			}
		}
	}

	return fallback
}

// EdgesFrom returns the outgoing edges of a node in definition order.
func (d *AgentDefinition) EdgesFrom(nodeID string) []*Edge {
	edges := make([]*Edge, 0)

	for _, edge := range d.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// NextNode resolves navigation out of a node. An empty label matches the
// first unlabeled edge; a non-empty label requires an exact match, then
// EdgeLabelDefault, then nothing.
func (d *AgentDefinition) NextNode(nodeID, label string) *Node {
	edges := d.EdgesFrom(nodeID)

	if label == "" {
		for _, edge := range edges {
			if edge.Label == "" {
				return d.FindNode(edge.Target)
			}
		}
		// A single labeled edge still advances an unlabeled result.
		if len(edges) == 1 {
			return d.FindNode(edges[0].Target)
		}

		return nil
	}

	for _, edge := range edges {
		if edge.Label == label {
			return d.FindNode(edge.Target)
		}
	}

	for _, edge := range edges {
		if edge.Label == EdgeLabelDefault {
			return d.FindNode(edge.Target)
		}
	}

	return nil
}
