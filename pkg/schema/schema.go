// Package schema validates agent workflow definitions before they are saved
// or executed: structural JSON shape, struct level constraints and graph
// consistency.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/outflowhq/outflow/pkg/models"
)

var (
	ErrNoTrigger       = errors.New("definition has no trigger node")
	ErrDuplicateNodeID = errors.New("duplicate node id")
	ErrDanglingEdge    = errors.New("edge references unknown node")
	ErrInvalidAction   = errors.New("invalid action node")
)

// definitionSchema is the wire shape of an agent definition as submitted by
// the builder UI.
const definitionSchema = `{
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["trigger", "condition", "action", "conversationStep"]},
          "action_type": {"type": "string"},
          "data": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "source", "target"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "label": {"type": "string"}
        }
      }
    }
  }
}`

// ValidateDefinitionJSON checks a raw definition document against the wire
// schema before it is unmarshalled into models.
func ValidateDefinitionJSON(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	dataLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate definition: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, validationError := range result.Errors() {
			messages = append(messages, validationError.String())
		}

		return fmt.Errorf("definition schema validation failed: %s", strings.Join(messages, "; "))
	}

	return nil
}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateAgent checks struct constraints and graph consistency: unique node
// IDs, at least one trigger, edges that connect existing nodes and action
// nodes carrying a known action type.
func (v *Validator) ValidateAgent(agent *models.AgentDefinition) error {
	err := v.validate.Struct(agent)
	if err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	nodeIDs := make(map[string]bool, len(agent.Nodes))
	hasTrigger := false

	for _, node := range agent.Nodes {
		if nodeIDs[node.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		nodeIDs[node.ID] = true

		if node.IsTrigger() {
			hasTrigger = true
		}

		if node.IsAction() {
			_, err = models.ParseActionType(string(node.ActionType))
			if err != nil {
				return fmt.Errorf("%w: node %s: %w", ErrInvalidAction, node.ID, err)
			}
		}
	}

	if !hasTrigger {
		return ErrNoTrigger
	}

	for _, edge := range agent.Edges {
		if !nodeIDs[edge.Source] {
			return fmt.Errorf("%w: edge %s source %s", ErrDanglingEdge, edge.ID, edge.Source)
		}

		if !nodeIDs[edge.Target] {
			return fmt.Errorf("%w: edge %s target %s", ErrDanglingEdge, edge.ID, edge.Target)
		}
	}

	return nil
}
