package models

// ExecutionContext carries everything an executor may need for one pass over
// a conversation's graph. Identifier fields are required for real runs;
// Message and Lead are optional depending on the triggering event.
type ExecutionContext struct {
	ConversationID string            `json:"conversation_id"`
	AgentID        string            `json:"agent_id"`
	AccountID      string            `json:"account_id"`
	Event          ConversationEvent `json:"event"`
	Message        string            `json:"message,omitempty"`
	Lead           *Lead             `json:"lead,omitempty"`
	Variables      map[string]any    `json:"variables,omitempty"`

	// IsTestMode short-circuits every executor to a simulated result with
	// zero external calls or persistence.
	IsTestMode bool `json:"is_test_mode,omitempty"`
}

// TemplateData exposes the context's variable namespaces to templates.
func (c *ExecutionContext) TemplateData() map[string]any {
	lead := map[string]any{}
	if c.Lead != nil {
		lead = map[string]any{
			"id":      c.Lead.ID,
			"name":    c.Lead.Name,
			"email":   c.Lead.Email,
			"phone":   c.Lead.Phone,
			"company": c.Lead.Company,
			"title":   c.Lead.Title,
		}
	}

	vars := c.Variables
	if vars == nil {
		vars = map[string]any{}
	}

	return map[string]any{
		"lead":      lead,
		"variables": vars,
		"vars":      vars,
		"message":   c.Message,
		"conversation": map[string]any{
			"id":       c.ConversationID,
			"agent_id": c.AgentID,
		},
	}
}

// SetVariable writes a workflow variable, allocating lazily.
func (c *ExecutionContext) SetVariable(key string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}

	c.Variables[key] = value
}
