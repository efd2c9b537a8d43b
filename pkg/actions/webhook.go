package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

var ErrWebhookURLRequired = errors.New("webhook URL is required")

// executeWebhook posts a fixed-shape event payload to the configured URL.
// Any non-2xx response is a failure.
func (r *Registry) executeWebhook(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	rawURL := stringParam(params, "url")
	if rawURL == "" {
		return nil, ErrWebhookURLRequired
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", rawURL)
	}

	payload := map[string]any{
		"event":           "workflow_action",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"conversation_id": execCtx.ConversationID,
		"agent_id":        execCtx.AgentID,
		"variables":       execCtx.Variables,
	}

	if execCtx.Lead != nil {
		payload["lead"] = map[string]any{
			"id":      execCtx.Lead.ID,
			"name":    execCtx.Lead.Name,
			"email":   execCtx.Lead.Email,
			"phone":   execCtx.Lead.Phone,
			"company": execCtx.Lead.Company,
			"title":   execCtx.Lead.Title,
		}
	}

	if execCtx.IsTestMode {
		return map[string]any{"simulated": true, "url": rawURL, "payload": payload}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workflow-Event", "action")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return map[string]any{
		"sent":        true,
		"url":         rawURL,
		"status_code": resp.StatusCode,
	}, nil
}
