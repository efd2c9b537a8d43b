package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/template"
)

var ErrHTTPRequestURLRequired = errors.New("http request URL is required")

// executeHTTPRequest calls an external API and routes the workflow by the
// response: 2xx/3xx selects the success edge, 4xx/5xx the error edge. On
// success, configured dot paths are extracted from the JSON body into
// workflow variables.
func (r *Registry) executeHTTPRequest(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
	result *models.ActionExecutionResult,
) (map[string]any, error) {
	rawURL := stringParam(params, "url")
	if rawURL == "" {
		return nil, ErrHTTPRequestURLRequired
	}

	renderedURL, err := template.RenderString(rawURL, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render URL: %w", err)
	}

	method := strings.ToUpper(stringParam(params, "method"))
	if method == "" {
		method = http.MethodGet
	}

	body := stringParam(params, "body")
	if body != "" {
		body, err = template.RenderString(body, execCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}
	}

	if execCtx.IsTestMode {
		result.Path = models.EdgeLabelSuccess

		return map[string]any{
			"simulated": true,
			"method":    method,
			"url":       renderedURL,
		}, nil
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, renderedURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if headers, ok := params["headers"].(map[string]any); ok {
		for key, value := range headers {
			if str, ok := value.(string); ok {
				req.Header.Set(key, str)
			}
		}
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		result.Path = models.EdgeLabelError

		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Path = models.EdgeLabelError

		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var decoded any

	if len(responseBody) > 0 {
		if json.Unmarshal(responseBody, &decoded) != nil {
			decoded = string(responseBody)
		}
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        decoded,
	}

	if resp.StatusCode >= 400 {
		result.Path = models.EdgeLabelError

		return output, nil
	}

	result.Path = models.EdgeLabelSuccess

	if extract, ok := params["extract"].(map[string]any); ok {
		variables := make(map[string]any, len(extract))

		for name, rawPath := range extract {
			path, ok := rawPath.(string)
			if !ok {
				continue
			}

			value, found := lookupPath(decoded, path)
			if found {
				variables[name] = value
			}
		}

		if len(variables) > 0 {
			result.Variables = variables
			output["extracted"] = variables
		}
	}

	return output, nil
}

// lookupPath resolves a dot path like "data.items.0.id" against decoded
// JSON.
func lookupPath(data any, path string) (any, bool) {
	current := data

	for _, segment := range strings.Split(path, ".") {
		switch value := current.(type) {
		case map[string]any:
			next, ok := value[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index := -1

			_, err := fmt.Sscanf(segment, "%d", &index)
			if err != nil || index < 0 || index >= len(value) {
				return nil, false
			}

			current = value[index]
		default:
			return nil, false
		}
	}

	return current, true
}
