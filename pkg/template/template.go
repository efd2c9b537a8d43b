// Package template renders message and request templates against an
// execution context.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

// RenderWithContext renders the template against the context's variable
// namespaces (.lead, .variables, .message, .conversation).
func RenderWithContext(input string, executionCtx *models.ExecutionContext) (any, error) {
	return Render(input, executionCtx.TemplateData())
}

// RenderString renders and coerces the result back to a string, for message
// bodies where JSON/number coercion is unwanted.
func RenderString(input string, executionCtx *models.ExecutionContext) (string, error) {
	tmpl, err := Parse(input)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, executionCtx.TemplateData())
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", input, err)
	}

	return buf.String(), nil
}

// Parse validates a template without executing it.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.New("render").Funcs(funcMap()).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			num := make([]byte, 1)

			_, err := rand.Read(num)
			if err != nil {
				return 0
			}

			return int(num[0]) % max
		},
	}
}

// Render executes the template and coerces the output: JSON-looking results
// decode to structured values, then numbers, then booleans, else string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
