package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

// Comparison operators accepted by condition nodes.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
)

// ConversationStats summarizes the message history a condition may inspect.
type ConversationStats struct {
	LeadMessages  int
	TotalMessages int
	LastMessageAt *time.Time
}

// ConditionResult carries the chosen edge label and a human readable reason
// for the step history.
type ConditionResult struct {
	Path   string
	Result bool
	Reason string
}

// EvaluateCondition resolves a condition node to a yes/no path over the
// execution context. Unknown condition types evaluate to no rather than
// failing the pass.
func EvaluateCondition(
	node *models.Node,
	execCtx *models.ExecutionContext,
	stats ConversationStats,
) ConditionResult {
	conditionType, _ := node.Data["conditionType"].(string)
	if conditionType == "" {
		conditionType, _ = node.Data["condition"].(string)
	}

	operator, _ := node.Data["operator"].(string)
	value := node.Data["value"]
	expected := node.Data["expected"]

	result, reason := evaluate(conditionType, operator, value, expected, execCtx, stats)

	path := models.EdgeLabelNo
	if result {
		path = models.EdgeLabelYes
	}

	return ConditionResult{Path: path, Result: result, Reason: reason}
}

func evaluate(
	conditionType, operator string,
	value, expected any,
	execCtx *models.ExecutionContext,
	stats ConversationStats,
) (bool, string) {
	switch conditionType {
	case "invite_accepted":
		ok := execCtx.Event == models.EventInviteAccepted

		return ok, fmt.Sprintf("event is %s", execCtx.Event)

	case "invite_ignored":
		ok := execCtx.Event == models.EventNoResponse

		return ok, fmt.Sprintf("event is %s", execCtx.Event)

	case "response_received":
		ok := execCtx.Event == models.EventMessageReceived && execCtx.Message != ""

		return ok, fmt.Sprintf("message present: %t", ok)

	case "has_responded":
		ok := stats.LeadMessages > 0

		return ok, fmt.Sprintf("lead sent %d messages", stats.LeadMessages)

	case "has_email":
		ok := execCtx.Lead != nil && execCtx.Lead.Email != ""

		return ok, fmt.Sprintf("email available: %t", ok)

	case "has_phone":
		ok := execCtx.Lead != nil && execCtx.Lead.Phone != ""

		return ok, fmt.Sprintf("phone available: %t", ok)

	case "is_qualified":
		status := ""
		if execCtx.Lead != nil {
			status = execCtx.Lead.Status
		}

		ok := status == models.LeadStatusQualified || status == "engaged" || status == "ready_to_buy"

		return ok, fmt.Sprintf("lead status %q", status)

	case "keyword":
		return evaluateKeyword(operator, value, execCtx.Message)

	case "lead_status":
		status := ""
		if execCtx.Lead != nil {
			status = execCtx.Lead.Status
		}

		ok := compareStrings(status, operator, stringValue(value))

		return ok, fmt.Sprintf("lead status %q %s %v", status, operator, value)

	case "message_count":
		ok := compareNumbers(float64(stats.TotalMessages), operator, numberValue(value))

		return ok, fmt.Sprintf("%d messages %s %v", stats.TotalMessages, operator, value)

	case "time_elapsed":
		if stats.LastMessageAt == nil {
			return false, "no prior message"
		}

		elapsed := time.Since(*stats.LastMessageAt).Seconds()
		ok := compareNumbers(elapsed, operator, numberValue(value))

		return ok, fmt.Sprintf("%.0fs elapsed %s %v", elapsed, operator, value)

	case "custom":
		return evaluateVariablePath(operator, value, expected, execCtx)

	default:
		return false, fmt.Sprintf("unknown condition type %q", conditionType)
	}
}

func evaluateKeyword(operator string, value any, message string) (bool, string) {
	keyword := strings.ToLower(stringValue(value))
	haystack := strings.ToLower(message)

	if keyword == "" || haystack == "" {
		return false, "empty message or keyword"
	}

	var ok bool

	switch operator {
	case OpNotContains:
		ok = !strings.Contains(haystack, keyword)
	case OpEquals:
		ok = haystack == keyword
	case OpNotEquals:
		ok = haystack != keyword
	default:
		ok = strings.Contains(haystack, keyword)
	}

	return ok, fmt.Sprintf("message %s %q", operator, keyword)
}

// evaluateVariablePath walks a dot path like "variables.qualified" over the
// execution context. Without an operator the resolved value is truth-tested;
// with one it is compared against the node's expected parameter.
func evaluateVariablePath(operator string, value, expected any, execCtx *models.ExecutionContext) (bool, string) {
	path := stringValue(value)
	if path == "" {
		return false, "empty variable path"
	}

	current := any(execCtx.TemplateData())
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			current = nil

			break
		}

		current = m[part]
	}

	if operator == "" {
		ok := truthy(current)

		return ok, fmt.Sprintf("%s = %v", path, current)
	}

	var ok bool

	switch operator {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		ok = compareNumbers(numberValue(current), operator, numberValue(expected))
	default:
		ok = compareStrings(stringValue(current), operator, stringValue(expected))
	}

	return ok, fmt.Sprintf("%s = %v, %s %v", path, current, operator, expected)
}

func compareStrings(actual, operator, expected string) bool {
	actual = strings.ToLower(actual)
	expected = strings.ToLower(expected)

	switch operator {
	case OpNotEquals:
		return actual != expected
	case OpContains:
		return strings.Contains(actual, expected)
	case OpNotContains:
		return !strings.Contains(actual, expected)
	default:
		return actual == expected
	}
}

func compareNumbers(actual float64, operator string, expected float64) bool {
	switch operator {
	case OpNotEquals:
		return actual != expected
	case OpGreaterThan:
		return actual > expected
	case OpLessThan:
		return actual < expected
	case OpGreaterOrEqual:
		return actual >= expected
	case OpLessOrEqual:
		return actual <= expected
	default:
		return actual == expected
	}
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}

func numberValue(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case int:
		return float64(value)
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}

		return parsed
	default:
		return 0
	}
}

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != "" && value != "false"
	case float64:
		return value != 0
	case int:
		return value != 0
	default:
		return true
	}
}
