package actions

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

const defaultPauseDuration = time.Hour

var durationPattern = regexp.MustCompile(`^(\d+)\s*([smhd])?$`)

// executePause computes the pause duration and reports when to resume. The
// engine persists the paused state and schedules the resume job; the
// executor itself has no side effects.
func (r *Registry) executePause(
	_ context.Context,
	node *models.Node,
	params map[string]any,
	execCtx *models.ExecutionContext,
	result *models.ActionExecutionResult,
) (map[string]any, error) {
	duration := r.pauseDuration(params)

	resumeAt := time.Now().UTC().Add(duration)
	result.ResumeAt = &resumeAt

	if execCtx.IsTestMode {
		return map[string]any{
			"simulated": true,
			"duration":  duration.String(),
			"resume_at": resumeAt,
		}, nil
	}

	return map[string]any{
		"paused":    true,
		"node_id":   node.ID,
		"duration":  duration.String(),
		"resume_at": resumeAt,
	}, nil
}

func (r *Registry) pauseDuration(params map[string]any) time.Duration {
	if boolParam(params, "randomMode", false) {
		minDuration, minOK := parseDuration(params["minDuration"])
		maxDuration, maxOK := parseDuration(params["maxDuration"])

		if minOK && maxOK && maxDuration > minDuration {
			return minDuration + randomDuration(maxDuration-minDuration)
		}
	}

	if duration, ok := parseDuration(params["duration"]); ok {
		return duration
	}

	if raw, ok := params["duration"].(map[string]any); ok {
		if duration, ok := parseValueUnit(raw); ok {
			return duration
		}
	}

	return defaultPauseDuration
}

// parseDuration accepts "30m" style strings (bare numbers are minutes) and
// numeric millisecond values.
func parseDuration(raw any) (time.Duration, bool) {
	switch value := raw.(type) {
	case string:
		match := durationPattern.FindStringSubmatch(value)
		if match == nil {
			return 0, false
		}

		amount, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, false
		}

		unit := match[2]
		if unit == "" {
			unit = "m"
		}

		return time.Duration(amount) * unitDuration(unit), true
	case float64:
		return time.Duration(value) * time.Millisecond, true
	case int:
		return time.Duration(value) * time.Millisecond, true
	default:
		return 0, false
	}
}

// parseValueUnit accepts the {value, unit} shape some definitions use.
func parseValueUnit(raw map[string]any) (time.Duration, bool) {
	var amount int

	switch value := raw["value"].(type) {
	case float64:
		amount = int(value)
	case int:
		amount = value
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, false
		}

		amount = parsed
	default:
		return 0, false
	}

	unit, _ := raw["unit"].(string)

	switch unit {
	case "seconds", "s":
		return time.Duration(amount) * time.Second, true
	case "minutes", "m", "":
		return time.Duration(amount) * time.Minute, true
	case "hours", "h":
		return time.Duration(amount) * time.Hour, true
	case "days", "d":
		return time.Duration(amount) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "s":
		return time.Second
	case "h":
		return time.Hour
	case "d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func randomDuration(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return span / 2
	}

	return time.Duration(n.Int64())
}

// FormatDuration renders a duration the way operators read it.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Round(time.Second).Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Round(time.Minute).Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Round(time.Hour).Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Round(24*time.Hour).Hours()/24))
	}
}
