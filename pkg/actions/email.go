package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/template"
)

var ErrLeadHasNoEmail = errors.New("lead has no email address")

func (r *Registry) executeSendEmail(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	if execCtx.Lead == nil || execCtx.Lead.Email == "" {
		return nil, ErrLeadHasNoEmail
	}

	subject, err := template.RenderString(stringParam(params, "subject"), execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}

	body, err := template.RenderString(stringParam(params, "body"), execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	if execCtx.IsTestMode {
		return map[string]any{
			"simulated": true,
			"to":        execCtx.Lead.Email,
			"subject":   subject,
			"body":      body,
		}, nil
	}

	err = r.mailer.Send(ctx, execCtx.Lead.Email, subject, body)
	if err != nil {
		return nil, fmt.Errorf("failed to queue email: %w", err)
	}

	return map[string]any{
		"queued":  true,
		"to":      execCtx.Lead.Email,
		"subject": subject,
	}, nil
}
