package actions

import (
	"context"
	"errors"

	"github.com/outflowhq/outflow/pkg/models"
)

var ErrNoTagTarget = errors.New("no lead to tag")

// tagNames accepts both ["a", "b"] and [{"name": "a"}] parameter shapes.
func tagNames(params map[string]any) []string {
	raw, ok := params["tags"].([]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(raw))

	for _, item := range raw {
		switch value := item.(type) {
		case string:
			names = append(names, value)
		case map[string]any:
			if name, ok := value["name"].(string); ok {
				names = append(names, name)
			}
		}
	}

	return names
}

func (r *Registry) executeAddTag(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	tags := tagNames(params)
	if len(tags) == 0 {
		return map[string]any{"added": 0}, nil
	}

	if execCtx.IsTestMode {
		return map[string]any{"simulated": true, "tags": tags}, nil
	}

	if execCtx.Lead == nil {
		return nil, ErrNoTagTarget
	}

	for _, tag := range tags {
		err := r.persistence.Tags().Add(ctx, execCtx.Lead.ID, tag)
		if err != nil {
			return nil, err
		}
	}

	return map[string]any{"added": len(tags), "tags": tags}, nil
}

func (r *Registry) executeRemoveTag(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	removeAll := boolParam(params, "removeAll", false)
	tags := tagNames(params)

	if execCtx.IsTestMode {
		if removeAll {
			return map[string]any{"simulated": true, "removed": "all"}, nil
		}

		return map[string]any{"simulated": true, "removed": tags}, nil
	}

	if execCtx.Lead == nil {
		return nil, ErrNoTagTarget
	}

	if removeAll {
		err := r.persistence.Tags().RemoveAll(ctx, execCtx.Lead.ID)
		if err != nil {
			return nil, err
		}

		return map[string]any{"removed_all": true}, nil
	}

	for _, tag := range tags {
		err := r.persistence.Tags().Remove(ctx, execCtx.Lead.ID, tag)
		if err != nil {
			return nil, err
		}
	}

	return map[string]any{"removed": len(tags), "tags": tags}, nil
}
