package actions

import (
	"context"
	"errors"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

var (
	ErrPipelineRequired = errors.New("pipeline id is required")
	ErrStageRequired    = errors.New("stage id is required")
	ErrNoOpportunityFor = errors.New("no pipeline record to move")
)

// executeCreateOpportunity places the lead into a pipeline stage. One record
// exists per lead and pipeline; re-running moves the existing record instead
// of duplicating it.
func (r *Registry) executeCreateOpportunity(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	pipelineID := stringParam(params, "pipelineId", "pipeline_id")
	stageID := stringParam(params, "stageId", "stage_id")

	if pipelineID == "" {
		return nil, ErrPipelineRequired
	}

	if stageID == "" {
		return nil, ErrStageRequired
	}

	if execCtx.IsTestMode {
		return map[string]any{
			"simulated":   true,
			"pipeline_id": pipelineID,
			"stage_id":    stageID,
		}, nil
	}

	if execCtx.Lead == nil {
		return nil, ErrNoTagTarget
	}

	record, err := r.persistence.Pipeline().GetByLeadAndPipeline(ctx, execCtx.Lead.ID, pipelineID)

	created := false

	switch {
	case errors.Is(err, persistence.ErrPipelineRecordNotFound):
		record = &models.PipelineRecord{
			LeadID:     execCtx.Lead.ID,
			PipelineID: pipelineID,
		}
		created = true
	case err != nil:
		return nil, err
	}

	record.StageID = stageID

	err = r.persistence.Pipeline().Save(ctx, record)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"created":     created,
		"pipeline_id": pipelineID,
		"stage_id":    stageID,
	}, nil
}

// executeMoveStage moves an existing pipeline record to another stage.
func (r *Registry) executeMoveStage(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	pipelineID := stringParam(params, "pipelineId", "pipeline_id")
	stageID := stringParam(params, "stageId", "stage_id")

	if pipelineID == "" {
		return nil, ErrPipelineRequired
	}

	if stageID == "" {
		return nil, ErrStageRequired
	}

	if execCtx.IsTestMode {
		return map[string]any{
			"simulated":   true,
			"pipeline_id": pipelineID,
			"stage_id":    stageID,
		}, nil
	}

	if execCtx.Lead == nil {
		return nil, ErrNoTagTarget
	}

	record, err := r.persistence.Pipeline().GetByLeadAndPipeline(ctx, execCtx.Lead.ID, pipelineID)
	if errors.Is(err, persistence.ErrPipelineRecordNotFound) {
		return nil, ErrNoOpportunityFor
	}

	if err != nil {
		return nil, err
	}

	if record.StageID == stageID {
		// Re-delivered job; the move already happened.
		return map[string]any{"moved": false, "stage_id": stageID}, nil
	}

	record.StageID = stageID

	err = r.persistence.Pipeline().Save(ctx, record)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"moved":       true,
		"pipeline_id": pipelineID,
		"stage_id":    stageID,
	}, nil
}
