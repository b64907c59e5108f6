package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgeaimedia/carousel_backend/engine"
	"github.com/edgeaimedia/carousel_backend/models"
	"github.com/edgeaimedia/carousel_backend/utils"
)

// ReconcileVideo runs one reconciliation round for a generation with a
// pending video execution: scan the engine's recent executions, classify the
// matching one, and fold the outcome into local state. In-progress and absent
// executions cause no mutation; only terminal outcomes are written.
func (o *Orchestrator) ReconcileVideo(ctx context.Context, generationId string) (*models.GenerationStatus, error) {
	stored, err := o.Store.GetStatusDetails(ctx, generationId)
	if err != nil && err != utils.ErrorRecordNotFound {
		return nil, err
	}

	result, err := o.Engine.FindExecutionByCorrelationID(ctx, generationId)
	if err != nil {
		// Engine API unreachable is ambiguous, not terminal: report animating
		// and try again on the next poll.
		o.logError("ReconcileVideo", generationId, err)
		transient := models.Animating(stored, "Video generation in progress...")
		return &transient, nil
	}

	switch result.Status {
	case engine.ExecutionSuccess:
		return o.applyVideoSuccess(ctx, generationId, stored, result)
	case engine.ExecutionError:
		message := result.Message
		if message == "" {
			message = "Video generation failed"
		}
		o.writeVideoError(ctx, generationId, message)
		failed := models.MergeVideoError(stored, message)
		return &failed, nil
	default:
		// pending or running
		message := result.Message
		if message == "" {
			message = "Video generation in progress..."
		}
		transient := models.Animating(stored, message)
		return &transient, nil
	}
}

func (o *Orchestrator) applyVideoSuccess(ctx context.Context, generationId string, stored *models.GenerationStatus, result *engine.VideoExecutionResult) (*models.GenerationStatus, error) {
	clips := make([]models.VideoClip, 0, len(result.VideoClips))
	for _, clip := range result.VideoClips {
		clips = append(clips, models.VideoClip{SlideNumber: clip.SlideNumber, VideoUrl: clip.VideoUrl})
	}
	execution := models.VideoExecution{
		Pending:     false,
		VideoUrl:    result.VideoUrl,
		VideoClips:  clips,
		LastChecked: time.Now().UnixMilli(),
	}
	if err := o.Store.SetVideoExecution(ctx, generationId, execution); err != nil {
		return nil, err
	}

	merged := models.MergeVideoSuccess(stored, result.VideoUrl)
	if err := o.Store.SetStatusDetails(ctx, generationId, merged); err != nil {
		return nil, err
	}

	if result.VideoUrl != "" {
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		if err := o.Tasks.Enqueue(ctx, generationId, models.TaskPersistVideo, PersistVideoTask{
			VideoUrl: result.VideoUrl,
		}, correlationId); err != nil {
			o.logError("ReconcileVideo", generationId, err)
		}
	}
	return &merged, nil
}

// writeVideoError marks the video dimension terminally failed; the images
// dimension is left as it was (the slides themselves may be fine).
func (o *Orchestrator) writeVideoError(ctx context.Context, generationId string, message string) {
	stored, err := o.Store.GetStatusDetails(ctx, generationId)
	if err != nil && err != utils.ErrorRecordNotFound {
		o.logError("writeVideoError", generationId, err)
		return
	}
	merged := models.MergeVideoError(stored, message)
	if err := o.Store.SetStatusDetails(ctx, generationId, merged); err != nil {
		o.logError("writeVideoError", generationId, err)
	}
	if err := o.Store.SetVideoExecution(ctx, generationId, models.VideoExecution{
		Pending:     false,
		LastChecked: time.Now().UnixMilli(),
	}); err != nil {
		o.logError("writeVideoError", generationId, err)
	}
}

// GetStatus serves a status poll. A pending video execution triggers one
// reconcile round inline; a locally unknown id falls back to the engine's own
// status webhook before giving up.
func (o *Orchestrator) GetStatus(ctx context.Context, generationId string) (*models.GenerationStatus, error) {
	stored, err := o.Store.GetStatusDetails(ctx, generationId)
	if err != nil && err != utils.ErrorRecordNotFound {
		return nil, err
	}

	if stored != nil {
		execution, execErr := o.Store.GetVideoExecution(ctx, generationId)
		if execErr != nil && execErr != utils.ErrorRecordNotFound {
			o.logError("GetStatus", generationId, execErr)
		}
		if execution != nil && execution.Pending {
			return o.ReconcileVideo(ctx, generationId)
		}
		return stored, nil
	}

	if err == nil {
		// Row exists but no snapshot yet: dispatch is still in its first
		// moments.
		return &models.GenerationStatus{
			Status:   models.StagePending,
			Progress: 0,
			Message:  "Generation queued...",
		}, nil
	}

	remote, remoteErr := o.Engine.GetRemoteStatus(ctx, generationId)
	if remoteErr != nil {
		o.logError("GetStatus", generationId, remoteErr)
		return nil, utils.ErrorRecordNotFound
	}
	if remote == nil {
		return nil, utils.ErrorRecordNotFound
	}
	var status models.GenerationStatus
	if err := json.Unmarshal(remote, &status); err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &status, nil
}
