package workflow

import (
	"context"
	"errors"

	"github.com/edgeaimedia/carousel_backend/models"
	"github.com/edgeaimedia/carousel_backend/utils"
)

// CallbackResponse is the body returned to the engine for every accepted
// callback. Persistence failures are not surfaced here: the engine cannot do
// anything useful with them and must not retry-storm a completed workflow.
type CallbackResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
}

// OnCallback folds an engine status fragment into the stored snapshot. A
// complete fragment carrying slides triggers synchronous image persistence
// before the response goes out, so the engine's delivery retry doubles as a
// persistence retry. Stale fragments (a non-terminal update arriving after
// the images dimension went terminal) are dropped.
func (o *Orchestrator) OnCallback(ctx context.Context, generationId string, fragment models.GenerationStatus) (*CallbackResponse, error) {
	stored, err := o.Store.GetStatusDetails(ctx, generationId)
	if err != nil && err != utils.ErrorRecordNotFound {
		return nil, err
	}

	merged, err := models.ApplyFragment(stored, fragment)
	if err != nil {
		if errors.Is(err, models.ErrStaleFragment) {
			o.logError("OnCallback", generationId, err)
			return &CallbackResponse{Success: true, Status: string(merged.Status)}, nil
		}
		return nil, err
	}

	if err := o.Store.SetStatusDetails(ctx, generationId, merged); err != nil {
		return nil, err
	}

	if fragment.Status == models.StageComplete && merged.HasSlides() {
		if err := o.PersistImages(ctx, generationId, merged.Results.Slides); err != nil {
			o.logError("OnCallback", generationId, err)
		}
	}

	return &CallbackResponse{Success: true, Status: string(merged.Status)}, nil
}
