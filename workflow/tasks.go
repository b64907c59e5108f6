package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgeaimedia/carousel_backend/config"
	"github.com/edgeaimedia/carousel_backend/engine"
	"github.com/edgeaimedia/carousel_backend/models"
)

// DispatchVideoTask triggers the secondary workflow.
type DispatchVideoTask struct {
	Payload engine.VideoPayload `json:"payload"`
}

// PersistSlidesTask re-hosts and stores a batch of generated slides.
type PersistSlidesTask struct {
	Slides []engine.AckSlide `json:"slides"`
}

// PersistVideoTask re-hosts and stores the final video.
type PersistVideoTask struct {
	VideoUrl string `json:"videoUrl"`
}

// PoisonTaskError marks a task that will never succeed; the consumer acks it
// instead of letting the queue redeliver forever.
type PoisonTaskError struct {
	Reason string
}

func (e *PoisonTaskError) Error() string {
	return "poison task: " + e.Reason
}

// ProcessTask executes one durable task. Returning a non-poison error asks
// the transport (Pub/Sub redelivery or the dispatcher retry schedule) to try
// again; every task body is safe to re-run.
func (o *Orchestrator) ProcessTask(ctx context.Context, msg config.TaskMessage) error {
	switch msg.TaskType {
	case models.TaskDispatchVideo:
		var task DispatchVideoTask
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			return &PoisonTaskError{Reason: err.Error()}
		}
		return o.runDispatchVideo(ctx, msg.GenerationId, task)
	case models.TaskPersistSlides:
		var task PersistSlidesTask
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			return &PoisonTaskError{Reason: err.Error()}
		}
		return o.PersistImages(ctx, msg.GenerationId, persistSlidesFromAck(task.Slides))
	case models.TaskPersistVideo:
		var task PersistVideoTask
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			return &PoisonTaskError{Reason: err.Error()}
		}
		return o.PersistVideo(ctx, msg.GenerationId, task.VideoUrl)
	default:
		return &PoisonTaskError{Reason: fmt.Sprintf("unknown task type %q", msg.TaskType)}
	}
}

func (o *Orchestrator) runDispatchVideo(ctx context.Context, generationId string, task DispatchVideoTask) error {
	ack, err := o.Engine.StartVideo(ctx, task.Payload)
	if err != nil {
		// The failure lands in the status store, not just logs: the task may
		// go DEAD after retries and a silent drop would strand the poller
		// on animating forever.
		o.writeVideoError(ctx, generationId, "video workflow trigger failed: "+err.Error())
		return err
	}
	if o.Logger != nil {
		o.Logger.WithField("generation_id", generationId).Info("video workflow started: " + ack.Message)
	}
	// Trigger accepted: reset any earlier trigger-failure state so the
	// reconciler owns the outcome from here.
	return o.Store.SetVideoExecution(ctx, generationId, models.VideoExecution{Pending: true})
}
