package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeaimedia/carousel_backend/config"
	"github.com/edgeaimedia/carousel_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskDispatcher drains the task table: it claims due rows under SKIP LOCKED,
// publishes them to Pub/Sub, and schedules retries with exponential backoff.
// When Pub/Sub is not configured it executes tasks in-process instead, so a
// single-instance deployment needs no queue at all.
type TaskDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Orchestrator *Orchestrator
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewTaskDispatcher(db *gorm.DB, logger *logrus.Logger, orchestrator *Orchestrator) *TaskDispatcher {
	return &TaskDispatcher{
		DB:             db,
		Logger:         logger,
		Orchestrator:   orchestrator,
		DispatcherID:   uuid.NewString(),
		BatchSize:      20,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    2 * time.Minute,
		MaxAttempts:    10,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *TaskDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *TaskDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)
	db := d.DB
	if db == nil {
		return
	}

	var claimed []models.TaskRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch)
		q := tx.
			Where("processed_at IS NULL").
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Poison tasks go terminal after max attempts.
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.TaskRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].PublishAttempts = claimed[i].PublishAttempts + 1
			claimed[i].LastPublishError = nil
			if err := tx.Model(&models.TaskRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     claimed[i].PublishStatus,
				"locked_at":          claimed[i].LockedAt,
				"locked_by":          claimed[i].LockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	direct := !config.PubSubConfigured()
	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		msg := models.ConvertToTaskMessage(rec)
		if direct {
			d.executeDirect(ctx, rec, msg, now)
			continue
		}
		pubID, pubErr := config.PublishTaskWithResult(ctx, msg)
		if pubErr != nil {
			d.markPublishFailed(ctx, rec.ID, rec.GenerationId, pubErr, rec.PublishAttempts)
			continue
		}
		d.markPublishSent(ctx, rec.ID, pubID, now)
	}
}

// executeDirect runs the task in-process. Sent-plus-processed mirrors what
// the push consumer would have recorded.
func (d *TaskDispatcher) executeDirect(ctx context.Context, rec models.TaskRecord, msg config.TaskMessage, now time.Time) {
	err := d.Orchestrator.ProcessTask(ctx, msg)
	if err != nil {
		if _, poison := err.(*PoisonTaskError); poison {
			d.markPublishSent(ctx, rec.ID, "direct", now)
			_ = models.MarkTaskProcessFailed(ctx, rec.ID, err)
			return
		}
		d.markPublishFailed(ctx, rec.ID, rec.GenerationId, err, rec.PublishAttempts)
		return
	}
	d.markPublishSent(ctx, rec.ID, "direct", now)
	_ = models.MarkTaskProcessed(ctx, rec.ID)
}

func (d *TaskDispatcher) markPublishSent(ctx context.Context, recordID int, pubsubMsgID string, now time.Time) {
	db := d.DB.WithContext(ctx)
	id := pubsubMsgID
	_ = db.Model(&models.TaskRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &id,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (d *TaskDispatcher) markPublishFailed(ctx context.Context, recordID int, generationID string, err error, attempt int) {
	db := d.DB.WithContext(ctx)
	now := time.Now().UTC()
	msg := err.Error()

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.TaskRecord{}).
			Where("id = ?", recordID).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":         "TaskDispatcher",
				"generation_id": generationID,
				"record_id":     recordID,
				"attempt":       attempt,
			}).Error("task moved to DEAD after max attempts: " + fmt.Sprintf("%v", err))
		}
		return
	}

	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			backoff = time.Minute * 10
			break
		}
	}
	next := now.Add(backoff)
	_ = db.Model(&models.TaskRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "TaskDispatcher",
			"generation_id":   generationID,
			"record_id":       recordID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("task dispatch failed: " + fmt.Sprintf("%v", err))
	}
}
