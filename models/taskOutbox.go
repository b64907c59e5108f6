package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgeaimedia/carousel_backend/config"
)

// TaskRecord is a durable background task row. Tasks are written in the same
// transaction (or at least the same request) as the state they act on, then
// published to Pub/Sub by the dispatcher; losing the process between write and
// publish only delays the task, never drops it.
type TaskRecord struct {
	ID               int        `gorm:"primary_key;index:idx_task_dispatch,priority:3" json:"id"`
	GenerationId     string     `gorm:"size:64;index;not null" json:"generation_id"`
	TaskType         string     `gorm:"size:40;not null" json:"task_type"` // dispatch-video|persist-slides|persist-video
	Payload          []byte     `gorm:"type:json" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_task_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_task_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	LastProcessError *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt      *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToTaskMessage(record TaskRecord) config.TaskMessage {
	return config.TaskMessage{
		ID:            record.ID,
		GenerationId:  record.GenerationId,
		TaskType:      record.TaskType,
		Payload:       json.RawMessage(record.Payload),
		EnqueuedAt:    record.CreatedAt,
		CorrelationId: record.CorrelationId,
	}
}

// EnqueueTask writes a PENDING task row for the dispatcher to pick up.
func EnqueueTask(ctx context.Context, generationId string, taskType string, payload interface{}, correlationId string) (*TaskRecord, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	record := TaskRecord{
		GenerationId:  generationId,
		TaskType:      taskType,
		Payload:       raw,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func MarkTaskProcessed(ctx context.Context, id int) error {
	db := config.GetDB()
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&TaskRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":       &now,
			"last_process_error": nil,
		}).Error
}

func MarkTaskProcessFailed(ctx context.Context, id int, processErr error) error {
	db := config.GetDB()
	msg := processErr.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	return db.WithContext(ctx).Model(&TaskRecord{}).
		Where("id = ?", id).
		Update("last_process_error", msg).Error
}
