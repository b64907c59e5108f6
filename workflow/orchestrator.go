package workflow

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/edgeaimedia/carousel_backend/config"
	"github.com/edgeaimedia/carousel_backend/engine"
	"github.com/edgeaimedia/carousel_backend/models"
	"github.com/edgeaimedia/carousel_backend/utils"
	"github.com/sirupsen/logrus"
)

// GenerationStore is the persistence surface the orchestrator needs. The
// production implementation is a thin wrapper over the models package; tests
// swap in an in-memory fake.
type GenerationStore interface {
	CreateGeneration(ctx context.Context, generation *models.Generation) error
	GetGeneration(ctx context.Context, generationId string) (*models.Generation, error)
	UpdateGeneration(ctx context.Context, generationId string, updates map[string]interface{}) error
	GetStatusDetails(ctx context.Context, generationId string) (*models.GenerationStatus, error)
	SetStatusDetails(ctx context.Context, generationId string, status models.GenerationStatus) error
	GetVideoExecution(ctx context.Context, generationId string) (*models.VideoExecution, error)
	SetVideoExecution(ctx context.Context, generationId string, execution models.VideoExecution) error
	GetSlidesConfig(ctx context.Context, generationId string) ([]models.SlideConfigEntry, error)
	UpsertSlides(ctx context.Context, slides []models.Slide) error
}

// BlobStore re-hosts engine-produced artifacts into our own buckets.
type BlobStore interface {
	UploadDataURI(ctx context.Context, bucket string, object string, dataURI string) (string, error)
	UploadFromURL(ctx context.Context, bucket string, object string, srcURL string, fallbackContentType string) (string, error)
	UploadBytes(ctx context.Context, bucket string, object string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, bucket string, object string) (bool, error)
}

// Engine is the workflow-engine client surface.
type Engine interface {
	StartCarousel(ctx context.Context, payload engine.CarouselPayload) (*engine.Ack, error)
	StartVideo(ctx context.Context, payload engine.VideoPayload) (*engine.Ack, error)
	GetRemoteStatus(ctx context.Context, generationId string) (json.RawMessage, error)
	FindExecutionByCorrelationID(ctx context.Context, generationId string) (*engine.VideoExecutionResult, error)
}

// TaskQueue enqueues durable background tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, generationId string, taskType string, payload interface{}, correlationId string) error
}

type Orchestrator struct {
	Store       GenerationStore
	Blobs       BlobStore
	Engine      Engine
	Tasks       TaskQueue
	Logger      *logrus.Logger
	ImageBucket string
	VideoBucket string
}

func NewOrchestrator(logger *logrus.Logger, eng Engine, tasks TaskQueue) *Orchestrator {
	imageBucket := strings.TrimSpace(os.Getenv("IMAGE_BUCKET"))
	if imageBucket == "" {
		imageBucket = "carousel-images"
	}
	videoBucket := strings.TrimSpace(os.Getenv("VIDEO_BUCKET"))
	if videoBucket == "" {
		videoBucket = "carousel-videos"
	}
	return &Orchestrator{
		Store:       dbStore{},
		Blobs:       gcsBlobStore{},
		Engine:      eng,
		Tasks:       tasks,
		Logger:      logger,
		ImageBucket: imageBucket,
		VideoBucket: videoBucket,
	}
}

// dbStore adapts the models package to GenerationStore.
type dbStore struct{}

func (dbStore) CreateGeneration(ctx context.Context, generation *models.Generation) error {
	return models.CreateGeneration(ctx, generation)
}

func (dbStore) GetGeneration(ctx context.Context, generationId string) (*models.Generation, error) {
	return models.GetGeneration(ctx, generationId)
}

func (dbStore) UpdateGeneration(ctx context.Context, generationId string, updates map[string]interface{}) error {
	return models.UpdateGeneration(ctx, generationId, updates)
}

func (dbStore) GetStatusDetails(ctx context.Context, generationId string) (*models.GenerationStatus, error) {
	return models.GetStatusDetails(ctx, generationId)
}

func (dbStore) SetStatusDetails(ctx context.Context, generationId string, status models.GenerationStatus) error {
	return models.SetStatusDetails(ctx, generationId, status)
}

func (dbStore) GetVideoExecution(ctx context.Context, generationId string) (*models.VideoExecution, error) {
	return models.GetVideoExecution(ctx, generationId)
}

func (dbStore) SetVideoExecution(ctx context.Context, generationId string, execution models.VideoExecution) error {
	return models.SetVideoExecution(ctx, generationId, execution)
}

func (dbStore) GetSlidesConfig(ctx context.Context, generationId string) ([]models.SlideConfigEntry, error) {
	return models.GetSlidesConfig(ctx, generationId)
}

func (dbStore) UpsertSlides(ctx context.Context, slides []models.Slide) error {
	return models.UpsertSlides(ctx, slides)
}

// gcsBlobStore adapts the utils GCS helpers to BlobStore.
type gcsBlobStore struct{}

func (gcsBlobStore) UploadDataURI(ctx context.Context, bucket string, object string, dataURI string) (string, error) {
	return utils.UploadDataURIToGCS(ctx, bucket, object, dataURI)
}

func (gcsBlobStore) UploadFromURL(ctx context.Context, bucket string, object string, srcURL string, fallbackContentType string) (string, error) {
	return utils.UploadFromURLToGCS(ctx, bucket, object, srcURL, fallbackContentType)
}

func (gcsBlobStore) UploadBytes(ctx context.Context, bucket string, object string, data []byte, contentType string) (string, error) {
	return utils.UploadBytesToGCS(ctx, bucket, object, data, contentType)
}

func (gcsBlobStore) Exists(ctx context.Context, bucket string, object string) (bool, error) {
	return utils.ObjectExistsInGCS(ctx, bucket, object)
}

// OutboxTaskQueue writes durable task rows for the dispatcher to publish.
type OutboxTaskQueue struct{}

func (OutboxTaskQueue) Enqueue(ctx context.Context, generationId string, taskType string, payload interface{}, correlationId string) error {
	_, err := models.EnqueueTask(ctx, generationId, taskType, payload, correlationId)
	return err
}

func (o *Orchestrator) logError(funcName string, generationId string, err error) {
	if o.Logger == nil {
		return
	}
	config.LogError(o.Logger, "workflow", funcName, generationId, nil, err)
}
