package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeaimedia/carousel_backend/config"
	"github.com/edgeaimedia/carousel_backend/utils"
	"gorm.io/gorm"
)

// Generation is one carousel generation job. StatusDetails, VideoExecution and
// SlidesConfig are JSON blobs: the status snapshot is read-modify-write on the
// callback path only, the video execution blob on the poll path only, so the
// two never contend on the same column.
type Generation struct {
	ID             int        `gorm:"primary_key" json:"id"`
	GenerationId   string     `gorm:"size:64;uniqueIndex;not null" json:"generation_id"`
	HeroImageUrl   string     `gorm:"type:text" json:"hero_image_url"`
	HeroThumbnailUrl string   `gorm:"type:text" json:"hero_thumbnail_url"`
	ArtStyle       string     `gorm:"size:100" json:"art_style"`
	SlideCount     int        `gorm:"not null;default:0" json:"slide_count"`
	OutputType     OutputType `gorm:"size:20;not null;default:'static'" json:"output_type"`
	Status         string     `gorm:"size:20;index;not null;default:'generating'" json:"status"`
	StatusDetails  []byte     `gorm:"type:json" json:"status_details"`
	VideoExecution []byte     `gorm:"type:json" json:"video_execution"`
	SlidesConfig   []byte     `gorm:"type:json" json:"slides_config"`
	VideoUrl       string     `gorm:"type:text" json:"video_url"`
	ZipUrl         string     `gorm:"type:text" json:"zip_url"`
	RecipientEmail string     `gorm:"size:255" json:"recipient_email"`
	MusicTrackId   string     `gorm:"size:50" json:"music_track_id"`
	Slides         []Slide    `gorm:"foreignKey:GenerationId;references:GenerationId" json:"slides"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewGenerationId returns an id in the historical wire format; clients and the
// workflow engine treat it as opaque but the prefix keeps logs greppable.
func NewGenerationId() string {
	return fmt.Sprintf("gen_%d_%s", time.Now().UnixMilli(), utils.RandomBase36(9))
}

func CreateGeneration(ctx context.Context, generation *Generation) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(generation).Error
}

func GetGeneration(ctx context.Context, generationId string) (*Generation, error) {
	db := config.GetDB()
	var generation Generation
	err := db.WithContext(ctx).Where("generation_id = ?", generationId).First(&generation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &generation, nil
}

// UpdateGeneration applies a partial column update keyed by generation_id.
func UpdateGeneration(ctx context.Context, generationId string, updates map[string]interface{}) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Generation{}).
		Where("generation_id = ?", generationId).
		Updates(updates).Error
}

func GetStatusDetails(ctx context.Context, generationId string) (*GenerationStatus, error) {
	generation, err := GetGeneration(ctx, generationId)
	if err != nil {
		return nil, err
	}
	if len(generation.StatusDetails) == 0 {
		return nil, nil
	}
	var status GenerationStatus
	if err := utils.UnmarshalFromJSON(generation.StatusDetails, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetStatusDetails overwrites the status snapshot and keeps the coarse status
// column in sync for gallery filtering.
func SetStatusDetails(ctx context.Context, generationId string, status GenerationStatus) error {
	raw, err := utils.MarshalToJSON(status)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status_details": []byte(raw),
	}
	switch status.Status {
	case StageComplete:
		updates["status"] = GenerationStatusComplete
	case StageError:
		updates["status"] = GenerationStatusError
	default:
		updates["status"] = GenerationStatusGenerating
	}
	if status.Results != nil {
		if status.Results.VideoUrl != "" {
			updates["video_url"] = status.Results.VideoUrl
		}
		if status.Results.ZipUrl != "" {
			updates["zip_url"] = status.Results.ZipUrl
		}
	}
	return UpdateGeneration(ctx, generationId, updates)
}

func GetVideoExecution(ctx context.Context, generationId string) (*VideoExecution, error) {
	generation, err := GetGeneration(ctx, generationId)
	if err != nil {
		return nil, err
	}
	if len(generation.VideoExecution) == 0 {
		return nil, nil
	}
	var execution VideoExecution
	if err := utils.UnmarshalFromJSON(generation.VideoExecution, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

func SetVideoExecution(ctx context.Context, generationId string, execution VideoExecution) error {
	raw, err := utils.MarshalToJSON(execution)
	if err != nil {
		return err
	}
	return UpdateGeneration(ctx, generationId, map[string]interface{}{
		"video_execution": []byte(raw),
	})
}

func GetSlidesConfig(ctx context.Context, generationId string) ([]SlideConfigEntry, error) {
	generation, err := GetGeneration(ctx, generationId)
	if err != nil {
		return nil, err
	}
	if len(generation.SlidesConfig) == 0 {
		return nil, nil
	}
	var entries []SlideConfigEntry
	if err := utils.UnmarshalFromJSON(generation.SlidesConfig, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GalleryQuery narrows the gallery listing. OutputTypes empty means all.
type GalleryQuery struct {
	Status      string
	OutputTypes []OutputType
	Limit       int
	Offset      int
}

// GetGenerations lists rows for the gallery, newest first, slides preloaded.
func GetGenerations(ctx context.Context, query GalleryQuery) ([]*Generation, error) {
	db := config.GetDB()
	limit := query.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := db.WithContext(ctx).Model(&Generation{}).
		Preload("Slides", func(db *gorm.DB) *gorm.DB {
			return db.Order("slide_number ASC")
		}).
		Order("created_at DESC").
		Limit(limit).Offset(query.Offset)
	if query.Status != "" {
		q = q.Where("status = ?", query.Status)
	}
	if len(query.OutputTypes) > 0 {
		q = q.Where("output_type IN ?", query.OutputTypes)
	}
	var generations []*Generation
	if err := q.Find(&generations).Error; err != nil {
		return nil, err
	}
	return generations, nil
}

func GetGenerationWithSlides(ctx context.Context, generationId string) (*Generation, error) {
	db := config.GetDB()
	var generation Generation
	err := db.WithContext(ctx).
		Preload("Slides", func(db *gorm.DB) *gorm.DB {
			return db.Order("slide_number ASC")
		}).
		Where("generation_id = ?", generationId).
		First(&generation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &generation, nil
}
