package models

import (
	"context"
	"time"

	"github.com/edgeaimedia/carousel_backend/config"
	"gorm.io/gorm/clause"
)

// Slide is one persisted carousel slide. (generation_id, slide_number) is the
// idempotency key: re-running persistence overwrites in place instead of
// accumulating duplicates. ImageUrl is our re-hosted copy, the only URL served
// to clients; OriginalUrl is the ephemeral engine render it was fetched from.
type Slide struct {
	ID           int       `gorm:"primary_key" json:"id"`
	GenerationId string    `gorm:"size:64;not null;uniqueIndex:idx_slide_generation_number,priority:1" json:"generation_id"`
	SlideNumber  int       `gorm:"not null;uniqueIndex:idx_slide_generation_number,priority:2" json:"slide_number"`
	ImageUrl     string    `gorm:"type:text" json:"image_url"`
	OriginalUrl  string    `gorm:"type:text" json:"original_url"`
	Headline     string    `gorm:"type:text" json:"headline"`
	BodyText     string    `gorm:"type:text" json:"body_text"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertSlides writes a batch of slides, overwriting any existing row with the
// same (generation_id, slide_number).
func UpsertSlides(ctx context.Context, slides []Slide) error {
	if len(slides) == 0 {
		return nil
	}
	db := config.GetDB()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "generation_id"}, {Name: "slide_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"image_url", "original_url", "headline", "body_text", "updated_at",
		}),
	}).Create(&slides).Error
}

func GetSlides(ctx context.Context, generationId string) ([]Slide, error) {
	db := config.GetDB()
	var slides []Slide
	err := db.WithContext(ctx).
		Where("generation_id = ?", generationId).
		Order("slide_number ASC").
		Find(&slides).Error
	return slides, err
}
