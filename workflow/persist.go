package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeaimedia/carousel_backend/engine"
	"github.com/edgeaimedia/carousel_backend/models"
	"github.com/edgeaimedia/carousel_backend/utils"
)

const (
	rowVisibilityRetries = 3
	rowVisibilityDelay   = 2 * time.Second
)

// waitForGeneration retries a short, bounded number of times for the owning
// row to become visible. Persistence can race the dispatch transaction when
// the engine calls back unusually fast.
func (o *Orchestrator) waitForGeneration(ctx context.Context, generationId string) (*models.Generation, error) {
	var lastErr error
	for attempt := 0; attempt < rowVisibilityRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(rowVisibilityDelay):
			}
		}
		generation, err := o.Store.GetGeneration(ctx, generationId)
		if err == nil {
			return generation, nil
		}
		lastErr = err
		if err != utils.ErrorRecordNotFound {
			return nil, err
		}
	}
	return nil, fmt.Errorf("generation %s not visible after %d attempts: %w", generationId, rowVisibilityRetries, lastErr)
}

// PersistImages re-hosts engine slide renders into the image bucket under
// deterministic keys and upserts slide rows. Re-running overwrites the same
// objects and rows, so duplicate triggers converge instead of accumulating.
func (o *Orchestrator) PersistImages(ctx context.Context, generationId string, slides []models.GeneratedSlide) error {
	if len(slides) == 0 {
		return nil
	}
	if _, err := o.waitForGeneration(ctx, generationId); err != nil {
		return err
	}

	slidesConfig, err := o.Store.GetSlidesConfig(ctx, generationId)
	if err != nil && err != utils.ErrorRecordNotFound {
		o.logError("PersistImages", generationId, err)
	}

	rows := make([]models.Slide, 0, len(slides))
	for _, slide := range slides {
		// Text-baked render preferred for display; the clean render stays
		// available as animation input.
		sourceUrl := slide.ProcessedImageUrl
		if sourceUrl == "" {
			sourceUrl = slide.ImageUrl
		}
		if sourceUrl == "" {
			continue
		}

		// A callback can echo back a URL we already host; no point fetching
		// our own object to overwrite itself.
		var hostedUrl string
		if bucket, _ := utils.ExtractObjectKeyFromURL(sourceUrl); bucket == o.ImageBucket {
			hostedUrl = sourceUrl
		} else {
			object := fmt.Sprintf("%s/slide-%d.png", generationId, slide.SlideNumber)
			hostedUrl, err = o.Blobs.UploadFromURL(ctx, o.ImageBucket, object, sourceUrl, "image/png")
			if err != nil {
				// Keep the engine-hosted URL rather than failing the batch.
				o.logError("PersistImages", generationId, err)
				hostedUrl = sourceUrl
			}
		}

		headline, bodyText := slide.Headline, slide.BodyText
		if headline == "" && bodyText == "" {
			if idx := slide.SlideNumber - 1; idx >= 0 && idx < len(slidesConfig) {
				headline = slidesConfig[idx].Headline
				bodyText = slidesConfig[idx].BodyText
			}
		}

		rows = append(rows, models.Slide{
			GenerationId: generationId,
			SlideNumber:  slide.SlideNumber,
			ImageUrl:     hostedUrl,
			OriginalUrl:  sourceUrl,
			Headline:     headline,
			BodyText:     bodyText,
		})
	}
	if len(rows) == 0 {
		return fmt.Errorf("no persistable slides for %s", generationId)
	}

	if err := o.Store.UpsertSlides(ctx, rows); err != nil {
		return err
	}
	return o.Store.UpdateGeneration(ctx, generationId, map[string]interface{}{
		"status": models.GenerationStatusComplete,
	})
}

// PersistVideo re-hosts the final video into the video bucket and records the
// hosted URL on the generation row and in the status snapshot.
func (o *Orchestrator) PersistVideo(ctx context.Context, generationId string, videoUrl string) error {
	if videoUrl == "" {
		return nil
	}
	if _, err := o.waitForGeneration(ctx, generationId); err != nil {
		return err
	}

	// Videos run to ~100MB; skip the transfer when a duplicate trigger
	// already re-hosted this one.
	object := generationId + "/video.mp4"
	var hostedUrl string
	if exists, err := o.Blobs.Exists(ctx, o.VideoBucket, object); err == nil && exists {
		hostedUrl = utils.BuildObjectAccessURL(o.VideoBucket, object)
	} else {
		hostedUrl, err = o.Blobs.UploadFromURL(ctx, o.VideoBucket, object, videoUrl, "video/mp4")
		if err != nil {
			o.logError("PersistVideo", generationId, err)
			hostedUrl = videoUrl
		}
	}

	if err := o.Store.UpdateGeneration(ctx, generationId, map[string]interface{}{
		"status":    models.GenerationStatusComplete,
		"video_url": hostedUrl,
	}); err != nil {
		return err
	}

	stored, err := o.Store.GetStatusDetails(ctx, generationId)
	if err != nil && err != utils.ErrorRecordNotFound {
		return err
	}
	merged := models.MergeVideoSuccess(stored, hostedUrl)
	return o.Store.SetStatusDetails(ctx, generationId, merged)
}

// persistFromAck converts ack slides into stored slide shape; used by tasks.
func persistSlidesFromAck(slides []engine.AckSlide) []models.GeneratedSlide {
	out := make([]models.GeneratedSlide, 0, len(slides))
	for _, slide := range slides {
		out = append(out, models.GeneratedSlide{
			ID:                slide.ID,
			SlideNumber:       slide.SlideNumber,
			ImageUrl:          slide.ImageUrl,
			ProcessedImageUrl: slide.ProcessedImageUrl,
			Headline:          slide.Headline,
			BodyText:          slide.BodyText,
		})
	}
	return out
}
