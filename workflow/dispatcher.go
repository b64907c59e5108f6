package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/edgeaimedia/carousel_backend/engine"
	"github.com/edgeaimedia/carousel_backend/models"
	"github.com/edgeaimedia/carousel_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const heroThumbnailWidth = 200

// GenerateRequest is the POST /api/generate-carousel body.
type GenerateRequest struct {
	HeroImage         string                      `json:"heroImage" binding:"required"`
	SlideCount        int                         `json:"slideCount" binding:"required,min=1,max=10"`
	ArtStyle          string                      `json:"artStyle"`
	CustomStylePrompt string                      `json:"customStylePrompt"`
	Slides            []engine.CarouselSlideInput `json:"slides"`
	Branding          *engine.Branding            `json:"branding"`
	OutputType        models.OutputType           `json:"outputType" binding:"omitempty,oneof=static video both"`
	MusicTrackId      string                      `json:"musicTrackId"`
	RecipientEmail    string                      `json:"recipientEmail" binding:"omitempty,email"`
}

type GenerateResponse struct {
	Success      bool   `json:"success"`
	GenerationId string `json:"generationId"`
	Message      string `json:"message,omitempty"`
}

// Dispatch validates the request, creates the generation record, and drives
// the primary workflow trigger to its synchronous acknowledgement. The id is
// resolvable through the status endpoint from the moment this returns, even
// on failure.
func (o *Orchestrator) Dispatch(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	generationId := models.NewGenerationId()
	outputType := request.OutputType
	if outputType == "" {
		outputType = models.OutputStatic
	}

	// Binding enforces this at the HTTP surface; direct callers bypass gin,
	// and the engine must never receive a garbage completion address.
	if request.RecipientEmail != "" && !utils.IsValidEmail(request.RecipientEmail) {
		request.RecipientEmail = ""
	}

	response, err := o.dispatch(ctx, generationId, outputType, request)
	if err != nil {
		// Best-effort so pollers of this id see a terminal error instead of
		// a stuck spinner.
		o.writeErrorStatus(ctx, generationId, err.Error())
		return &GenerateResponse{Success: false, GenerationId: generationId, Message: err.Error()}, err
	}
	return response, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, generationId string, outputType models.OutputType, request GenerateRequest) (*GenerateResponse, error) {
	heroUrl, heroThumbnailUrl, err := o.rehostHero(ctx, generationId, request.HeroImage)
	if err != nil {
		return nil, fmt.Errorf("hero image upload failed: %w", err)
	}

	slidesConfig := make([]models.SlideConfigEntry, 0, len(request.Slides))
	for _, slide := range request.Slides {
		slidesConfig = append(slidesConfig, models.SlideConfigEntry{
			Headline: slide.Headline,
			BodyText: slide.BodyText,
		})
	}
	slidesConfigRaw, err := utils.MarshalToJSON(slidesConfig)
	if err != nil {
		return nil, err
	}

	generation := models.Generation{
		GenerationId:     generationId,
		HeroImageUrl:     heroUrl,
		HeroThumbnailUrl: heroThumbnailUrl,
		ArtStyle:         request.ArtStyle,
		SlideCount:       request.SlideCount,
		OutputType:       outputType,
		Status:           models.GenerationStatusGenerating,
		SlidesConfig:     []byte(slidesConfigRaw),
		RecipientEmail:   request.RecipientEmail,
		MusicTrackId:     request.MusicTrackId,
	}
	if err := o.Store.CreateGeneration(ctx, &generation); err != nil {
		return nil, err
	}

	o.writeStatus(ctx, generationId, models.GenerationStatus{
		Status:      models.StageAnalyzing,
		Progress:    5,
		TotalSlides: request.SlideCount,
		Message:     "Analyzing hero image...",
		ImagesState: models.StateRunning,
	})
	o.writeStatus(ctx, generationId, models.GenerationStatus{
		Status:      models.StageGenerating,
		Progress:    10,
		TotalSlides: request.SlideCount,
		Message:     "Generating slides...",
		ImagesState: models.StateRunning,
	})

	payload := engine.CarouselPayload{
		GenerationId:      generationId,
		HeroImage:         heroUrl,
		SlideCount:        request.SlideCount,
		ArtStyle:          request.ArtStyle,
		CustomStylePrompt: request.CustomStylePrompt,
		Slides:            request.Slides,
		Branding:          request.Branding,
		OutputType:        string(outputType),
		MusicTrackId:      request.MusicTrackId,
		RecipientEmail:    request.RecipientEmail,
		CallbackUrl:       callbackURL(generationId),
	}

	ack, err := o.Engine.StartCarousel(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("carousel workflow dispatch failed: %w", err)
	}

	slides := ack.GeneratedSlides()
	if len(slides) == 0 {
		return nil, fmt.Errorf("no slides returned from carousel workflow")
	}

	wantsVideo := outputType.WantsVideo()
	status := models.GenerationStatus{
		Status:       models.StageComplete,
		Progress:     100,
		TotalSlides:  request.SlideCount,
		CurrentSlide: len(slides),
		Message:      "Generation complete!",
		ImagesState:  models.StateComplete,
		Results:      ackResults(ack, slides),
	}
	if wantsVideo {
		status.Status = models.StageAnimating
		status.Progress = 50
		status.Message = "Animating slides..."
		status.VideoState = models.StatePending
	}
	o.writeStatus(ctx, generationId, status)

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if err := o.Tasks.Enqueue(ctx, generationId, models.TaskPersistSlides, PersistSlidesTask{
		Slides: slides,
	}, correlationId); err != nil {
		o.logError("Dispatch", generationId, err)
	}

	if wantsVideo {
		if err := o.queueVideoDispatch(ctx, generationId, request, slides, correlationId); err != nil {
			o.logError("Dispatch", generationId, err)
			o.writeVideoError(ctx, generationId, "video generation could not be started: "+err.Error())
		}
	}

	return &GenerateResponse{
		Success:      true,
		GenerationId: generationId,
		Message:      ack.Message,
	}, nil
}

// queueVideoDispatch marks the video execution pending and enqueues the
// durable trigger task. Pending is set before the task exists so a status
// poll racing the enqueue reports animating, never a false complete.
func (o *Orchestrator) queueVideoDispatch(ctx context.Context, generationId string, request GenerateRequest, slides []engine.AckSlide, correlationId string) error {
	videoSlides := make([]engine.VideoSlide, 0, len(slides))
	for _, slide := range slides {
		if slide.ImageUrl == "" {
			continue
		}
		videoSlides = append(videoSlides, engine.VideoSlide{
			SlideNumber: slide.SlideNumber,
			ImageUrl:    slide.ImageUrl,
		})
	}
	if len(videoSlides) == 0 {
		return fmt.Errorf("no slides with a clean image to animate")
	}

	if err := o.Store.SetVideoExecution(ctx, generationId, models.VideoExecution{Pending: true}); err != nil {
		return err
	}

	slideDuration := decimalEnv("VIDEO_SLIDE_DURATION_SECONDS", "3")
	transitionDuration := decimalEnv("VIDEO_TRANSITION_DURATION_SECONDS", "0.5")
	estimated := slideDuration.Mul(decimal.NewFromInt(int64(len(videoSlides)))).
		Add(transitionDuration.Mul(decimal.NewFromInt(int64(len(videoSlides) - 1))))
	if o.Logger != nil {
		o.Logger.WithFields(logrus.Fields{
			"module":            "workflow",
			"generation_id":     generationId,
			"slides":            len(videoSlides),
			"estimated_seconds": estimated.String(),
		}).Info("queueing video generation")
	}

	task := DispatchVideoTask{
		Payload: engine.VideoPayload{
			GenerationId:       generationId,
			Slides:             videoSlides,
			MusicTrackId:       request.MusicTrackId,
			MusicUrl:           models.MusicURL(request.MusicTrackId),
			SlideDuration:      slideDuration.InexactFloat64(),
			TransitionDuration: transitionDuration.InexactFloat64(),
			RecipientEmail:     request.RecipientEmail,
		},
	}
	return o.Tasks.Enqueue(ctx, generationId, models.TaskDispatchVideo, task, correlationId)
}

// rehostHero uploads the data-URI hero image to the image bucket before the
// engine sees it, so the engine workflow always inputs a plain URL. A
// non-data-URI value is assumed to be an already-hosted URL and passed
// through. The thumbnail is best-effort.
func (o *Orchestrator) rehostHero(ctx context.Context, generationId string, heroImage string) (string, string, error) {
	if !strings.HasPrefix(heroImage, "data:") {
		return heroImage, "", nil
	}
	heroUrl, err := o.Blobs.UploadDataURI(ctx, o.ImageBucket, generationId+"/hero.jpg", heroImage)
	if err != nil {
		return "", "", err
	}

	heroThumbnailUrl := ""
	if thumbnail, err := utils.MakeThumbnailFromDataURI(heroImage, heroThumbnailWidth); err == nil {
		if url, err := o.Blobs.UploadBytes(ctx, o.ImageBucket, generationId+"/hero-thumb.jpg", thumbnail, "image/jpeg"); err == nil {
			heroThumbnailUrl = url
		} else {
			o.logError("rehostHero", generationId, err)
		}
	}
	return heroUrl, heroThumbnailUrl, nil
}

func ackResults(ack *engine.Ack, slides []engine.AckSlide) *models.GenerationResults {
	results := models.GenerationResults{
		Slides: make([]models.GeneratedSlide, 0, len(slides)),
	}
	for _, slide := range slides {
		results.Slides = append(results.Slides, models.GeneratedSlide{
			ID:                slide.ID,
			SlideNumber:       slide.SlideNumber,
			ImageUrl:          slide.ImageUrl,
			ProcessedImageUrl: slide.ProcessedImageUrl,
			Headline:          slide.Headline,
			BodyText:          slide.BodyText,
		})
	}
	if ack.Results != nil {
		results.VideoUrl = ack.Results.VideoUrl
		results.ZipUrl = ack.Results.ZipUrl
	}
	return &results
}

// writeStatus persists a snapshot through the merge guard; guard rejections
// here mean a racing callback already finished the generation, which is fine.
func (o *Orchestrator) writeStatus(ctx context.Context, generationId string, status models.GenerationStatus) {
	stored, err := o.Store.GetStatusDetails(ctx, generationId)
	if err != nil && err != utils.ErrorRecordNotFound {
		o.logError("writeStatus", generationId, err)
		return
	}
	merged, err := models.ApplyFragment(stored, status)
	if err != nil {
		return
	}
	if err := o.Store.SetStatusDetails(ctx, generationId, merged); err != nil {
		o.logError("writeStatus", generationId, err)
	}
}

// writeErrorStatus records a terminal failure against the id. Dispatch can
// fail before the row exists (hero re-host, row creation); the id was already
// handed out, so back it with a minimal row first or the status write would
// update zero rows and the id would 404 forever.
func (o *Orchestrator) writeErrorStatus(ctx context.Context, generationId string, message string) {
	status := models.GenerationStatus{
		Status:      models.StageError,
		Progress:    0,
		Error:       message,
		ImagesState: models.StateError,
	}
	if _, err := o.Store.GetGeneration(ctx, generationId); err == utils.ErrorRecordNotFound {
		generation := models.Generation{
			GenerationId: generationId,
			Status:       models.GenerationStatusError,
		}
		if err := o.Store.CreateGeneration(ctx, &generation); err != nil {
			o.logError("writeErrorStatus", generationId, err)
			return
		}
	}
	if err := o.Store.SetStatusDetails(ctx, generationId, status); err != nil {
		o.logError("writeErrorStatus", generationId, err)
	}
}

func callbackURL(generationId string) string {
	base := strings.TrimRight(os.Getenv("APP_BASE_URL"), "/")
	if base == "" {
		return ""
	}
	return base + "/api/status/" + generationId
}

func decimalEnv(key string, fallback string) decimal.Decimal {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			return d
		}
	}
	d, _ := decimal.NewFromString(fallback)
	return d
}
