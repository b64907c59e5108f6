package models

import (
	"errors"
)

// GeneratedSlide is one slide entry inside a status snapshot. ImageUrl is the
// clean (text-free) render used as animation input; ProcessedImageUrl is the
// text-baked render used for static display. Either may be absent.
type GeneratedSlide struct {
	ID                string `json:"id"`
	SlideNumber       int    `json:"slideNumber"`
	ImageUrl          string `json:"imageUrl"`
	ProcessedImageUrl string `json:"processedImageUrl,omitempty"`
	Headline          string `json:"headline,omitempty"`
	BodyText          string `json:"bodyText,omitempty"`
}

type GenerationResults struct {
	Slides   []GeneratedSlide `json:"slides"`
	VideoUrl string           `json:"videoUrl,omitempty"`
	ZipUrl   string           `json:"zipUrl,omitempty"`
}

type VideoClip struct {
	SlideNumber int    `json:"slideNumber"`
	VideoUrl    string `json:"videoUrl"`
}

// GenerationStatus is the reconciled snapshot exposed to polling clients and
// persisted in generations.status_details. Status is the folded display stage;
// ImagesState and VideoState track the two artifact dimensions independently so
// a late image callback cannot downgrade a terminal snapshot while the video
// reconciler can still move it through animating back to complete.
type GenerationStatus struct {
	Status       GenerationStage    `json:"status"`
	Progress     int                `json:"progress"`
	CurrentSlide int                `json:"currentSlide,omitempty"`
	TotalSlides  int                `json:"totalSlides,omitempty"`
	Message      string             `json:"message,omitempty"`
	Error        string             `json:"error,omitempty"`
	ImagesState  StageState         `json:"imagesState,omitempty"`
	VideoState   StageState         `json:"videoState,omitempty"`
	Results      *GenerationResults `json:"results,omitempty"`
}

// VideoExecution tracks the secondary (video) job, persisted in its own JSON
// column because it is written by the poll path, not the callback path.
type VideoExecution struct {
	Pending     bool        `json:"pending"`
	VideoUrl    string      `json:"videoUrl,omitempty"`
	VideoClips  []VideoClip `json:"videoClips,omitempty"`
	LastChecked int64       `json:"lastChecked,omitempty"`
}

// SlideConfigEntry is the user-authored slide text snapshot kept on the
// generation row; persisted results may omit text and fall back to it by index.
type SlideConfigEntry struct {
	Headline string `json:"headline"`
	BodyText string `json:"bodyText"`
}

// ErrStaleFragment is returned when a callback fragment would downgrade a
// terminal images dimension back to a non-terminal one.
var ErrStaleFragment = errors.New("stale fragment: images dimension already terminal")

func (s *GenerationStatus) Terminal() bool {
	return s != nil && (s.Status == StageComplete || s.Status == StageError)
}

func (s *GenerationStatus) HasSlides() bool {
	return s != nil && s.Results != nil && len(s.Results.Slides) > 0
}

// imagesStateFromStage infers the images dimension from an engine fragment
// that only carries the folded display stage.
func imagesStateFromStage(stage GenerationStage) StageState {
	switch stage {
	case StagePending:
		return StatePending
	case StageAnalyzing, StageGenerating:
		return StateRunning
	case StageAnimating, StageComplete:
		// animating means images finished and the video job took over
		return StateComplete
	case StageError:
		return StateError
	default:
		return StateUnset
	}
}

// ApplyFragment folds a cumulative engine fragment into the stored snapshot.
// The engine sends full snapshots, so acceptance is replacement, not a field
// merge; the only state carried over from the stored snapshot is the video
// dimension (owned by the poll reconciler, which the engine knows nothing
// about). Returns ErrStaleFragment when the stored images dimension is
// terminal and the fragment is not.
func ApplyFragment(stored *GenerationStatus, fragment GenerationStatus) (GenerationStatus, error) {
	next := fragment
	if next.ImagesState == StateUnset {
		next.ImagesState = imagesStateFromStage(next.Status)
	}

	if stored != nil {
		if stored.ImagesState.Terminal() && !next.ImagesState.Terminal() {
			return *stored, ErrStaleFragment
		}
		// Video dimension belongs to the reconciler; keep it.
		if next.VideoState == StateUnset {
			next.VideoState = stored.VideoState
		}
		if stored.Results != nil && stored.Results.VideoUrl != "" {
			if next.Results == nil {
				next.Results = &GenerationResults{}
			}
			if next.Results.VideoUrl == "" {
				next.Results.VideoUrl = stored.Results.VideoUrl
			}
		}
	}

	next.Status = deriveStage(next)
	return next, nil
}

// MergeVideoSuccess records the reconciled video result into the snapshot.
func MergeVideoSuccess(stored *GenerationStatus, videoUrl string) GenerationStatus {
	var next GenerationStatus
	if stored != nil {
		next = *stored
	}
	if next.Results == nil {
		next.Results = &GenerationResults{Slides: []GeneratedSlide{}}
	}
	next.Results.VideoUrl = videoUrl
	next.VideoState = StateComplete
	if next.ImagesState == StateUnset {
		next.ImagesState = StateComplete
	}
	next.Status = deriveStage(next)
	next.Progress = 100
	next.Message = "Generation complete!"
	next.Error = ""
	return next
}

// MergeVideoError marks the video dimension terminally failed.
func MergeVideoError(stored *GenerationStatus, message string) GenerationStatus {
	var next GenerationStatus
	if stored != nil {
		next = *stored
	}
	next.VideoState = StateError
	next.Status = StageError
	if message == "" {
		message = "Video generation failed"
	}
	next.Error = message
	return next
}

// Animating returns a transient copy reported while the video job runs; the
// stored snapshot is not mutated by in-progress polls.
func Animating(stored *GenerationStatus, message string) GenerationStatus {
	var next GenerationStatus
	if stored != nil {
		next = *stored
	}
	next.Status = StageAnimating
	if message != "" {
		next.Message = message
	}
	return next
}

func deriveStage(s GenerationStatus) GenerationStage {
	if s.ImagesState == StateError || s.VideoState == StateError {
		return StageError
	}
	if s.ImagesState == StateComplete {
		switch s.VideoState {
		case StatePending, StateRunning:
			return StageAnimating
		default:
			return StageComplete
		}
	}
	// Images not finished; trust the fragment's own stage.
	return s.Status
}
