package engine

import "encoding/json"

// CarouselSlideInput is user-authored slide content forwarded to the engine.
type CarouselSlideInput struct {
	ID              string `json:"id"`
	SlideNumber     int    `json:"slideNumber"`
	Headline        string `json:"headline"`
	BodyText        string `json:"bodyText"`
	CharacterAction string `json:"characterAction,omitempty"`
}

type Branding struct {
	Text     string `json:"text"`
	Position string `json:"position"` // top|bottom|watermark
}

// CarouselPayload is the primary (static image) workflow trigger body.
type CarouselPayload struct {
	GenerationId      string               `json:"generationId"`
	HeroImage         string               `json:"heroImage"`
	SlideCount        int                  `json:"slideCount"`
	ArtStyle          string               `json:"artStyle"`
	CustomStylePrompt string               `json:"customStylePrompt,omitempty"`
	Slides            []CarouselSlideInput `json:"slides"`
	Branding          *Branding            `json:"branding,omitempty"`
	OutputType        string               `json:"outputType"`
	MusicTrackId      string               `json:"musicTrackId,omitempty"`
	RecipientEmail    string               `json:"recipientEmail,omitempty"`
	CallbackUrl       string               `json:"callbackUrl,omitempty"`
}

type VideoSlide struct {
	SlideNumber int    `json:"slideNumber"`
	ImageUrl    string `json:"imageUrl"`
}

// VideoPayload is the secondary (video) workflow trigger body. Durations are
// seconds; the engine expects plain JSON numbers.
type VideoPayload struct {
	GenerationId       string       `json:"generationId"`
	Slides             []VideoSlide `json:"slides"`
	MusicTrackId       string       `json:"musicTrackId,omitempty"`
	MusicUrl           string       `json:"musicUrl,omitempty"`
	SlideDuration      float64      `json:"slideDuration"`
	TransitionDuration float64      `json:"transitionDuration"`
	RecipientEmail     string       `json:"recipientEmail,omitempty"`
}

// AckSlide is a slide entry inside a synchronous webhook acknowledgement.
type AckSlide struct {
	ID                string `json:"id"`
	SlideNumber       int    `json:"slideNumber"`
	ImageUrl          string `json:"imageUrl"`
	ProcessedImageUrl string `json:"processedImageUrl"`
	Headline          string `json:"headline"`
	BodyText          string `json:"bodyText"`
	Success           *bool  `json:"success"`
}

type AckResults struct {
	Slides   []AckSlide `json:"slides"`
	VideoUrl string     `json:"videoUrl"`
	ZipUrl   string     `json:"zipUrl"`
}

// Ack is a webhook response. The primary webhook responds from its last node
// and carries results; the video webhook responds on receipt and may answer
// with a bare string, which decodes to a zero Ack with Raw retained.
type Ack struct {
	Success      bool        `json:"success"`
	GenerationId string      `json:"generationId"`
	Message      string      `json:"message"`
	Results      *AckResults `json:"results"`
	Slides       []AckSlide  `json:"slides"` // legacy top-level shape
	Raw          string      `json:"-"`
}

// GeneratedSlides returns ack slides from either shape.
func (a *Ack) GeneratedSlides() []AckSlide {
	if a.Results != nil && len(a.Results.Slides) > 0 {
		return a.Results.Slides
	}
	return a.Slides
}

type ExecutionState string

const (
	ExecutionPending ExecutionState = "pending"
	ExecutionRunning ExecutionState = "running"
	ExecutionSuccess ExecutionState = "success"
	ExecutionError   ExecutionState = "error"
)

type ExecutionClip struct {
	SlideNumber int    `json:"slideNumber"`
	VideoUrl    string `json:"videoUrl"`
	Success     *bool  `json:"success"`
}

// VideoExecutionResult is the classified outcome of one execution scan.
type VideoExecutionResult struct {
	Status     ExecutionState
	VideoUrl   string
	VideoClips []ExecutionClip
	Message    string
}

// execution mirrors just the slice of the engine's execution object we read.
type execution struct {
	ID       json.Number `json:"id"`
	Status   string      `json:"status"`
	Finished bool        `json:"finished"`
	Data     *struct {
		ResultData struct {
			RunData map[string][]nodeRun `json:"runData"`
		} `json:"resultData"`
	} `json:"data"`
}

type nodeRun struct {
	Data struct {
		Main [][]struct {
			JSON json.RawMessage `json:"json"`
		} `json:"main"`
	} `json:"data"`
}

// firstItem returns the first output item's json of the first run, nil when
// the node produced nothing.
func firstItem(runs []nodeRun) json.RawMessage {
	if len(runs) == 0 {
		return nil
	}
	main := runs[0].Data.Main
	if len(main) == 0 || len(main[0]) == 0 {
		return nil
	}
	return main[0][0].JSON
}

type executionList struct {
	Data []execution `json:"data"`
}
