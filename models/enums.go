package models

// Coarse persisted column on the generations table.
const (
	GenerationStatusGenerating = "generating"
	GenerationStatusComplete   = "complete"
	GenerationStatusError      = "error"
)

// Display stage exposed to polling clients.
type GenerationStage string

const (
	StagePending    GenerationStage = "pending"
	StageAnalyzing  GenerationStage = "analyzing"
	StageGenerating GenerationStage = "generating"
	StageAnimating  GenerationStage = "animating"
	StageComplete   GenerationStage = "complete"
	StageError      GenerationStage = "error"
)

// StageState tracks one artifact dimension (images or video) independently of
// the folded display stage, so terminality is checkable per dimension.
type StageState string

const (
	StateUnset    StageState = ""
	StatePending  StageState = "pending"
	StateRunning  StageState = "running"
	StateComplete StageState = "complete"
	StateError    StageState = "error"
)

func (s StageState) Terminal() bool {
	return s == StateComplete || s == StateError
}

type OutputType string

const (
	OutputStatic OutputType = "static"
	OutputVideo  OutputType = "video"
	OutputBoth   OutputType = "both"
)

func (o OutputType) WantsVideo() bool {
	return o == OutputVideo || o == OutputBoth
}

// Background task types carried through the outbox.
const (
	TaskDispatchVideo = "dispatch-video"
	TaskPersistSlides = "persist-slides"
	TaskPersistVideo  = "persist-video"
)

// Outbox publish lifecycle.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
