package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/edgeaimedia/carousel_backend/engine"
	"github.com/edgeaimedia/carousel_backend/models"
	"github.com/edgeaimedia/carousel_backend/utils"
)

// NOTE: These tests are intentionally DB-free. The orchestrator is exercised
// against in-memory fakes; MySQL/GCS/engine integration belongs in an
// environment that can run the real dependencies.

type fakeStore struct {
	mu          sync.Mutex
	generations map[string]*models.Generation
	statuses    map[string]models.GenerationStatus
	videoExecs  map[string]models.VideoExecution
	slides      map[string]models.Slide // key: generationId|slideNumber
	statusSets  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		generations: map[string]*models.Generation{},
		statuses:    map[string]models.GenerationStatus{},
		videoExecs:  map[string]models.VideoExecution{},
		slides:      map[string]models.Slide{},
	}
}

func slideKey(generationId string, slideNumber int) string {
	return fmt.Sprintf("%s|%d", generationId, slideNumber)
}

func (s *fakeStore) CreateGeneration(ctx context.Context, generation *models.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[generation.GenerationId] = generation
	return nil
}

func (s *fakeStore) GetGeneration(ctx context.Context, generationId string) (*models.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	generation, ok := s.generations[generationId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return generation, nil
}

func (s *fakeStore) UpdateGeneration(ctx context.Context, generationId string, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	generation, ok := s.generations[generationId]
	if !ok {
		return nil
	}
	if v, ok := updates["status"].(string); ok {
		generation.Status = v
	}
	if v, ok := updates["video_url"].(string); ok {
		generation.VideoUrl = v
	}
	if v, ok := updates["zip_url"].(string); ok {
		generation.ZipUrl = v
	}
	return nil
}

func (s *fakeStore) GetStatusDetails(ctx context.Context, generationId string) (*models.GenerationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[generationId]; !ok {
		return nil, utils.ErrorRecordNotFound
	}
	status, ok := s.statuses[generationId]
	if !ok {
		return nil, nil
	}
	out := status
	return &out, nil
}

func (s *fakeStore) SetStatusDetails(ctx context.Context, generationId string, status models.GenerationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[generationId] = status
	s.statusSets++
	if generation, ok := s.generations[generationId]; ok {
		switch status.Status {
		case models.StageComplete:
			generation.Status = models.GenerationStatusComplete
		case models.StageError:
			generation.Status = models.GenerationStatusError
		default:
			generation.Status = models.GenerationStatusGenerating
		}
	}
	return nil
}

func (s *fakeStore) GetVideoExecution(ctx context.Context, generationId string) (*models.VideoExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.videoExecs[generationId]
	if !ok {
		return nil, nil
	}
	out := execution
	return &out, nil
}

func (s *fakeStore) SetVideoExecution(ctx context.Context, generationId string, execution models.VideoExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoExecs[generationId] = execution
	return nil
}

func (s *fakeStore) GetSlidesConfig(ctx context.Context, generationId string) ([]models.SlideConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	generation, ok := s.generations[generationId]
	if !ok || len(generation.SlidesConfig) == 0 {
		return nil, nil
	}
	var entries []models.SlideConfigEntry
	if err := json.Unmarshal(generation.SlidesConfig, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *fakeStore) UpsertSlides(ctx context.Context, slides []models.Slide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slide := range slides {
		s.slides[slideKey(slide.GenerationId, slide.SlideNumber)] = slide
	}
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	uploads []string // bucket/object
	fail    bool
}

func (b *fakeBlobs) record(bucket, object string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bucket + "/" + object
	b.uploads = append(b.uploads, key)
	return "https://storage.googleapis.com/" + key
}

func (b *fakeBlobs) UploadDataURI(ctx context.Context, bucket, object, dataURI string) (string, error) {
	if b.fail {
		return "", errors.New("gcs unavailable")
	}
	return b.record(bucket, object), nil
}

func (b *fakeBlobs) UploadFromURL(ctx context.Context, bucket, object, srcURL, fallbackContentType string) (string, error) {
	if b.fail {
		return "", errors.New("gcs unavailable")
	}
	return b.record(bucket, object), nil
}

func (b *fakeBlobs) UploadBytes(ctx context.Context, bucket, object string, data []byte, contentType string) (string, error) {
	if b.fail {
		return "", errors.New("gcs unavailable")
	}
	return b.record(bucket, object), nil
}

func (b *fakeBlobs) Exists(ctx context.Context, bucket, object string) (bool, error) {
	return b.count(bucket+"/"+object) > 0, nil
}

func (b *fakeBlobs) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, u := range b.uploads {
		if u == key {
			n++
		}
	}
	return n
}

type fakeEngine struct {
	mu             sync.Mutex
	carouselAck    *engine.Ack
	carouselErr    error
	carouselCalls  int
	lastCarousel   engine.CarouselPayload
	videoErr       error
	videoCalls     int
	executionRes   *engine.VideoExecutionResult
	executionErr   error
	executionCalls int
	remoteStatus   json.RawMessage
}

func (e *fakeEngine) StartCarousel(ctx context.Context, payload engine.CarouselPayload) (*engine.Ack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.carouselCalls++
	e.lastCarousel = payload
	if e.carouselErr != nil {
		return nil, e.carouselErr
	}
	return e.carouselAck, nil
}

func (e *fakeEngine) StartVideo(ctx context.Context, payload engine.VideoPayload) (*engine.Ack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoCalls++
	if e.videoErr != nil {
		return nil, e.videoErr
	}
	return &engine.Ack{Success: true, GenerationId: payload.GenerationId}, nil
}

func (e *fakeEngine) GetRemoteStatus(ctx context.Context, generationId string) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteStatus, nil
}

func (e *fakeEngine) FindExecutionByCorrelationID(ctx context.Context, generationId string) (*engine.VideoExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executionCalls++
	if e.executionErr != nil {
		return nil, e.executionErr
	}
	return e.executionRes, nil
}

type queuedTask struct {
	GenerationId string
	TaskType     string
	Payload      interface{}
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks []queuedTask
}

func (t *fakeTasks) Enqueue(ctx context.Context, generationId, taskType string, payload interface{}, correlationId string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = append(t.tasks, queuedTask{GenerationId: generationId, TaskType: taskType, Payload: payload})
	return nil
}

func (t *fakeTasks) ofType(taskType string) []queuedTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []queuedTask
	for _, task := range t.tasks {
		if task.TaskType == taskType {
			out = append(out, task)
		}
	}
	return out
}

func newTestOrchestrator() (*Orchestrator, *fakeStore, *fakeBlobs, *fakeEngine, *fakeTasks) {
	store := newFakeStore()
	blobs := &fakeBlobs{}
	eng := &fakeEngine{}
	tasks := &fakeTasks{}
	o := &Orchestrator{
		Store:       store,
		Blobs:       blobs,
		Engine:      eng,
		Tasks:       tasks,
		ImageBucket: "carousel-images",
		VideoBucket: "carousel-videos",
	}
	return o, store, blobs, eng, tasks
}

// Not a real JPEG; thumbnail generation is best-effort and expected to skip.
const heroDataURI = "data:image/jpeg;base64,aGVsbG8td29ybGQtaGVyby1pbWFnZQ=="

func staticRequest(slideCount int) GenerateRequest {
	slides := make([]engine.CarouselSlideInput, 0, slideCount)
	for i := 1; i <= slideCount; i++ {
		slides = append(slides, engine.CarouselSlideInput{
			ID:          fmt.Sprintf("slide-%d", i),
			SlideNumber: i,
			Headline:    fmt.Sprintf("Headline %d", i),
			BodyText:    fmt.Sprintf("Body %d", i),
		})
	}
	return GenerateRequest{
		HeroImage:  heroDataURI,
		SlideCount: slideCount,
		ArtStyle:   "anime",
		Slides:     slides,
		OutputType: models.OutputStatic,
	}
}

func ackWithSlides(n int) *engine.Ack {
	slides := make([]engine.AckSlide, 0, n)
	for i := 1; i <= n; i++ {
		slides = append(slides, engine.AckSlide{
			ID:                fmt.Sprintf("slide-%d", i),
			SlideNumber:       i,
			ImageUrl:          fmt.Sprintf("https://engine/raw-%d.png", i),
			ProcessedImageUrl: fmt.Sprintf("https://engine/text-%d.png", i),
			Headline:          fmt.Sprintf("Headline %d", i),
		})
	}
	return &engine.Ack{Success: true, Results: &engine.AckResults{Slides: slides}}
}

func TestDispatch_StaticHappyPath(t *testing.T) {
	o, store, blobs, eng, tasks := newTestOrchestrator()
	eng.carouselAck = ackWithSlides(3)

	response, err := o.Dispatch(context.Background(), staticRequest(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !response.Success || response.GenerationId == "" {
		t.Fatalf("bad response: %+v", response)
	}

	if eng.carouselCalls != 1 {
		t.Fatalf("primary webhook called %d times", eng.carouselCalls)
	}
	if eng.videoCalls != 0 {
		t.Fatal("video webhook must not be called for static output")
	}
	if got := blobs.count("carousel-images/" + response.GenerationId + "/hero.jpg"); got != 1 {
		t.Fatalf("hero uploaded %d times", got)
	}

	status := store.statuses[response.GenerationId]
	if status.Status != models.StageComplete || status.Progress != 100 {
		t.Fatalf("got status=%s progress=%d", status.Status, status.Progress)
	}
	if len(status.Results.Slides) != 3 {
		t.Fatalf("got %d slides in snapshot", len(status.Results.Slides))
	}
	if len(tasks.ofType(models.TaskPersistSlides)) != 1 {
		t.Fatal("expected one persist-slides task")
	}
	if len(tasks.ofType(models.TaskDispatchVideo)) != 0 {
		t.Fatal("static output must not queue a video dispatch")
	}
}

func TestDispatch_VideoOutputQueuesDurableTask(t *testing.T) {
	o, store, _, eng, tasks := newTestOrchestrator()
	eng.carouselAck = ackWithSlides(2)

	request := staticRequest(2)
	request.OutputType = models.OutputVideo
	request.MusicTrackId = "upbeat"

	response, err := o.Dispatch(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := store.statuses[response.GenerationId]
	if status.Status != models.StageAnimating || status.Progress != 50 {
		t.Fatalf("got status=%s progress=%d", status.Status, status.Progress)
	}

	execution := store.videoExecs[response.GenerationId]
	if !execution.Pending {
		t.Fatal("video execution must be pending before the task is queued")
	}

	queued := tasks.ofType(models.TaskDispatchVideo)
	if len(queued) != 1 {
		t.Fatalf("expected one dispatch-video task, got %d", len(queued))
	}
	task := queued[0].Payload.(DispatchVideoTask)
	if len(task.Payload.Slides) != 2 {
		t.Fatalf("got %d video slides", len(task.Payload.Slides))
	}
	if task.Payload.SlideDuration != 3 || task.Payload.TransitionDuration != 0.5 {
		t.Fatalf("got durations %v/%v", task.Payload.SlideDuration, task.Payload.TransitionDuration)
	}
	// The video mapping uses the clean render, not the text-baked one.
	if task.Payload.Slides[0].ImageUrl != "https://engine/raw-1.png" {
		t.Fatalf("video input must be the clean render, got %q", task.Payload.Slides[0].ImageUrl)
	}
}

func TestDispatch_EngineDownWritesTerminalError(t *testing.T) {
	o, store, _, eng, tasks := newTestOrchestrator()
	eng.carouselErr = errors.New("connection refused")

	response, err := o.Dispatch(context.Background(), staticRequest(3))
	if err == nil {
		t.Fatal("expected an error")
	}
	if response.GenerationId == "" {
		t.Fatal("the id must be resolvable even on failure")
	}

	status := store.statuses[response.GenerationId]
	if status.Status != models.StageError || status.Error == "" {
		t.Fatalf("got status=%s error=%q", status.Status, status.Error)
	}
	generation := store.generations[response.GenerationId]
	if generation.Status != models.GenerationStatusError {
		t.Fatalf("row status not error: %s", generation.Status)
	}
	if len(tasks.ofType(models.TaskDispatchVideo)) != 0 {
		t.Fatal("no video task after a failed dispatch")
	}
}

func TestDispatch_HeroUploadFailureStillResolvable(t *testing.T) {
	o, store, blobs, _, _ := newTestOrchestrator()
	blobs.fail = true

	response, err := o.Dispatch(context.Background(), staticRequest(2))
	if err == nil {
		t.Fatal("expected an error")
	}
	if response.GenerationId == "" {
		t.Fatal("the id must be resolvable even on failure")
	}
	// The failure happened before the row was created; the id was already
	// handed out, so a minimal row must back it.
	generation, ok := store.generations[response.GenerationId]
	if !ok {
		t.Fatal("no row behind the returned id")
	}
	if generation.Status != models.GenerationStatusError {
		t.Fatalf("row status: %s", generation.Status)
	}

	status, err := o.GetStatus(context.Background(), response.GenerationId)
	if err != nil {
		t.Fatalf("a dispatched id must never be not-found: %v", err)
	}
	if status.Status != models.StageError || status.Error == "" {
		t.Fatalf("got status=%s error=%q", status.Status, status.Error)
	}
}

func TestDispatch_InvalidRecipientEmailNeverReachesEngine(t *testing.T) {
	o, _, _, eng, _ := newTestOrchestrator()
	eng.carouselAck = ackWithSlides(1)

	request := staticRequest(1)
	request.RecipientEmail = "not-an-address"

	if _, err := o.Dispatch(context.Background(), request); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eng.lastCarousel.RecipientEmail != "" {
		t.Fatalf("garbage email forwarded to the engine: %q", eng.lastCarousel.RecipientEmail)
	}
}

func TestDispatch_EmptyAckIsAnError(t *testing.T) {
	o, store, _, eng, _ := newTestOrchestrator()
	eng.carouselAck = &engine.Ack{Success: true}

	response, err := o.Dispatch(context.Background(), staticRequest(3))
	if err == nil {
		t.Fatal("expected an error for an ack without slides")
	}
	status := store.statuses[response.GenerationId]
	if status.Status != models.StageError {
		t.Fatalf("got %s", status.Status)
	}
}

func seedGeneration(store *fakeStore, generationId string) {
	config, _ := json.Marshal([]models.SlideConfigEntry{
		{Headline: "Config headline 1", BodyText: "Config body 1"},
		{Headline: "Config headline 2", BodyText: "Config body 2"},
	})
	store.generations[generationId] = &models.Generation{
		GenerationId: generationId,
		SlideCount:   2,
		OutputType:   models.OutputStatic,
		Status:       models.GenerationStatusGenerating,
		SlidesConfig: config,
	}
}

func TestPersistImages_IdempotentAcrossReruns(t *testing.T) {
	o, store, blobs, _, _ := newTestOrchestrator()
	seedGeneration(store, "gen_1_abc")

	slides := []models.GeneratedSlide{
		{ID: "s1", SlideNumber: 1, ImageUrl: "https://engine/raw-1.png", ProcessedImageUrl: "https://engine/text-1.png", Headline: "H1"},
		{ID: "s2", SlideNumber: 2, ImageUrl: "https://engine/raw-2.png", ProcessedImageUrl: "https://engine/text-2.png", Headline: "H2"},
	}

	if err := o.PersistImages(context.Background(), "gen_1_abc", slides); err != nil {
		t.Fatalf("first persist failed: %v", err)
	}
	if err := o.PersistImages(context.Background(), "gen_1_abc", slides); err != nil {
		t.Fatalf("second persist failed: %v", err)
	}

	if len(store.slides) != 2 {
		t.Fatalf("expected one row per (generation, slide), got %d", len(store.slides))
	}
	// Deterministic object keys: the re-run overwrote the same objects.
	if got := blobs.count("carousel-images/gen_1_abc/slide-1.png"); got != 2 {
		t.Fatalf("slide-1 uploaded %d times to the same key", got)
	}
	if store.generations["gen_1_abc"].Status != models.GenerationStatusComplete {
		t.Fatalf("row status: %s", store.generations["gen_1_abc"].Status)
	}
}

func TestPersistImages_PrefersProcessedAcrossCallbacks(t *testing.T) {
	o, store, _, _, _ := newTestOrchestrator()
	seedGeneration(store, "gen_2_abc")

	// First callback: clean render only.
	first := []models.GeneratedSlide{
		{ID: "s1", SlideNumber: 1, ImageUrl: "https://engine/raw-1.png"},
	}
	if err := o.PersistImages(context.Background(), "gen_2_abc", first); err != nil {
		t.Fatalf("first persist failed: %v", err)
	}

	// Second callback: the text-baked render arrived.
	second := []models.GeneratedSlide{
		{ID: "s1", SlideNumber: 1, ImageUrl: "https://engine/raw-1.png", ProcessedImageUrl: "https://engine/text-1.png"},
	}
	if err := o.PersistImages(context.Background(), "gen_2_abc", second); err != nil {
		t.Fatalf("second persist failed: %v", err)
	}

	if len(store.slides) != 1 {
		t.Fatalf("duplicate slide rows: %d", len(store.slides))
	}
	row := store.slides[slideKey("gen_2_abc", 1)]
	if row.ImageUrl != "https://storage.googleapis.com/carousel-images/gen_2_abc/slide-1.png" {
		t.Fatalf("served url must be the re-hosted copy: %q", row.ImageUrl)
	}
	if row.OriginalUrl != "https://engine/text-1.png" {
		t.Fatalf("engine source url lost: %q", row.OriginalUrl)
	}
	// Text fell back to the stored slide config.
	if row.Headline != "Config headline 1" || row.BodyText != "Config body 1" {
		t.Fatalf("slide text fallback broken: %q / %q", row.Headline, row.BodyText)
	}
}

func TestPersistImages_KeepsEngineURLWhenRehostFails(t *testing.T) {
	o, store, blobs, _, _ := newTestOrchestrator()
	seedGeneration(store, "gen_3_abc")
	blobs.fail = true

	slides := []models.GeneratedSlide{
		{ID: "s1", SlideNumber: 1, ProcessedImageUrl: "https://engine/text-1.png"},
	}
	if err := o.PersistImages(context.Background(), "gen_3_abc", slides); err != nil {
		t.Fatalf("persist must not fail on re-host errors: %v", err)
	}
	row := store.slides[slideKey("gen_3_abc", 1)]
	if row.ImageUrl != "https://engine/text-1.png" {
		t.Fatalf("expected the engine URL fallback, got %q", row.ImageUrl)
	}
}

func TestPersistImages_AlreadyHostedSourceSkipsTransfer(t *testing.T) {
	o, store, blobs, _, _ := newTestOrchestrator()
	seedGeneration(store, "gen_8_abc")

	hosted := "https://storage.googleapis.com/carousel-images/gen_8_abc/slide-1.png"
	slides := []models.GeneratedSlide{
		{ID: "s1", SlideNumber: 1, ProcessedImageUrl: hosted},
	}
	if err := o.PersistImages(context.Background(), "gen_8_abc", slides); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if len(blobs.uploads) != 0 {
		t.Fatalf("re-fetched our own object: %v", blobs.uploads)
	}
	if row := store.slides[slideKey("gen_8_abc", 1)]; row.ImageUrl != hosted {
		t.Fatalf("hosted url rewritten: %q", row.ImageUrl)
	}
}

func TestReconcileVideo_AbsentExecutionMutatesNothing(t *testing.T) {
	o, store, _, eng, tasks := newTestOrchestrator()
	seedGeneration(store, "gen_4_abc")
	store.statuses["gen_4_abc"] = models.GenerationStatus{
		Status:      models.StageAnimating,
		Progress:    50,
		ImagesState: models.StateComplete,
		VideoState:  models.StatePending,
	}
	store.videoExecs["gen_4_abc"] = models.VideoExecution{Pending: true}
	eng.executionRes = &engine.VideoExecutionResult{Status: engine.ExecutionPending}
	setsBefore := store.statusSets

	status, err := o.ReconcileVideo(context.Background(), "gen_4_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != models.StageAnimating {
		t.Fatalf("got %s", status.Status)
	}
	if store.statusSets != setsBefore {
		t.Fatal("an absent execution must not write to the status store")
	}
	if !store.videoExecs["gen_4_abc"].Pending {
		t.Fatal("pending flag must survive an inconclusive poll")
	}
	if len(tasks.tasks) != 0 {
		t.Fatal("no tasks for an inconclusive poll")
	}
}

func TestReconcileVideo_SuccessCompletesAndQueuesPersist(t *testing.T) {
	o, store, _, eng, tasks := newTestOrchestrator()
	seedGeneration(store, "gen_5_abc")
	store.statuses["gen_5_abc"] = models.GenerationStatus{
		Status:      models.StageAnimating,
		Progress:    50,
		ImagesState: models.StateComplete,
		VideoState:  models.StatePending,
		Results:     &models.GenerationResults{Slides: []models.GeneratedSlide{{ID: "s1", SlideNumber: 1}}},
	}
	store.videoExecs["gen_5_abc"] = models.VideoExecution{Pending: true}
	eng.executionRes = &engine.VideoExecutionResult{
		Status:     engine.ExecutionSuccess,
		VideoUrl:   "https://engine/final.mp4",
		VideoClips: []engine.ExecutionClip{{SlideNumber: 1, VideoUrl: "https://engine/clip1.mp4"}},
	}

	status, err := o.ReconcileVideo(context.Background(), "gen_5_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != models.StageComplete || status.VideoState != models.StateComplete {
		t.Fatalf("got status=%s videoState=%s", status.Status, status.VideoState)
	}

	execution := store.videoExecs["gen_5_abc"]
	if execution.Pending || execution.VideoUrl != "https://engine/final.mp4" {
		t.Fatalf("execution record not settled: %+v", execution)
	}
	queued := tasks.ofType(models.TaskPersistVideo)
	if len(queued) != 1 {
		t.Fatalf("expected one persist-video task, got %d", len(queued))
	}
}

func TestReconcileVideo_TerminalErrorSettlesVideoDimension(t *testing.T) {
	o, store, _, eng, _ := newTestOrchestrator()
	seedGeneration(store, "gen_6_abc")
	store.statuses["gen_6_abc"] = models.GenerationStatus{
		Status:      models.StageAnimating,
		ImagesState: models.StateComplete,
		VideoState:  models.StateRunning,
	}
	store.videoExecs["gen_6_abc"] = models.VideoExecution{Pending: true}
	eng.executionRes = &engine.VideoExecutionResult{Status: engine.ExecutionError, Message: "Video workflow failed"}

	status, err := o.ReconcileVideo(context.Background(), "gen_6_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != models.StageError || status.VideoState != models.StateError {
		t.Fatalf("got status=%s videoState=%s", status.Status, status.VideoState)
	}
	if store.videoExecs["gen_6_abc"].Pending {
		t.Fatal("pending flag must clear on a terminal outcome")
	}
	// Slides stayed fine.
	if store.statuses["gen_6_abc"].ImagesState != models.StateComplete {
		t.Fatal("images dimension must survive a video failure")
	}
}

func TestReconcileVideo_EngineAPIDownIsAmbiguousNotTerminal(t *testing.T) {
	o, store, _, eng, _ := newTestOrchestrator()
	seedGeneration(store, "gen_7_abc")
	store.statuses["gen_7_abc"] = models.GenerationStatus{
		Status:      models.StageAnimating,
		ImagesState: models.StateComplete,
		VideoState:  models.StatePending,
	}
	eng.executionErr = errors.New("api unreachable")
	setsBefore := store.statusSets

	status, err := o.ReconcileVideo(context.Background(), "gen_7_abc")
	if err != nil {
		t.Fatalf("ambiguity must not surface as an error: %v", err)
	}
	if status.Status != models.StageAnimating {
		t.Fatalf("got %s", status.Status)
	}
	if store.statusSets != setsBefore {
		t.Fatal("ambiguous polls must not write")
	}
}
