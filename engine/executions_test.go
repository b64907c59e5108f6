package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// The executions fixture has two finished executions: the FIRST (most recent)
// belongs to a different generation, the SECOND is ours. Matching must go by
// the webhook payload, never by list position.
const executionsFixture = `{
  "data": [
    {
      "id": 9002,
      "status": "success",
      "finished": true,
      "data": {
        "resultData": {
          "runData": {
            "Video Generation Webhook": [
              {"data": {"main": [[{"json": {"body": {"generationId": "gen_200_other"}}}]]}}
            ],
            "Format Final Result": [
              {"data": {"main": [[{"json": {"results": {"videoUrl": "https://cdn/other.mp4"}}}]]}}
            ]
          }
        }
      }
    },
    {
      "id": 9001,
      "status": "success",
      "finished": true,
      "data": {
        "resultData": {
          "runData": {
            "Video Generation Webhook": [
              {"data": {"main": [[{"json": {"body": {"generationId": "gen_100_mine"}}}]]}}
            ],
            "Format Final Result": [
              {"data": {"main": [[{"json": {
                "message": "done",
                "results": {
                  "mergedVideoUrl": "https://cdn/mine.mp4",
                  "videoClips": [
                    {"slideNumber": 1, "videoUrl": "https://cdn/clip1.mp4", "success": true},
                    {"slideNumber": 2, "videoUrl": "https://cdn/clip2.mp4", "success": false},
                    {"slideNumber": 3, "videoUrl": "https://cdn/clip3.mp4", "success": true},
                    {"slideNumber": 4, "videoUrl": "https://cdn/clip4.mp4"}
                  ]
                }
              }}]]}}
            ]
          }
        }
      }
    }
  ]
}`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		webhookBaseURL: srv.URL,
		apiBaseURL:     srv.URL,
		apiKey:         "test-key",
		apiKeyHdr:      "X-N8N-API-KEY",
		webhookHTTP:    srv.Client(),
		apiHTTP:        srv.Client(),
		limiter:        time.Tick(time.Microsecond),
	}, srv
}

func TestFindExecution_MatchesByPayloadNotOrder(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-N8N-API-KEY")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(executionsFixture))
	}))

	result, err := client.FindExecutionByCorrelationID(context.Background(), "gen_100_mine")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header not sent, got %q", gotKey)
	}
	if result.Status != ExecutionSuccess {
		t.Fatalf("got status %s", result.Status)
	}
	if result.VideoUrl != "https://cdn/mine.mp4" {
		t.Fatalf("matched the wrong execution: %q", result.VideoUrl)
	}
	if len(result.VideoClips) != 2 {
		t.Fatalf("unconfirmed clips must be filtered out, got %d", len(result.VideoClips))
	}
	for _, clip := range result.VideoClips {
		if clip.SlideNumber == 2 {
			t.Fatal("clip with success=false leaked through")
		}
		if clip.SlideNumber == 4 {
			t.Fatal("clip without a success flag leaked through")
		}
	}
}

func TestFindExecution_AbsentClassifiesAsPending(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(executionsFixture))
	}))

	result, err := client.FindExecutionByCorrelationID(context.Background(), "gen_999_unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ExecutionPending {
		t.Fatalf("absence must classify as pending, got %s", result.Status)
	}
}

func TestFindExecution_RunningWithoutResultNode(t *testing.T) {
	const running = `{"data":[{"id":1,"status":"running","finished":false,"data":{"resultData":{"runData":{
		"Video Generation Webhook":[{"data":{"main":[[{"json":{"body":{"generationId":"gen_1_a"}}}]]}}]
	}}}}]}`
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(running))
	}))

	result, err := client.FindExecutionByCorrelationID(context.Background(), "gen_1_a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ExecutionRunning {
		t.Fatalf("got %s", result.Status)
	}
}

func TestStartVideo_BareStringAckIsAccepted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/carousel-video-generate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("Workflow was started"))
	}))

	ack, err := client.StartVideo(context.Background(), VideoPayload{GenerationId: "gen_1_a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack.Success || ack.GenerationId != "gen_1_a" {
		t.Fatalf("bare-string ack not normalized: %+v", ack)
	}
}

func TestStartCarousel_AckCarriesSlides(t *testing.T) {
	const ackBody = `{"success":true,"generationId":"gen_1_a","results":{"slides":[
		{"id":"s1","slideNumber":1,"imageUrl":"https://cdn/1.png","processedImageUrl":"https://cdn/1p.png"},
		{"id":"s2","slideNumber":2,"imageUrl":"https://cdn/2.png"}
	]}}`
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/carousel-generate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(ackBody))
	}))

	ack, err := client.StartCarousel(context.Background(), CarouselPayload{GenerationId: "gen_1_a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slides := ack.GeneratedSlides()
	if len(slides) != 2 {
		t.Fatalf("got %d slides", len(slides))
	}
	if slides[0].ProcessedImageUrl != "https://cdn/1p.png" {
		t.Fatalf("processed url lost: %+v", slides[0])
	}
}
