package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// StartCarousel triggers the primary workflow. The webhook responds from its
// last node, so the returned ack usually carries the generated slides.
func (c *Client) StartCarousel(ctx context.Context, payload CarouselPayload) (*Ack, error) {
	raw, err := c.postWebhook(ctx, "/carousel-generate", payload)
	if err != nil {
		return nil, err
	}
	var ack Ack
	if err := json.Unmarshal([]byte(raw), &ack); err != nil {
		return nil, fmt.Errorf("engine carousel-generate ack is not json: %s", truncate(raw, 200))
	}
	ack.Raw = raw
	if ack.GenerationId == "" {
		ack.GenerationId = payload.GenerationId
	}
	return &ack, nil
}

// StartVideo triggers the secondary workflow. It acknowledges on receipt and
// may answer with a bare string, which is treated as a successful start.
func (c *Client) StartVideo(ctx context.Context, payload VideoPayload) (*Ack, error) {
	raw, err := c.postWebhook(ctx, "/carousel-video-generate", payload)
	if err != nil {
		return nil, err
	}
	var ack Ack
	if err := json.Unmarshal([]byte(raw), &ack); err != nil {
		ack = Ack{
			Success:      true,
			GenerationId: payload.GenerationId,
			Message:      "Video generation started",
		}
	}
	ack.Raw = raw
	return &ack, nil
}

// GetRemoteStatus asks the engine's own status webhook for a snapshot; used
// only as a fallback when the local store has nothing. Returns (nil, nil)
// when the engine does not know the id either.
func (c *Client) GetRemoteStatus(ctx context.Context, generationId string) (json.RawMessage, error) {
	body, code, err := c.getWebhook(ctx, "/carousel-status/"+generationId)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNotFound {
		return nil, nil
	}
	if code < 200 || code >= 300 {
		return nil, fmt.Errorf("engine carousel-status error %d", code)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("engine carousel-status returned non-json body")
	}
	return json.RawMessage(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
