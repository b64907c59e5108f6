package engine

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strings"
)

const executionScanLimit = "10"

func videoWebhookNodeName() string {
	if v := strings.TrimSpace(os.Getenv("N8N_VIDEO_WEBHOOK_NODE")); v != "" {
		return v
	}
	return "Video Generation Webhook"
}

func videoResultNodeName() string {
	if v := strings.TrimSpace(os.Getenv("N8N_VIDEO_RESULT_NODE")); v != "" {
		return v
	}
	return "Format Final Result"
}

// webhookItem is the webhook node's captured input; the trigger body lives
// under body on current engine versions and at the top level on older ones.
type webhookItem struct {
	GenerationId string `json:"generationId"`
	Body         struct {
		GenerationId string `json:"generationId"`
	} `json:"body"`
}

func (w webhookItem) generationId() string {
	if w.Body.GenerationId != "" {
		return w.Body.GenerationId
	}
	return w.GenerationId
}

type resultItem struct {
	Message string `json:"message"`
	Results struct {
		VideoUrl       string          `json:"videoUrl"`
		MergedVideoUrl string          `json:"mergedVideoUrl"`
		VideoClips     []ExecutionClip `json:"videoClips"`
	} `json:"results"`
}

// FindExecutionByCorrelationID scans recent executions of the video workflow
// and classifies the one whose webhook input carried this generation id.
// Matching is by payload, never by recency or position: concurrent
// generations interleave in the execution list. Absence classifies as
// pending, not error, since the execution may simply not have started yet.
func (c *Client) FindExecutionByCorrelationID(ctx context.Context, generationId string) (*VideoExecutionResult, error) {
	params := url.Values{}
	if workflowId := strings.TrimSpace(os.Getenv("N8N_VIDEO_WORKFLOW_ID")); workflowId != "" {
		params.Set("workflowId", workflowId)
	}
	params.Set("limit", executionScanLimit)
	params.Set("includeData", "true")

	body, err := c.getAPI(ctx, "/executions", params)
	if err != nil {
		return nil, err
	}

	var list executionList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}

	webhookNode := videoWebhookNodeName()
	for i := range list.Data {
		exec := &list.Data[i]
		if exec.Data == nil {
			continue
		}
		item := firstItem(exec.Data.ResultData.RunData[webhookNode])
		if item == nil {
			continue
		}
		var hook webhookItem
		if err := json.Unmarshal(item, &hook); err != nil {
			continue
		}
		if hook.generationId() != generationId {
			continue
		}
		return classifyExecution(exec), nil
	}

	return &VideoExecutionResult{
		Status:  ExecutionPending,
		Message: "Video workflow not started yet",
	}, nil
}

func classifyExecution(exec *execution) *VideoExecutionResult {
	switch {
	case exec.Status == "success" || exec.Finished:
		return extractResult(exec)
	case exec.Status == "error" || exec.Status == "crashed":
		return &VideoExecutionResult{Status: ExecutionError, Message: "Video workflow failed"}
	case exec.Status == "waiting" || exec.Status == "running":
		return &VideoExecutionResult{Status: ExecutionRunning, Message: "Video generation in progress"}
	default:
		return &VideoExecutionResult{Status: ExecutionPending, Message: "Video workflow pending"}
	}
}

// extractResult pulls the final video URL and per-slide clips out of the
// result node. A finished execution with no readable result node is still
// pending from the caller's point of view.
func extractResult(exec *execution) *VideoExecutionResult {
	item := firstItem(exec.Data.ResultData.RunData[videoResultNodeName()])
	if item == nil {
		return &VideoExecutionResult{Status: ExecutionPending, Message: "Video workflow pending"}
	}
	var result resultItem
	if err := json.Unmarshal(item, &result); err != nil {
		return &VideoExecutionResult{Status: ExecutionPending, Message: "Video workflow pending"}
	}

	// Only clips the workflow explicitly marked successful count; an absent
	// success flag means the render node never confirmed the clip.
	var clips []ExecutionClip
	for _, clip := range result.Results.VideoClips {
		if clip.VideoUrl == "" {
			continue
		}
		if clip.Success == nil || !*clip.Success {
			continue
		}
		clips = append(clips, ExecutionClip{SlideNumber: clip.SlideNumber, VideoUrl: clip.VideoUrl})
	}

	videoUrl := result.Results.VideoUrl
	if videoUrl == "" {
		videoUrl = result.Results.MergedVideoUrl
	}
	if videoUrl == "" && len(clips) > 0 {
		videoUrl = clips[0].VideoUrl
	}

	return &VideoExecutionResult{
		Status:     ExecutionSuccess,
		VideoUrl:   videoUrl,
		VideoClips: clips,
		Message:    result.Message,
	}
}
