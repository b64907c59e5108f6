package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to the workflow engine over two surfaces: webhook triggers
// (no auth, possibly slow because the primary workflow responds from its last
// node) and the executions REST API (API key, fast, rate limited).
type Client struct {
	webhookBaseURL string
	apiBaseURL     string
	apiKey         string
	apiKeyHdr      string
	webhookHTTP    *http.Client
	apiHTTP        *http.Client
	limiter        <-chan time.Time
}

func NewClient() (*Client, error) {
	webhookBaseURL := strings.TrimSpace(os.Getenv("N8N_WEBHOOK_URL"))
	if webhookBaseURL == "" {
		return nil, errors.New("N8N_WEBHOOK_URL is empty")
	}
	apiBaseURL := strings.TrimSpace(os.Getenv("N8N_API_URL"))
	apiKeyHeader := strings.TrimSpace(os.Getenv("N8N_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-N8N-API-KEY"
	}

	webhookTimeout := 5 * time.Minute
	if v := strings.TrimSpace(os.Getenv("N8N_WEBHOOK_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			webhookTimeout = time.Duration(n) * time.Second
		}
	}

	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("N8N_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		webhookBaseURL: strings.TrimRight(webhookBaseURL, "/"),
		apiBaseURL:     strings.TrimRight(apiBaseURL, "/"),
		apiKey:         strings.TrimSpace(os.Getenv("N8N_API_KEY")),
		apiKeyHdr:      apiKeyHeader,
		webhookHTTP:    &http.Client{Timeout: webhookTimeout},
		apiHTTP:        &http.Client{Timeout: 30 * time.Second},
		limiter:        time.Tick(interval),
	}, nil
}

func (c *Client) postWebhook(ctx context.Context, path string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.webhookHTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("engine webhook %s error %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return string(respBody), nil
}

func (c *Client) getWebhook(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.webhookBaseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.apiHTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return body, resp.StatusCode, nil
}

func (c *Client) getAPI(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiBaseURL == "" {
		return nil, errors.New("N8N_API_URL is empty")
	}
	if c.apiKey == "" {
		return nil, errors.New("N8N_API_KEY is empty")
	}
	<-c.limiter
	endpoint := c.apiBaseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.apiHTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
