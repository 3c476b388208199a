package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UpstreamHTTPError is raised when the upstream inference server responds
// with a 4xx/5xx status. Message is extracted from the response body's
// error.message field when present (spec.md §4.7).
type UpstreamHTTPError struct {
	StatusCode int
	Message    string
	Body       any
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// UpstreamClient calls the OpenAI-compatible inference server in either
// unary or streaming mode (spec.md §4.7), grounded on
// original_source/gateway/app/vllm_client.py.
type UpstreamClient struct {
	BaseURL    string
	Timeout    time.Duration
	httpClient *http.Client
}

// NewUpstreamClient constructs an UpstreamClient. timeout bounds unary
// calls only; streaming calls disable the read timeout and rely on the
// caller (ctx) to enforce liveness.
func NewUpstreamClient(baseURL string, timeout time.Duration) *UpstreamClient {
	return &UpstreamClient{
		BaseURL: baseURL,
		Timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Unary posts body (with "stream" stripped) and returns the parsed JSON
// response, or an *UpstreamHTTPError on a status of 400 or above.
func (c *UpstreamClient) Unary(ctx context.Context, body map[string]any) (map[string]any, error) {
	payload := make(map[string]any, len(body))
	for k, v := range body {
		if k == "stream" {
			continue
		}
		payload[k] = v
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling upstream request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, upstreamError(resp.StatusCode, respBytes)
	}

	var out map[string]any
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("decoding upstream response: %w", err)
	}
	return out, nil
}

// Stream posts body with "stream": true and returns the raw response body
// reader for the caller to pump bytes from. On a status of 400 or above, Stream
// itself reads the error body and returns a single synthetic SSE error
// frame instead of the live body, matching spec.md §4.7.
func (c *UpstreamClient) Stream(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	payload := make(map[string]any, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload["stream"] = true

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Streaming calls have no client-side read timeout; ctx (the caller's
	// job lifetime) is the only liveness enforcement, per spec.md §4.7.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBytes, _ := io.ReadAll(resp.Body)
		frame := fmt.Sprintf("event: error\ndata: {\"status\": %d, \"message\": %q}\n\n", resp.StatusCode, string(respBytes))
		return io.NopCloser(bytes.NewReader([]byte(frame))), nil
	}

	return resp.Body, nil
}

func upstreamError(status int, raw []byte) *UpstreamHTTPError {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return &UpstreamHTTPError{StatusCode: status, Message: string(raw)}
	}

	message := fmt.Sprintf("%v", body)
	if errObj, ok := body["error"].(map[string]any); ok {
		if m, ok := errObj["message"].(string); ok && m != "" {
			message = m
		}
	}
	return &UpstreamHTTPError{StatusCode: status, Message: message, Body: body}
}
