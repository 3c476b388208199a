package gateway

// ChatCompletionRequest is the body of POST /v1/chat/completions, per
// spec.md §4.4. Model and Messages mirror the OpenAI-compatible wire
// contract; TimeoutS is a SUPPLEMENTED extension (not in the upstream
// schema) letting a caller override the default 300s unary wait.
type ChatCompletionRequest struct {
	Model            string           `json:"model,omitempty"`
	Messages         []map[string]any `json:"messages" validate:"required,min=1"`
	Stream           bool             `json:"stream,omitempty"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	Stop             any              `json:"stop,omitempty"`
	TimeoutS         *float64         `json:"timeout_s,omitempty"`
}

// toUpstreamBody renders the request as the JSON map sent to the Upstream
// Client, dropping the gateway-only timeout_s field and the stream flag
// (the streaming path sets stream itself).
func (r *ChatCompletionRequest) toUpstreamBody() map[string]any {
	body := map[string]any{
		"messages": r.Messages,
	}
	if r.Model != "" {
		body["model"] = r.Model
	}
	if r.MaxTokens != nil {
		body["max_tokens"] = *r.MaxTokens
	}
	if r.Temperature != nil {
		body["temperature"] = *r.Temperature
	}
	if r.TopP != nil {
		body["top_p"] = *r.TopP
	}
	if r.PresencePenalty != nil {
		body["presence_penalty"] = *r.PresencePenalty
	}
	if r.FrequencyPenalty != nil {
		body["frequency_penalty"] = *r.FrequencyPenalty
	}
	if r.Stop != nil {
		body["stop"] = r.Stop
	}
	return body
}

// ModelsResponse is the static payload for GET /v1/models (spec.md §6).
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo describes one entry in ModelsResponse.Data.
type ModelInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// Models is the fixed single-entry model list the gateway reports,
// regardless of what the upstream actually serves (spec.md §4.4).
func Models() ModelsResponse {
	return ModelsResponse{
		Object: "list",
		Data:   []ModelInfo{{ID: "default", Object: "model"}},
	}
}
