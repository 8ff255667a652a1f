package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dotmila/mila/internal/core"
)

// OpenAICompatible speaks the /v1/chat/completions wire format. Any endpoint
// implementing that contract works: OpenAI, OpenRouter, a regional proxy.
type OpenAICompatible struct {
	baseClient
	extraHeaders map[string]string
}

type OpenAICompatibleConfig struct {
	BaseURL      string
	APIKey       string
	ExtraHeaders map[string]string
}

func NewOpenAICompatible(cfg OpenAICompatibleConfig) *OpenAICompatible {
	return &OpenAICompatible{
		baseClient:   newBaseClient(cfg.BaseURL, cfg.APIKey),
		extraHeaders: cfg.ExtraHeaders,
	}
}

func (o *OpenAICompatible) ChatCompletion(ctx context.Context, req core.ChatRequest) (core.ChatResponse, error) {
	payload := map[string]any{
		"model":    req.Model,
		"messages": stripLocalFields(req.Messages),
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.UserID != "" {
		payload["user"] = req.UserID
	}

	headers := map[string]string{
		"User-Agent": core.MilaUserAgent,
	}
	if o.apiKey != "" {
		headers["Authorization"] = "Bearer " + o.apiKey
	}
	for k, v := range o.extraHeaders {
		headers[k] = v
	}

	resp, err := o.doRequest(ctx, http.MethodPost, "/v1/chat/completions", payload, headers)
	if err != nil {
		return core.ChatResponse{}, err
	}
	defer resp.Body.Close()

	return parseChatResponse(resp)
}

// wireMessage is the subset of core.Message the provider sends. Timestamps
// and tool names are local bookkeeping the API would reject or ignore.
type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []core.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

func stripLocalFields(messages []core.Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

// parseChatResponse decodes the completion body. An empty choices list is
// returned as-is; the orchestration loop owns that fallback.
func parseChatResponse(resp *http.Response) (core.ChatResponse, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.ChatResponse{}, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return core.ChatResponse{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var result core.ChatResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return core.ChatResponse{}, fmt.Errorf("decode: %w", err)
	}
	return result, nil
}
