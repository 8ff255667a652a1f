package core

import (
	"context"
	"encoding/json"
	"time"
)

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	UserID      string    `json:"user,omitempty"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type ChatResponse struct {
	Choices []Choice   `json:"choices"`
	Usage   TokenUsage `json:"usage"`
}

// ModelClient is the chat-completion boundary. An empty Choices slice is a
// valid response; callers decide how to degrade.
type ModelClient interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

type ToolInvocation struct {
	RequestID string          `json:"request_id"`
	Region    string          `json:"region"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
}

type ToolExecutor interface {
	Tools(ctx context.Context) ([]Tool, error)
	ExecuteTool(ctx context.Context, inv ToolInvocation) (string, error)
}

// ContextCache is the ephemeral side of turn-context storage. Get returns
// ErrCacheMiss for absent or expired keys; any other error is a cache
// failure the caller is expected to survive.
type ContextCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
