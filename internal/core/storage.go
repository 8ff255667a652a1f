package core

import (
	"context"
	"encoding/json"
	"time"
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderTool      = "tool"
)

type StoredMessage struct {
	MessageID          string          `json:"message_id"`
	ConversationID     string          `json:"conversation_id"`
	UserID             string          `json:"user_id"`
	SenderType         string          `json:"sender_type"`
	MessageText        string          `json:"message_text"`
	MessageMedia       json.RawMessage `json:"message_media,omitempty"`
	SuggestedActions   json.RawMessage `json:"suggested_actions,omitempty"`
	ProactiveInsightID string          `json:"proactive_insight_id,omitempty"`
	ToolCalls          string          `json:"tool_calls,omitempty"`
	ToolCallID         string          `json:"tool_call_id,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// MessagePayload is one side of a committed turn. MessageID is supplied by
// the client for user messages so retried requests stay idempotent.
type MessagePayload struct {
	MessageID          string
	Text               string
	Media              json.RawMessage
	SuggestedActions   json.RawMessage
	ProactiveInsightID string
	Timestamp          time.Time
}

// TurnCommit is the unit MessagePersistence writes atomically: the user and
// final assistant rows, any intermediate tool-call exchange between them, and
// the conversation metadata upsert.
type TurnCommit struct {
	ConversationID string
	UserID         string
	User           MessagePayload
	// Steps are the assistant tool-call messages and their tool results, in
	// the order the loop produced them. Persisting them keeps a durable
	// rebuild equivalent to the cached history.
	Steps         []Message
	Assistant     MessagePayload
	CreatedAt     time.Time
	LastMessageAt time.Time
	MessageCount  int
}

type ConversationStore interface {
	// GetMessages returns all rows for the conversation in timestamp
	// ascending order.
	GetMessages(ctx context.Context, conversationID, userID string) ([]StoredMessage, error)
	CommitTurn(ctx context.Context, commit TurnCommit) error
}
