package core

import "time"

// TurnContext is the reconstructed conversational state for one turn. It is
// mutated in-memory during a single orchestration run and written back to
// cache and durable store before the run returns.
type TurnContext struct {
	ConversationID    string    `json:"conversation_id"`
	UserID            string    `json:"user_id"`
	History           []Message `json:"history"`
	MessageCount      int       `json:"message_count"`
	KnownInterests    []string  `json:"known_interests,omitempty"`
	RecentTopics      []string  `json:"recent_topics,omitempty"`
	LastInteractionAt time.Time `json:"last_interaction_at,omitzero"`

	// SinceLastTurn is computed at load time and not serialized.
	SinceLastTurn time.Duration `json:"-"`
}

// FirstInteraction reports whether the conversation has seen at most one
// user message.
func (tc *TurnContext) FirstInteraction() bool {
	return tc.UserTurns() <= 1
}

func (tc *TurnContext) UserTurns() int {
	n := 0
	for _, m := range tc.History {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

func (tc *TurnContext) Append(msg Message) {
	tc.History = append(tc.History, msg)
}

// AppendUser appends the incoming user message and bumps the turn counter.
func (tc *TurnContext) AppendUser(msg Message) {
	msg.Role = RoleUser
	tc.Append(msg)
	tc.MessageCount++
}

// Trim keeps the most recent 2*maxHistoryTurns entries. Called after every
// mutation so history length stays bounded.
func (tc *TurnContext) Trim(maxHistoryTurns int) {
	limit := 2 * maxHistoryTurns
	if limit <= 0 || len(tc.History) <= limit {
		return
	}
	trimmed := make([]Message, limit)
	copy(trimmed, tc.History[len(tc.History)-limit:])
	tc.History = trimmed
}

// SanitizeToolMessages drops tool results that no longer pair with a pending
// tool call, which happens when a trim cuts the assistant message that
// requested them. Models reject orphaned tool messages outright.
func SanitizeToolMessages(history []Message) []Message {
	var out []Message
	pending := make(map[string]bool)

	for _, msg := range history {
		switch msg.Role {
		case RoleTool:
			if !pending[msg.ToolCallID] {
				continue
			}
			delete(pending, msg.ToolCallID)
			out = append(out, msg)
		case RoleAssistant:
			pending = make(map[string]bool)
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
			out = append(out, msg)
		case RoleUser:
			pending = make(map[string]bool)
			out = append(out, msg)
		default:
			out = append(out, msg)
		}
	}
	return out
}

// DaysSinceLastInteraction rounds down; zero when the conversation has no
// prior turn.
func (tc *TurnContext) DaysSinceLastInteraction() int {
	if tc.SinceLastTurn <= 0 {
		return 0
	}
	return int(tc.SinceLastTurn.Hours() / 24)
}
