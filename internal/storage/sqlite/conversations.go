package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/dotmila/mila/internal/core"
	"github.com/dotmila/mila/pkg/log"
	"github.com/google/uuid"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) GetMessages(ctx context.Context, conversationID, userID string) ([]core.StoredMessage, error) {
	query := `SELECT message_id, sender_type, message_text, message_media, suggested_actions,
	                 proactive_insight_id, tool_calls, tool_call_id, timestamp
	          FROM conversation_messages
	          WHERE conversation_id = ? AND user_id = ?
	          ORDER BY timestamp ASC, rowid ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID, userID)
	if err != nil {
		return nil, &core.PersistenceError{Op: "get messages", Err: err}
	}
	defer rows.Close()

	var messages []core.StoredMessage
	for rows.Next() {
		msg := core.StoredMessage{
			ConversationID: conversationID,
			UserID:         userID,
		}
		var media, actions, insightID, toolCalls, toolCallID sql.NullString

		if err := rows.Scan(&msg.MessageID, &msg.SenderType, &msg.MessageText,
			&media, &actions, &insightID, &toolCalls, &toolCallID, &msg.Timestamp); err != nil {
			return nil, &core.PersistenceError{Op: "scan message", Err: err}
		}

		if media.Valid && media.String != "" {
			msg.MessageMedia = []byte(media.String)
		}
		if actions.Valid && actions.String != "" {
			msg.SuggestedActions = []byte(actions.String)
		}
		msg.ProactiveInsightID = insightID.String
		msg.ToolCalls = toolCalls.String
		msg.ToolCallID = toolCallID.String

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "iterate messages", Err: err}
	}

	log.FromCtx(ctx).Debug().Int("count", len(messages)).Msg("loaded durable history")
	return messages, nil
}

// CommitTurn writes both message rows and the conversation metadata upsert
// in one transaction. The user row insert is idempotent: the client-supplied
// message id is the primary key and conflicts are ignored, so a retried
// request cannot double-write.
func (r *ConversationRepo) CommitTurn(ctx context.Context, commit core.TurnCommit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	insert := `INSERT INTO conversation_messages
	           (message_id, conversation_id, user_id, sender_type, message_text,
	            message_media, suggested_actions, proactive_insight_id, tool_calls, tool_call_id, timestamp)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	           ON CONFLICT (message_id) DO NOTHING`

	_, err = tx.ExecContext(ctx, insert,
		commit.User.MessageID, commit.ConversationID, commit.UserID, core.SenderUser,
		commit.User.Text, nullableJSON(commit.User.Media), nullableJSON(commit.User.SuggestedActions),
		nullableString(commit.User.ProactiveInsightID), nil, nil, commit.User.Timestamp)
	if err != nil {
		return &core.PersistenceError{Op: "insert user message", Err: err}
	}

	for _, step := range commit.Steps {
		var toolCalls any
		if len(step.ToolCalls) > 0 {
			raw, err := json.Marshal(step.ToolCalls)
			if err != nil {
				return &core.PersistenceError{Op: "encode tool calls", Err: err}
			}
			toolCalls = string(raw)
		}

		_, err = tx.ExecContext(ctx, insert,
			uuid.NewString(), commit.ConversationID, commit.UserID, senderForRole(step.Role),
			step.Content, nil, nil, nil, toolCalls, nullableString(step.ToolCallID), step.Timestamp)
		if err != nil {
			return &core.PersistenceError{Op: "insert step message", Err: err}
		}
	}

	_, err = tx.ExecContext(ctx, insert,
		commit.Assistant.MessageID, commit.ConversationID, commit.UserID, core.SenderAssistant,
		commit.Assistant.Text, nullableJSON(commit.Assistant.Media), nullableJSON(commit.Assistant.SuggestedActions),
		nullableString(commit.Assistant.ProactiveInsightID), nil, nil, commit.Assistant.Timestamp)
	if err != nil {
		return &core.PersistenceError{Op: "insert assistant message", Err: err}
	}

	upsert := `INSERT INTO conversations (conversation_id, user_id, created_at, last_message_at, message_count)
	           VALUES (?, ?, ?, ?, ?)
	           ON CONFLICT (conversation_id, user_id) DO UPDATE SET
	               last_message_at = excluded.last_message_at,
	               message_count = excluded.message_count`

	_, err = tx.ExecContext(ctx, upsert,
		commit.ConversationID, commit.UserID, commit.CreatedAt, commit.LastMessageAt, commit.MessageCount)
	if err != nil {
		return &core.PersistenceError{Op: "upsert conversation", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &core.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

func senderForRole(role string) string {
	if role == core.RoleTool {
		return core.SenderTool
	}
	return core.SenderAssistant
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
