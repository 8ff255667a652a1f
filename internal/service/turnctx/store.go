package turnctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dotmila/mila/internal/core"
	"github.com/dotmila/mila/pkg/log"
)

// ProfileSource supplies personalization signals from the external
// profile/growth subsystem. Failures are tolerated: a turn without interests
// is still a turn.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (interests, topics []string, err error)
}

type Store struct {
	cache    core.ContextCache
	repo     core.ConversationStore
	profiles ProfileSource

	maxHistoryTurns int
	cacheTTL        time.Duration
	now             func() time.Time
}

func NewStore(cache core.ContextCache, repo core.ConversationStore, profiles ProfileSource, maxHistoryTurns int, cacheTTL time.Duration) *Store {
	return &Store{
		cache:           cache,
		repo:            repo,
		profiles:        profiles,
		maxHistoryTurns: maxHistoryTurns,
		cacheTTL:        cacheTTL,
		now:             time.Now,
	}
}

func cacheKey(userID, conversationID string) string {
	return fmt.Sprintf("turnContext:%s:%s", userID, conversationID)
}

// Load reconciles cache and durable store into one TurnContext, appends the
// incoming user message, and enforces the history bound. Cache failures of
// any kind degrade to durable reconstruction; a durable read failure is
// fatal because there is no context to orchestrate with.
func (s *Store) Load(ctx context.Context, userID, conversationID string, incoming core.Message) (*core.TurnContext, error) {
	logger := log.FromCtx(ctx)

	tc := s.fromCache(ctx, userID, conversationID)
	if tc == nil {
		rebuilt, err := s.rebuild(ctx, userID, conversationID)
		if err != nil {
			return nil, err
		}
		tc = rebuilt
	}

	tc.SinceLastTurn = 0
	if !tc.LastInteractionAt.IsZero() {
		tc.SinceLastTurn = s.now().Sub(tc.LastInteractionAt)
	}

	if s.profiles != nil {
		interests, topics, err := s.profiles.Profile(ctx, userID)
		if err != nil {
			logger.Warn().Err(err).Msg("profile lookup failed, continuing without signals")
		} else {
			tc.KnownInterests = interests
			tc.RecentTopics = topics
		}
	}

	if incoming.Timestamp.IsZero() {
		incoming.Timestamp = s.now()
	}
	tc.AppendUser(incoming)
	tc.Trim(s.maxHistoryTurns)
	// The trim can cut an assistant tool-call message while its results
	// survive, regardless of whether the history came from cache or durable.
	tc.History = core.SanitizeToolMessages(tc.History)

	return tc, nil
}

func (s *Store) fromCache(ctx context.Context, userID, conversationID string) *core.TurnContext {
	logger := log.FromCtx(ctx)

	data, err := s.cache.Get(ctx, cacheKey(userID, conversationID))
	if err != nil {
		if err != core.ErrCacheMiss {
			logger.Warn().Err(err).Msg("cache read failed, falling back to durable store")
		}
		return nil
	}

	var tc core.TurnContext
	if err := json.Unmarshal(data, &tc); err != nil {
		// Corrupt entry, treat as a miss
		logger.Warn().Err(err).Msg("cache entry undecodable, falling back to durable store")
		return nil
	}

	logger.Debug().Int("history", len(tc.History)).Msg("turn context from cache")
	return &tc
}

func (s *Store) rebuild(ctx context.Context, userID, conversationID string) (*core.TurnContext, error) {
	stored, err := s.repo.GetMessages(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("rebuild turn context: %w", err)
	}

	tc := &core.TurnContext{
		ConversationID: conversationID,
		UserID:         userID,
	}

	for _, m := range stored {
		msg := core.Message{
			Role:       roleForSender(m.SenderType),
			Content:    m.MessageText,
			ToolCallID: m.ToolCallID,
			Timestamp:  m.Timestamp,
		}
		if m.ToolCalls != "" {
			if err := json.Unmarshal([]byte(m.ToolCalls), &msg.ToolCalls); err != nil {
				log.FromCtx(ctx).Warn().Err(err).Str("message_id", m.MessageID).Msg("dropping undecodable tool calls")
			}
		}
		tc.Append(msg)
	}

	tc.History = core.SanitizeToolMessages(tc.History)
	tc.MessageCount = tc.UserTurns()
	if n := len(tc.History); n > 0 {
		tc.LastInteractionAt = tc.History[n-1].Timestamp
	}

	log.FromCtx(ctx).Debug().
		Int("history", len(tc.History)).
		Int("message_count", tc.MessageCount).
		Msg("turn context rebuilt from durable store")
	return tc, nil
}

func roleForSender(senderType string) string {
	switch senderType {
	case core.SenderAssistant:
		return core.RoleAssistant
	case core.SenderTool:
		return core.RoleTool
	default:
		return core.RoleUser
	}
}

// Save writes the context back to cache with the configured TTL. A cache
// write failure is logged and swallowed: the durable store remains the
// source of truth and the next load rebuilds from it.
func (s *Store) Save(ctx context.Context, tc *core.TurnContext) {
	tc.LastInteractionAt = s.now()

	data, err := json.Marshal(tc)
	if err != nil {
		log.FromCtx(ctx).Error().Err(err).Msg("failed to serialize turn context")
		return
	}

	if err := s.cache.Set(ctx, cacheKey(tc.UserID, tc.ConversationID), data, s.cacheTTL); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("cache write failed, durable store remains source of truth")
	}
}
