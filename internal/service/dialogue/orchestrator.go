package dialogue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/dotmila/mila/internal/config"
	"github.com/dotmila/mila/internal/core"
	"github.com/dotmila/mila/internal/service/prompt"
	"github.com/dotmila/mila/internal/service/turnctx"
	"github.com/dotmila/mila/pkg/log"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Request struct {
	UserID         string
	ConversationID string
	MessageID      string // client-supplied, deterministic per request
	Text           string
	Region         string
}

type Metadata struct {
	ProcessingTimeMs int64                `json:"processing_time_ms"`
	ModelUsed        string               `json:"model_used,omitempty"`
	TokenUsage       core.TokenUsage      `json:"token_usage"`
	ToolCalls        []core.ToolCallEvent `json:"tool_calls,omitempty"`
	Iterations       int                  `json:"iterations"`
}

type Envelope struct {
	Status    string   `json:"status"`
	Result    string   `json:"result"`
	Error     string   `json:"error,omitempty"`
	RequestID string   `json:"request_id"`
	Metadata  Metadata `json:"metadata"`
}

// ModelClientSource resolves the client and model id for a region at turn
// time, so credential problems surface as per-turn error envelopes.
type ModelClientSource interface {
	ClientFor(region string) (core.ModelClient, string, error)
}

// Orchestrator is the single entry point for a turn: load context, compose
// the system prompt, run the tool loop, persist the exchange, build the
// envelope.
type Orchestrator struct {
	store    *turnctx.Store
	composer *prompt.Composer
	models   ModelClientSource
	executor core.ToolExecutor
	repo     core.ConversationStore
	loop     *Loop
	cfg      *config.AppConfig
	llmCfg   *config.LLMConfig

	mu    sync.Mutex
	locks map[string]*convLock

	now func() time.Time
}

type OrchestratorParams struct {
	Store    *turnctx.Store
	Composer *prompt.Composer
	Models   ModelClientSource
	Executor core.ToolExecutor
	Repo     core.ConversationStore
	Loop     *Loop
	Config   *config.AppConfig
	LLM      *config.LLMConfig
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	composer := p.Composer
	if composer == nil {
		composer = prompt.NewComposer(p.Config.Region, rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	return &Orchestrator{
		store:    p.Store,
		composer: composer,
		models:   p.Models,
		executor: p.Executor,
		repo:     p.Repo,
		loop:     p.Loop,
		cfg:      p.Config,
		llmCfg:   p.LLM,
		locks:    make(map[string]*convLock),
		now:      time.Now,
	}
}

func (o *Orchestrator) HandleMessage(ctx context.Context, req Request) Envelope {
	start := o.now()
	requestID, _ := gonanoid.New()
	logger := log.FromCtx(ctx).With().
		Str("request_id", requestID).
		Str("conversation_id", req.ConversationID).
		Logger()
	ctx = logger.WithContext(ctx)

	region := req.Region
	if region == "" {
		region = o.cfg.Region
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	// Two concurrent messages on the same conversation must not interleave
	// cache/store reconciliation.
	unlock := o.lockConversation(req.UserID, req.ConversationID)
	defer unlock()

	envelope := func(status, result, errText string, loopRes LoopResult, model string) Envelope {
		return Envelope{
			Status:    status,
			Result:    result,
			Error:     errText,
			RequestID: requestID,
			Metadata: Metadata{
				ProcessingTimeMs: o.now().Sub(start).Milliseconds(),
				ModelUsed:        model,
				TokenUsage:       loopRes.Usage,
				ToolCalls:        loopRes.Events,
				Iterations:       loopRes.Iterations,
			},
		}
	}

	client, model, err := o.models.ClientFor(region)
	if err != nil {
		logger.Error().Err(err).Msg("model client unavailable")
		return envelope(StatusError, fallbackModelError(region), err.Error(), LoopResult{}, "")
	}

	userTimestamp := o.now()
	tc, err := o.store.Load(ctx, req.UserID, req.ConversationID, core.Message{
		Content:   req.Text,
		Timestamp: userTimestamp,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to load turn context")
		return envelope(StatusError, fallbackModelError(region), err.Error(), LoopResult{}, model)
	}

	systemPrompt := o.composer.Compose(tc, tc.FirstInteraction())

	loopRes := o.loop.Run(ctx, LoopParams{
		Client:       client,
		Executor:     o.executor,
		Model:        model,
		SystemPrompt: systemPrompt,
		Context:      tc,
		RequestID:    requestID,
		Region:       region,
		Temperature:  o.temperature(),
		MaxTokens:    o.maxTokens(),
	})

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Error().Dur("timeout", o.cfg.RunTimeout).Msg("turn deadline exceeded")
		return envelope(StatusError, fallbackModelError(region), "turn deadline exceeded", loopRes, model)
	}

	tc.Trim(o.cfg.MaxHistoryTurns)
	o.store.Save(ctx, tc)

	assistantTimestamp := o.now()
	if err := o.repo.CommitTurn(ctx, core.TurnCommit{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		User: core.MessagePayload{
			MessageID: req.MessageID,
			Text:      req.Text,
			Timestamp: userTimestamp,
		},
		Steps: loopRes.Steps,
		Assistant: core.MessagePayload{
			MessageID: uuid.NewString(),
			Text:      loopRes.ResponseText,
			Timestamp: assistantTimestamp,
		},
		CreatedAt:     o.conversationCreatedAt(tc, userTimestamp),
		LastMessageAt: assistantTimestamp,
		MessageCount:  tc.MessageCount,
	}); err != nil {
		// The response is already computed; durability converges on the
		// next cache miss.
		logger.Error().Err(err).Msg("failed to persist turn, responding anyway")
	}

	return envelope(StatusSuccess, loopRes.ResponseText, "", loopRes, model)
}

// convLock is a refcounted per-conversation mutex so the lock map does not
// grow with every conversation the process has ever seen.
type convLock struct {
	mu   sync.Mutex
	refs int
}

func (o *Orchestrator) lockConversation(userID, conversationID string) func() {
	key := userID + ":" + conversationID

	o.mu.Lock()
	lock, ok := o.locks[key]
	if !ok {
		lock = &convLock{}
		o.locks[key] = lock
	}
	lock.refs++
	o.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		o.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(o.locks, key)
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) conversationCreatedAt(tc *core.TurnContext, fallback time.Time) time.Time {
	if len(tc.History) > 0 && !tc.History[0].Timestamp.IsZero() {
		return tc.History[0].Timestamp
	}
	return fallback
}

func (o *Orchestrator) temperature() float64 {
	if o.llmCfg == nil {
		return 0
	}
	return o.llmCfg.Temperature
}

func (o *Orchestrator) maxTokens() int {
	if o.llmCfg == nil {
		return 0
	}
	return o.llmCfg.MaxTokens
}
