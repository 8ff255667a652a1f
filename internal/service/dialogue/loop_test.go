package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dotmila/mila/internal/core"
	"github.com/dotmila/mila/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	responses []core.ChatResponse
	errs      []error
	calls     int
	requests  []core.ChatRequest
}

func (s *scriptedClient) ChatCompletion(ctx context.Context, req core.ChatRequest) (core.ChatResponse, error) {
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)

	if i < len(s.errs) && s.errs[i] != nil {
		return core.ChatResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return core.ChatResponse{}, errors.New("script exhausted")
}

type fakeExecutor struct {
	results map[string]string
	errs    map[string]error
	invs    []core.ToolInvocation
}

func (f *fakeExecutor) Tools(ctx context.Context) ([]core.Tool, error) {
	return []core.Tool{{Type: "function", Function: core.Function{Name: "get_weather"}}}, nil
}

func (f *fakeExecutor) ExecuteTool(ctx context.Context, inv core.ToolInvocation) (string, error) {
	f.invs = append(f.invs, inv)
	if err := f.errs[inv.Name]; err != nil {
		return "", err
	}
	return f.results[inv.Name], nil
}

func noRetry() *retry.Retrier {
	return retry.NewRetrier(&retry.Config{
		MaxRetries:    0,
		BackoffFactor: 1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
	})
}

func assistantReply(content string, usage core.TokenUsage, toolCalls ...core.ToolCall) core.ChatResponse {
	return core.ChatResponse{
		Choices: []core.Choice{{
			Message:      core.Message{Role: core.RoleAssistant, Content: content, ToolCalls: toolCalls},
			FinishReason: "stop",
		}},
		Usage: usage,
	}
}

func toolCall(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Type: "function", Function: core.FunctionCall{Name: name, Arguments: args}}
}

func newTestContext() *core.TurnContext {
	return &core.TurnContext{
		ConversationID: "c1",
		UserID:         "u1",
		History: []core.Message{
			{Role: core.RoleUser, Content: "hi", Timestamp: time.Now()},
		},
		MessageCount: 1,
	}
}

func runLoop(t *testing.T, client core.ModelClient, executor core.ToolExecutor, maxIterations int) (LoopResult, *core.TurnContext) {
	t.Helper()
	tc := newTestContext()
	loop := NewLoop(maxIterations, 0, noRetry())
	res := loop.Run(context.Background(), LoopParams{
		Client:       client,
		Executor:     executor,
		Model:        "test-model",
		SystemPrompt: "be nice",
		Context:      tc,
		RequestID:    "req-1",
		Region:       core.RegionUS,
	})
	return res, tc
}

func TestLoop_SimpleResponse(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{
		assistantReply("Hi", core.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}),
	}}

	res, tc := runLoop(t, client, &fakeExecutor{}, 5)

	assert.Equal(t, "Hi", res.ResponseText)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, StateFinalResponse, res.State)
	assert.Equal(t, 12, res.Usage.TotalTokens)
	assert.Empty(t, res.Events)
	assert.Empty(t, res.Steps)

	// Assistant message landed in the turn context
	last := tc.History[len(tc.History)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Equal(t, "Hi", last.Content)
}

func TestLoop_SystemPromptLeadsMessages(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{assistantReply("ok", core.TokenUsage{})}}

	runLoop(t, client, &fakeExecutor{}, 5)

	require.Len(t, client.requests, 1)
	msgs := client.requests[0].Messages
	require.NotEmpty(t, msgs)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be nice", msgs[0].Content)
	assert.Equal(t, core.RoleUser, msgs[len(msgs)-1].Role)
}

func TestLoop_TwoToolCallsBothSucceed(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{
		assistantReply("checking", core.TokenUsage{TotalTokens: 5},
			toolCall("call_1", "get_weather", `{"city":"Austin"}`),
			toolCall("call_2", "get_weather", `{"city":"Oslo"}`)),
		assistantReply("Austin is sunny, Oslo is rainy", core.TokenUsage{TotalTokens: 7}),
	}}
	executor := &fakeExecutor{results: map[string]string{"get_weather": "report"}}

	res, _ := runLoop(t, client, executor, 5)

	assert.Equal(t, "Austin is sunny, Oslo is rainy", res.ResponseText)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.Events, 2)
	assert.True(t, res.Events[0].Success)
	assert.Equal(t, "call_1", res.Events[0].ToolCallID)
	assert.Equal(t, "call_2", res.Events[1].ToolCallID)

	// The intermediate exchange is captured for persistence: the tool-call
	// assistant message plus both results, in order.
	require.Len(t, res.Steps, 3)
	assert.Equal(t, core.RoleAssistant, res.Steps[0].Role)
	assert.Equal(t, core.RoleTool, res.Steps[1].Role)
	assert.Equal(t, "call_1", res.Steps[1].ToolCallID)
	assert.Equal(t, "call_2", res.Steps[2].ToolCallID)

	// The second model call sees exactly two new tool-result messages
	require.Len(t, client.requests, 2)
	second := client.requests[1].Messages
	toolMsgs := 0
	for _, m := range second {
		if m.Role == core.RoleTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 2, toolMsgs)

	// Tool messages preserve tool-call id correspondence
	assert.Equal(t, "call_1", second[len(second)-2].ToolCallID)
	assert.Equal(t, "call_2", second[len(second)-1].ToolCallID)
}

func TestLoop_ToolFailureFedBackToModel(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{
		assistantReply("checking", core.TokenUsage{}, toolCall("call_1", "get_weather", `{}`)),
		assistantReply("Sorry, the weather service is down", core.TokenUsage{}),
	}}
	executor := &fakeExecutor{errs: map[string]error{"get_weather": errors.New("upstream 500")}}

	res, _ := runLoop(t, client, executor, 5)

	assert.Equal(t, "Sorry, the weather service is down", res.ResponseText)
	require.Len(t, res.Events, 1)
	assert.False(t, res.Events[0].Success)
	assert.Contains(t, res.Events[0].Error, "upstream 500")

	// The error reached the model as tool content, loop did not abort
	second := client.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, core.RoleTool, last.Role)
	assert.Contains(t, last.Content, "upstream 500")
}

func TestLoop_ModelErrorAbortsWithFallback(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("connection refused")}}

	res, _ := runLoop(t, client, &fakeExecutor{}, 5)

	assert.Equal(t, fallbackModelError(core.RegionUS), res.ResponseText)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, StateModelCallFailed, res.State)
}

func TestLoop_ModelErrorPreservesEarlierEvents(t *testing.T) {
	client := &scriptedClient{
		responses: []core.ChatResponse{
			assistantReply("checking", core.TokenUsage{}, toolCall("call_1", "get_weather", `{}`)),
		},
		errs: []error{nil, errors.New("connection reset")},
	}
	executor := &fakeExecutor{results: map[string]string{"get_weather": "report"}}

	res, _ := runLoop(t, client, executor, 5)

	assert.Equal(t, StateModelCallFailed, res.State)
	require.Len(t, res.Events, 1)
	assert.True(t, res.Events[0].Success)
}

func TestLoop_MaxIterationsReached(t *testing.T) {
	// Six tool-call rounds scripted, cap at five
	var responses []core.ChatResponse
	for i := 0; i < 6; i++ {
		responses = append(responses, assistantReply("",
			core.TokenUsage{TotalTokens: 1},
			toolCall(fmt.Sprintf("call_%d", i), "get_weather", `{}`)))
	}
	client := &scriptedClient{responses: responses}
	executor := &fakeExecutor{results: map[string]string{"get_weather": "report"}}

	res, _ := runLoop(t, client, executor, 5)

	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, 5, client.calls)
	assert.Equal(t, StateMaxIterationsReached, res.State)
	assert.Equal(t, fallbackMaxIterations(core.RegionUS), res.ResponseText)
	assert.Len(t, res.Events, 5)
}

func TestLoop_NoChoicesFallback(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{
		{Choices: nil, Usage: core.TokenUsage{TotalTokens: 3}},
	}}

	res, _ := runLoop(t, client, &fakeExecutor{}, 5)

	assert.Equal(t, fallbackNoChoices(core.RegionUS), res.ResponseText)
	assert.Equal(t, StateFinalResponse, res.State)
	assert.Equal(t, 3, res.Usage.TotalTokens)
}

func TestLoop_EmptyContentFallback(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{
		assistantReply("", core.TokenUsage{}),
	}}

	res, _ := runLoop(t, client, &fakeExecutor{}, 5)

	assert.Equal(t, fallbackEmptyContent(core.RegionUS), res.ResponseText)
	assert.Equal(t, StateFinalResponse, res.State)
}

func TestLoop_UsageAccumulatesAcrossIterations(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{
		assistantReply("checking", core.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			toolCall("call_1", "get_weather", `{}`)),
		assistantReply("done", core.TokenUsage{PromptTokens: 20, CompletionTokens: 4, TotalTokens: 24}),
	}}
	executor := &fakeExecutor{results: map[string]string{"get_weather": "report"}}

	res, _ := runLoop(t, client, executor, 5)

	assert.Equal(t, 30, res.Usage.PromptTokens)
	assert.Equal(t, 9, res.Usage.CompletionTokens)
	assert.Equal(t, 39, res.Usage.TotalTokens)
}

func TestLoop_ToolInvocationCarriesIdentity(t *testing.T) {
	client := &scriptedClient{responses: []core.ChatResponse{
		assistantReply("checking", core.TokenUsage{}, toolCall("call_1", "get_weather", `{"city":"Austin"}`)),
		assistantReply("done", core.TokenUsage{}),
	}}
	executor := &fakeExecutor{results: map[string]string{"get_weather": "report"}}

	runLoop(t, client, executor, 5)

	require.Len(t, executor.invs, 1)
	inv := executor.invs[0]
	assert.Equal(t, "req-1", inv.RequestID)
	assert.Equal(t, "u1", inv.UserID)
	assert.Equal(t, core.RegionUS, inv.Region)
	assert.JSONEq(t, `{"city":"Austin"}`, string(inv.Payload))
}

func TestTruncate_LongToolOutput(t *testing.T) {
	long := strings.Repeat("x", 10000)
	out := truncate(long)
	assert.Less(t, len(out), 2200)
	assert.Contains(t, out, "TRUNCATED")
}
