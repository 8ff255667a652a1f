package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dotmila/mila/internal/core"
	"github.com/dotmila/mila/pkg/log"
	"github.com/dotmila/mila/pkg/retry"
)

// Terminal states of the tool-calling loop.
const (
	StateFinalResponse        = "final_response"
	StateMaxIterationsReached = "max_iterations_reached"
	StateModelCallFailed      = "model_call_failed"
)

const maxToolResultLen = 2000

type LoopResult struct {
	ResponseText string
	Events       []core.ToolCallEvent
	// Steps are the intermediate assistant tool-call messages and tool
	// results, in order, for durable persistence of the full exchange.
	Steps      []core.Message
	Usage      core.TokenUsage
	Iterations int
	State      string
}

type LoopParams struct {
	Client       core.ModelClient
	Executor     core.ToolExecutor
	Model        string
	SystemPrompt string
	Context      *core.TurnContext
	RequestID    string
	Region       string
	Temperature  float64
	MaxTokens    int
}

// Loop drives the bounded exchange between the model and the tools. The
// model call is the sole suspension point per iteration; tool failures are
// surfaced back to the model as tool-result content, never as loop aborts.
type Loop struct {
	maxIterations int
	promptBudget  int
	retrier       *retry.Retrier
	tokens        *estimator
	now           func() time.Time
}

func NewLoop(maxIterations, promptBudget int, retrier *retry.Retrier) *Loop {
	if retrier == nil {
		retrier = retry.NewDefaultRetrier()
	}
	return &Loop{
		maxIterations: maxIterations,
		promptBudget:  promptBudget,
		retrier:       retrier,
		tokens:        newEstimator(),
		now:           time.Now,
	}
}

func (l *Loop) Run(ctx context.Context, p LoopParams) LoopResult {
	logger := log.FromCtx(ctx)
	result := LoopResult{State: StateFinalResponse}

	messages := make([]core.Message, 0, len(p.Context.History)+1)
	messages = append(messages, core.Message{Role: core.RoleSystem, Content: p.SystemPrompt})
	messages = append(messages, p.Context.History...)

	var tools []core.Tool
	if p.Executor != nil {
		var err error
		tools, err = p.Executor.Tools(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("tool discovery failed, continuing without tools")
			tools = nil
		}
	}

	for i := 0; i < l.maxIterations; i++ {
		result.Iterations = i + 1
		messages = l.tokens.fitBudget(messages, l.promptBudget)

		var resp core.ChatResponse
		err := l.retrier.Do(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = p.Client.ChatCompletion(ctx, core.ChatRequest{
				Model:       p.Model,
				Messages:    messages,
				Tools:       tools,
				Temperature: p.Temperature,
				MaxTokens:   p.MaxTokens,
				UserID:      p.UserID(),
			})
			return callErr
		})
		if err != nil {
			modelErr := &core.ModelCallError{Iteration: result.Iterations, Err: err}
			logger.Error().Err(modelErr).Msg("model call failed, aborting loop")
			result.ResponseText = fallbackModelError(p.Region)
			result.State = StateModelCallFailed
			return result
		}

		result.Usage.Add(resp.Usage)

		if len(resp.Choices) == 0 {
			// Degraded content, not an error
			logger.Warn().Int("iteration", result.Iterations).Msg("model returned no choices")
			result.ResponseText = fallbackNoChoices(p.Region)
			return result
		}

		assistant := resp.Choices[0].Message
		assistant.Role = core.RoleAssistant
		assistant.Timestamp = l.now()
		messages = append(messages, assistant)
		p.Context.Append(assistant)

		if len(assistant.ToolCalls) == 0 {
			if assistant.Content == "" {
				result.ResponseText = fallbackEmptyContent(p.Region)
			} else {
				result.ResponseText = assistant.Content
			}
			return result
		}

		result.Steps = append(result.Steps, assistant)
		for _, tc := range assistant.ToolCalls {
			toolMsg, event := l.executeToolCall(ctx, p, tc)
			messages = append(messages, toolMsg)
			p.Context.Append(toolMsg)
			result.Steps = append(result.Steps, toolMsg)
			result.Events = append(result.Events, event)
		}
	}

	logger.Warn().Int("iterations", result.Iterations).Msg("tool loop hit iteration cap")
	result.ResponseText = fallbackMaxIterations(p.Region)
	result.State = StateMaxIterationsReached
	return result
}

// executeToolCall runs one call and always produces a tool message: either
// the result or a serialized error the model can react to.
func (l *Loop) executeToolCall(ctx context.Context, p LoopParams, tc core.ToolCall) (core.Message, core.ToolCallEvent) {
	start := l.now()

	var out string
	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		var execErr error
		out, execErr = p.Executor.ExecuteTool(ctx, core.ToolInvocation{
			RequestID: p.RequestID,
			Region:    p.Region,
			UserID:    p.Context.UserID,
			Name:      tc.Function.Name,
			Payload:   json.RawMessage(tc.Function.Arguments),
		})
		return execErr
	})

	event := core.ToolCallEvent{
		ToolCallID: tc.ID,
		ToolName:   tc.Function.Name,
		DurationMs: l.now().Sub(start).Milliseconds(),
		Success:    err == nil,
	}

	content := out
	if err != nil {
		event.Error = err.Error()
		errBody, _ := json.Marshal(map[string]string{"error": err.Error()})
		content = string(errBody)
		log.FromCtx(ctx).Warn().Err(err).Str("tool", tc.Function.Name).Msg("tool call failed, feeding error back to model")
	}

	return core.Message{
		Role:       core.RoleTool,
		Content:    truncate(content),
		ToolCallID: tc.ID,
		ToolName:   tc.Function.Name,
		Timestamp:  l.now(),
	}, event
}

func truncate(input string) string {
	if len(input) <= maxToolResultLen {
		return input
	}
	head := input[:500]
	tail := input[len(input)-(maxToolResultLen-500):]
	return fmt.Sprintf("%s\n\n... [TRUNCATED %d bytes] ...\n\n%s", head, len(input)-maxToolResultLen, tail)
}

func (p LoopParams) UserID() string {
	if p.Context == nil {
		return ""
	}
	return p.Context.UserID
}

func fallbackModelError(region string) string {
	if region == core.RegionCN {
		return "抱歉，我这边暂时出了点问题，请稍后再试。"
	}
	return "I'm sorry, something went wrong on my end. Please try again in a moment."
}

func fallbackNoChoices(region string) string {
	if region == core.RegionCN {
		return "嗯……我一时没想好怎么回答。能换个说法再问一次吗？"
	}
	return "Hmm, I couldn't come up with a response just now. Could you try rephrasing that?"
}

func fallbackEmptyContent(region string) string {
	if region == core.RegionCN {
		return "我好像没什么要补充的。还有别的想聊的吗？"
	}
	return "I don't have anything to add right now. Is there something else on your mind?"
}

func fallbackMaxIterations(region string) string {
	if region == core.RegionCN {
		return "这个请求比我预想的复杂，我没能完全处理完。可以把它拆小一点再试试吗？"
	}
	return "That took more steps than I could finish. Could you break it into something smaller and try again?"
}
