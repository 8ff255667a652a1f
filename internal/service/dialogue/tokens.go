package dialogue

import (
	"github.com/dotmila/mila/internal/core"
	"github.com/pkoukk/tiktoken-go"
)

// estimator counts prompt tokens for the context budget. When the encoding
// cannot be loaded (offline start, unknown model) it falls back to a
// bytes/4 heuristic rather than failing the turn.
type estimator struct {
	enc *tiktoken.Tiktoken
}

func newEstimator() *estimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &estimator{}
	}
	return &estimator{enc: enc}
}

func (e *estimator) countText(text string) int {
	if e.enc == nil {
		return len(text)/4 + 1
	}
	return len(e.enc.Encode(text, nil, nil))
}

func (e *estimator) countMessages(messages []core.Message) int {
	total := 0
	for _, m := range messages {
		// Per-message framing overhead, role plus separators
		total += 4
		total += e.countText(m.Content)
		for _, tc := range m.ToolCalls {
			total += e.countText(tc.Function.Name)
			total += e.countText(tc.Function.Arguments)
		}
	}
	return total
}

// fitBudget drops the oldest non-system messages until the estimate fits.
// The most recent message is never dropped.
func (e *estimator) fitBudget(messages []core.Message, budget int) []core.Message {
	if budget <= 0 {
		return messages
	}

	for e.countMessages(messages) > budget {
		dropped := false
		for i, m := range messages {
			if m.Role == core.RoleSystem || i == len(messages)-1 {
				continue
			}
			messages = append(messages[:i], messages[i+1:]...)
			if len(m.ToolCalls) > 0 {
				// Dropping an assistant tool-call message orphans its
				// results; they must go with it.
				messages = core.SanitizeToolMessages(messages)
			}
			dropped = true
			break
		}
		if !dropped {
			break
		}
	}
	return messages
}
