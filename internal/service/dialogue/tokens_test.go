package dialogue

import (
	"strings"
	"testing"

	"github.com/dotmila/mila/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Zero-value estimator uses the bytes/4 fallback, keeping the counts
// deterministic without the encoding file.
func budgetMessages() []core.Message {
	return []core.Message{
		{Role: core.RoleSystem, Content: "s"},
		{Role: core.RoleUser, Content: strings.Repeat("a", 400)},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
			{ID: "call_1", Type: "function", Function: core.FunctionCall{Name: "get_weather", Arguments: `{}`}},
		}},
		{Role: core.RoleTool, Content: strings.Repeat("b", 400), ToolCallID: "call_1"},
		{Role: core.RoleUser, Content: "ok"},
	}
}

func TestFitBudget_DropsToolResultsWithTheirAssistant(t *testing.T) {
	e := &estimator{}

	// Tight enough that the assistant tool-call message has to go too.
	out := e.fitBudget(budgetMessages(), 50)

	for _, m := range out {
		assert.NotEqual(t, core.RoleTool, m.Role, "tool result survived without its assistant tool call")
	}
	require.NotEmpty(t, out)
	assert.Equal(t, core.RoleSystem, out[0].Role)
	assert.Equal(t, "ok", out[len(out)-1].Content)
	assert.LessOrEqual(t, e.countMessages(out), 50)
}

func TestFitBudget_KeepsPairedToolResults(t *testing.T) {
	e := &estimator{}

	// Loose enough that dropping the oldest user message suffices.
	out := e.fitBudget(budgetMessages(), 130)

	roles := make([]string, 0, len(out))
	for _, m := range out {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{core.RoleSystem, core.RoleAssistant, core.RoleTool, core.RoleUser}, roles)
}

func TestFitBudget_ZeroBudgetIsUnlimited(t *testing.T) {
	e := &estimator{}
	msgs := budgetMessages()

	out := e.fitBudget(msgs, 0)

	assert.Len(t, out, len(msgs))
}
