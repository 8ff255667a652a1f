package llm

import (
	"sync"

	"github.com/dotmila/mila/internal/config"
	"github.com/dotmila/mila/internal/core"
)

// Factory hands out a ModelClient plus resolved model id per region.
// Resolution is deliberately per-turn: a missing key or region mapping is an
// error for that turn, not a startup crash.
type Factory struct {
	cfg *config.LLMConfig

	mu     sync.Mutex
	client core.ModelClient
}

func NewFactory(cfg *config.LLMConfig) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) ClientFor(region string) (core.ModelClient, string, error) {
	if f.cfg.APIKey == "" {
		return nil, "", &core.ConfigError{Reason: "LLM_API_KEY is not set"}
	}

	model := f.cfg.ModelForRegion(region)
	if model == "" {
		return nil, "", &core.ConfigError{Reason: "no model configured for region " + region}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		f.client = NewOpenAICompatible(OpenAICompatibleConfig{
			BaseURL: f.cfg.BaseURL,
			APIKey:  f.cfg.APIKey,
		})
	}
	return f.client, model, nil
}
