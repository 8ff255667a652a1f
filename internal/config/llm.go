package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/dotmila/mila/pkg/log"
)

// LLMConfig maps regions to model ids. The key is intentionally not marked
// required: a missing key surfaces as a per-turn config error envelope, not
// a startup crash.
type LLMConfig struct {
	APIKey  string `env:"LLM_API_KEY"`
	BaseURL string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com"`

	ModelUS string `env:"LLM_MODEL_US" envDefault:"gpt-4o-mini"`
	ModelCN string `env:"LLM_MODEL_CN"`

	Temperature float64 `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int     `env:"LLM_MAX_TOKENS" envDefault:"1024"`
}

func NewLLMConfig(ctx context.Context) *LLMConfig {
	c := &LLMConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse LLM config")
	}
	return c
}

// ModelForRegion returns the configured model id, or "" when the region has
// no mapping.
func (c LLMConfig) ModelForRegion(region string) string {
	switch region {
	case "cn":
		return c.ModelCN
	default:
		return c.ModelUS
	}
}
