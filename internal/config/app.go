package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dotmila/mila/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"MILA_RUNTIME_PATH" envDefault:".mila"`
	HTTPAddr    string `env:"MILA_HTTP_ADDR" envDefault:":8720"`

	// Default region when a request does not carry one
	Region string `env:"REGION" envDefault:"us"`

	// Turn orchestration bounds
	MaxHistoryTurns   int           `env:"MAX_HISTORY_TURNS" envDefault:"10"`
	MaxToolIterations int           `env:"MAX_TOOL_ITERATIONS" envDefault:"5"`
	RunTimeout        time.Duration `env:"RUN_TIMEOUT" envDefault:"120s"`
	PromptTokenBudget int           `env:"PROMPT_TOKEN_BUDGET" envDefault:"6000"`

	ContextCacheTTL time.Duration `env:"CONTEXT_CACHE_TTL" envDefault:"3600s"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse app config")
	}
	return c
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.RuntimePath, "mila.db")
}

func (c AppConfig) GetMCPConfigPath() string {
	return filepath.Join(c.RuntimePath, "mcp_config.json")
}
