package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/dotmila/mila/internal/cache"
	"github.com/dotmila/mila/internal/config"
	"github.com/dotmila/mila/internal/providers/llm"
	"github.com/dotmila/mila/internal/service/dialogue"
	"github.com/dotmila/mila/internal/service/turnctx"
	"github.com/dotmila/mila/internal/storage/sqlite"
	"github.com/dotmila/mila/internal/tools"
	"github.com/dotmila/mila/internal/transport/httpapi"
	"github.com/dotmila/mila/pkg/log"
	"github.com/dotmila/mila/pkg/srv"
	"github.com/joho/godotenv"
)

func NewServices(ctx context.Context) []srv.Service {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// init env
	err := initEnv(ctx, config.GetRuntimePath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	// 1. Configuration
	appCfg := config.NewAppConfig(ctx)
	llmCfg := config.NewLLMConfig(ctx)

	// 2. Storage
	db, repo, err := initStorage(ctx, appCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	services = append(services, srv.NewCleanup(db.Close))

	// 3. Tools
	registry := tools.NewRegistry()
	bridge := tools.NewMCPBridge(appCfg.GetMCPConfigPath(), registry)
	services = append(services, bridge)

	// 4. Turn context
	store := turnctx.NewStore(cache.NewMemory(), repo, nil, appCfg.MaxHistoryTurns, appCfg.ContextCacheTTL)

	// 5. Orchestrator
	orchestrator := dialogue.NewOrchestrator(dialogue.OrchestratorParams{
		Store:    store,
		Models:   llm.NewFactory(llmCfg),
		Executor: registry,
		Repo:     repo,
		Loop:     dialogue.NewLoop(appCfg.MaxToolIterations, appCfg.PromptTokenBudget, nil),
		Config:   appCfg,
		LLM:      llmCfg,
	})

	// 6. Transport
	services = append(services, httpapi.NewServer(appCfg.HTTPAddr, orchestrator))

	return services
}

func initStorage(ctx context.Context, cfg *config.AppConfig) (*sql.DB, *sqlite.ConversationRepo, error) {
	db, err := sqlite.NewDB(ctx, cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, err
	}
	return db, sqlite.NewConversationRepo(db), nil
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
