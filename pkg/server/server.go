// Package server assembles the WalletWise chatbot backend: storage, the
// provider manager, the tool registry, the executor and the HTTP router.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/analytics"
	"github.com/walletwise/walletwise/backend/internal/api"
	"github.com/walletwise/walletwise/backend/internal/api/handlers"
	"github.com/walletwise/walletwise/backend/internal/api/middleware"
	"github.com/walletwise/walletwise/backend/internal/auth"
	"github.com/walletwise/walletwise/backend/internal/cache"
	"github.com/walletwise/walletwise/backend/internal/config"
	"github.com/walletwise/walletwise/backend/internal/configstore"
	"github.com/walletwise/walletwise/backend/internal/database"
	"github.com/walletwise/walletwise/backend/internal/executor"
	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/internal/guardrails"
	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/internal/llm/anthropic"
	"github.com/walletwise/walletwise/backend/internal/llm/gemini"
	"github.com/walletwise/walletwise/backend/internal/llm/openai"
	"github.com/walletwise/walletwise/backend/internal/retention"
	"github.com/walletwise/walletwise/backend/internal/router"
	"github.com/walletwise/walletwise/backend/internal/secrets"
	"github.com/walletwise/walletwise/backend/internal/seed"
	"github.com/walletwise/walletwise/backend/internal/sessions"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/internal/telemetry"
	"github.com/walletwise/walletwise/backend/internal/tools"
	"github.com/walletwise/walletwise/backend/internal/users"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// Server holds the initialized backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the chatbot store. Exposed for the CLI and for Close.
	Store store.Store

	Config   *config.Config
	Models   *router.Manager
	Settings *configstore.Service
	Tools    *tools.Registry

	prober   *router.Prober
	stopBg   context.CancelFunc
	shutdown func(context.Context) error
}

// New loads configuration from the environment and builds the server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds every component from cfg. Providers that fail to
// initialize are logged; the server still starts and reports itself
// unavailable until an administrator fixes the candidates.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	backing, err := openBacking(ctx, cfg.Database)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}
	srv, err := build(ctx, cfg, backing)
	if err != nil {
		backing.store.Close()
		shutdown(ctx)
		return nil, err
	}
	srv.shutdown = shutdown
	return srv, nil
}

// backing groups the storage-dependent components.
type backing struct {
	store     store.Store
	finance   finance.Source
	directory users.Directory
}

func openBacking(ctx context.Context, cfg config.DatabaseConfig) (*backing, error) {
	if cfg.Driver == "memory" {
		log.Info().Str("snapshot", cfg.SnapshotPath).Msg("Using in-memory store")
		return &backing{
			store:     store.NewMemoryStore(cfg.SnapshotPath),
			finance:   finance.NewMemorySource(),
			directory: users.NewStaticDirectory(true),
		}, nil
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	b := &backing{
		store:     store.NewGormStore(db),
		finance:   finance.NewGormSource(db),
		directory: users.NewGormDirectory(db),
	}
	if cfg.AutoMigrate {
		if err := b.store.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate chatbot tables: %w", err)
		}
		log.Info().Str("driver", db.DriverName()).Msg("Chatbot tables migrated")
	}
	return b, nil
}

func build(ctx context.Context, cfg *config.Config, b *backing) (*Server, error) {
	settings := configstore.New(b.store, cache.NewTTL[string, json.RawMessage](cfg.Chatbot.ConfigCacheTTL))

	if cfg.SeedFile != "" {
		file, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		if _, err := seed.Apply(ctx, file, b.store, settings); err != nil {
			return nil, fmt.Errorf("apply seed: %w", err)
		}
	}

	if err := settings.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("Configuration not loaded at startup, keys are read on demand")
	}

	// Tools
	registry := tools.NewRegistry(settings)
	tools.RegisterFinancial(registry, tools.Deps{Source: b.finance})
	if err := registry.LoadConfiguration(ctx); err != nil {
		log.Warn().Err(err).Msg("Tools configuration not loaded, all tools active")
	}

	// Prompt
	prompt := executor.NewPromptBuilder(settings, b.finance,
		cache.NewTTL[string, string](cfg.Chatbot.CategoryCacheTTL), cfg.Chatbot.Locale)

	settings.OnChange(func(ctx context.Context, key string) {
		switch key {
		case models.ConfigKeyTools:
			if err := registry.Reload(ctx); err != nil {
				log.Warn().Err(err).Msg("Tools reload after config change failed")
			}
		}
	})

	// Providers
	drivers := llm.NewRegistry()
	openai.Register(drivers)
	gemini.Register(drivers)
	anthropic.Register(drivers)

	manager := router.NewManager(b.store, drivers, secrets.Default(cfg.Chatbot.SecretFileDir),
		router.WithHealthThreshold(cfg.Chatbot.HealthThreshold))
	if err := manager.Initialize(ctx); err != nil {
		if !errors.Is(err, models.ErrProviderUnavailable) {
			return nil, fmt.Errorf("initialize providers: %w", err)
		}
		log.Warn().Err(err).Msg("No provider available at startup")
	}

	var prober *router.Prober
	if cfg.Chatbot.HealthProbeSchedule != "" {
		prober = router.NewProber(manager, cfg.Chatbot.HealthProbeSchedule)
		if err := prober.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("start health prober: %w", err)
		}
	}

	// Chat
	conversations := sessions.NewService(b.store, prompt)
	chat := executor.NewExecutor(conversations, manager, registry, b.store, executor.Options{
		MaxIterations: cfg.Chatbot.MaxIterations,
		Locale:        cfg.Chatbot.Locale,
		Guard:         guardrails.New(settings),
	})

	h := &handlers.Handlers{
		Chat:          chat,
		Conversations: conversations,
		Models:        manager,
		Config:        settings,
		Tools:         registry,
		Analytics:     analytics.NewService(b.store),
	}

	limiter := middleware.NewRateLimiter(cfg.Chatbot.RateLimitPerMinute, cfg.Chatbot.RateLimitBurst)

	// Retention
	bgCtx, stopBg := context.WithCancel(context.WithoutCancel(ctx))
	go newJanitor(b.store, cfg.Chatbot.Retention).Start(bgCtx)

	return &Server{
		Handler:  api.NewRouter(cfg, h, authChain(cfg.Auth, b.directory), limiter),
		Store:    b.store,
		Config:   cfg,
		Models:   manager,
		Settings: settings,
		Tools:    registry,
		prober:   prober,
		stopBg:   stopBg,
	}, nil
}

func newJanitor(s store.Store, cfg config.RetentionConfig) *retention.Janitor {
	var archiver retention.Archiver
	if cfg.ArchiveDir != "" {
		archiver = retention.NewFileArchiver(cfg.ArchiveDir)
	}
	return retention.NewJanitor(s, cfg, archiver)
}

func authChain(cfg config.AuthConfig, directory users.Directory) *auth.ProviderChain {
	chain := auth.NewProviderChain()
	if cfg.Disabled {
		log.Warn().Str("user", cfg.DevUserID).Msg("Authentication disabled, every request runs as the dev user")
		chain.RegisterProvider(auth.NewDevProvider(cfg.DevUserID, true))
		return chain
	}
	chain.RegisterProvider(auth.NewAPIKeyProvider(cfg.AdminAPIKey))
	chain.RegisterProvider(auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer, directory))
	return chain
}

// Close stops background work, flushes telemetry and closes the store.
func (s *Server) Close(ctx context.Context) error {
	if s.stopBg != nil {
		s.stopBg()
	}
	if s.prober != nil {
		s.prober.Stop()
	}
	var errs []error
	if s.shutdown != nil {
		errs = append(errs, s.shutdown(ctx))
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}
