package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/chain"
	"github.com/avvvet/defibuddy-intent/internal/config"
	"github.com/avvvet/defibuddy-intent/internal/handlers"
	"github.com/avvvet/defibuddy-intent/internal/httpapi"
	"github.com/avvvet/defibuddy-intent/internal/knowledge"
	"github.com/avvvet/defibuddy-intent/internal/ledger"
	"github.com/avvvet/defibuddy-intent/internal/llm"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/observability"
	"github.com/avvvet/defibuddy-intent/internal/questions"
	"github.com/avvvet/defibuddy-intent/internal/transport"
	"github.com/avvvet/defibuddy-intent/internal/wallet"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if it exists (for development)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Info("no .env file found, using environment variables")
	}
	logger.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("llm_provider", cfg.LLMProvider))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("service stopped")
}

func newLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	store, err := memory.NewRedisStore(cfg.RedisURL, memory.Options{
		TTL:                cfg.SessionTTL,
		MaxSessionsPerUser: cfg.MaxSessionsPerUser,
		LockTTL:            cfg.SessionLockTTL,
		Logger:             logger.Named("sessions"),
	})
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("redis connected")

	var provider llm.LLMProvider
	if cfg.LLMConfigured() {
		model, err := llm.NewModel(llm.ModelConfig{
			Provider:        cfg.LLMProvider,
			AnthropicAPIKey: cfg.AnthropicAPIKey,
			AnthropicModel:  cfg.AnthropicModel,
			OpenAIAPIKey:    cfg.OpenAIAPIKey,
			OpenAIModel:     cfg.OpenAIModel,
		})
		if err != nil {
			return err
		}
		provider = llm.NewLangChainProvider(model, cfg.AnthropicTimeout, logger.Named("llm"))
	} else {
		logger.Warn("no LLM credentials configured, every turn will ask for clarification")
	}

	var searcher knowledge.Searcher
	if cfg.KnowledgeConfigured() {
		vs, err := knowledge.NewPineconeStore(knowledge.PineconeConfig{
			APIKey:         cfg.PineconeAPIKey,
			Host:           cfg.PineconeHost,
			Namespace:      cfg.PineconeNamespace,
			OpenAIAPIKey:   cfg.OpenAIAPIKey,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
		})
		if err != nil {
			return err
		}
		searcher = vs
	}
	lookup := knowledge.NewLookup(searcher, provider, cfg.AnthropicTimeout, logger.Named("knowledge"))

	ledgerStore, err := ledger.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	cipher, err := wallet.NewCipher(cfg.WalletEncryptionKey)
	if err != nil {
		return err
	}
	if cfg.WalletEncryptionKey == "" {
		logger.Warn("WALLET_ENCRYPTION_KEY not set, stored wallet data will not survive a restart")
	}
	wallets, err := wallet.NewSQLiteStore(cfg.WalletDBPath, cipher)
	if err != nil {
		return err
	}
	defer wallets.Close()

	mock := chain.NewMockWallet(cfg.WalletAddress)

	turnDeps := handlers.TurnDeps{
		Store:            store,
		Provider:         provider,
		Questions:        questions.NewGenerator(provider, cfg.AnthropicTimeout, logger.Named("questions")),
		Knowledge:        lookup,
		Metrics:          metrics,
		Logger:           logger.Named("turns"),
		ClearStaleFields: cfg.ClearStaleFields,
		Timeout:          cfg.AnthropicTimeout,
	}
	if cfg.SessionLockMode == config.LockModeStrict {
		turnDeps.Locker = store
	}
	turns := handlers.NewTurnHandler(turnDeps)

	execDeps := handlers.ExecutionDeps{
		Store:      store,
		Locker:     store,
		Executor:   chain.NewExecutor(mock, logger.Named("chain")),
		Oracle:     mock,
		Ledger:     ledgerStore,
		Wallets:    wallets,
		Metrics:    metrics,
		Logger:     logger.Named("execution"),
		PendingTTL: cfg.PendingPaymentTTL,
	}

	checks := []httpapi.HealthCheck{
		{Name: "redis", Check: store.Ping},
		{Name: "ledger", Check: ledgerStore.Ping},
		{Name: "wallets", Check: wallets.Ping},
	}
	if cfg.KnowledgeConfigured() {
		checks = append(checks, httpapi.HealthCheck{Name: "knowledge", Check: lookup.Ping})
	}

	nt, err := transport.NewNATSTransport(transport.Options{
		URL:            cfg.NatsURL,
		Name:           cfg.ServiceName,
		RequestSubject: cfg.NatsRequestSubject,
		EventSubject:   cfg.NatsEventSubject,
		ConnectTimeout: cfg.NatsTimeout,
		TurnTimeout:    cfg.NatsTimeout,
	}, turns, logger.Named("nats"))
	if err != nil {
		logger.Warn("NATS unavailable, serving HTTP only", zap.Error(err))
	} else {
		defer nt.Close()
		if err := nt.Start(); err != nil {
			return err
		}
		execDeps.Publisher = nt
		checks = append(checks, httpapi.HealthCheck{Name: "nats", Check: nt.Ping})
	}

	srv := httpapi.New(httpapi.Config{
		ServiceName:        cfg.ServiceName,
		Debug:              cfg.Debug,
		DevAuth:            cfg.DevAuth,
		AllowedOrigins:     cfg.AllowedOrigins,
		SessionTTL:         cfg.SessionTTL,
		MaxSessionsPerUser: cfg.MaxSessionsPerUser,
	}, turns, handlers.NewExecutionHandler(execDeps), logger.Named("http"), checks...)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
