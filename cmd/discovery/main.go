package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/discovery-engine/internal/config"
	"github.com/p-blackswan/discovery-engine/internal/curator"
	ghclient "github.com/p-blackswan/discovery-engine/internal/github"
	"github.com/p-blackswan/discovery-engine/internal/health"
	"github.com/p-blackswan/discovery-engine/internal/metrics"
	"github.com/p-blackswan/discovery-engine/internal/mgmt"
	"github.com/p-blackswan/discovery-engine/internal/scheduler"
	"github.com/p-blackswan/discovery-engine/internal/search"
	"github.com/p-blackswan/discovery-engine/internal/service"
	"github.com/p-blackswan/discovery-engine/internal/store"
	"github.com/p-blackswan/discovery-engine/internal/templates"
	"github.com/p-blackswan/discovery-engine/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Str("database", cfg.DatabasePath).
		Dur("tick", cfg.SchedulerTick).
		Msg("starting discovery engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Store
	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	if n, err := st.FailStuckAgents(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to recover interrupted runs")
	} else if n > 0 {
		logger.Warn().Int("agents", n).Msg("agents left running by a previous process moved to error")
	}

	m := metrics.New()
	checker := health.NewChecker(logger)
	checker.Register("store", st.Ping, true)

	// GitHub provider
	ghOpts := ghclient.Options{
		BaseURL:       cfg.GitHubAPIURL,
		Timeout:       cfg.SearchTimeout,
		MetaCacheSize: cfg.RepoMetaCacheSize,
	}
	switch {
	case cfg.GitHubToken != "":
		ghOpts.Token = ghclient.StaticToken(cfg.GitHubToken)
		logger.Info().Msg("GitHub provider using static token")
	case cfg.GitHubAppEnabled():
		appAuth, err := ghclient.NewAppAuth(cfg.GitHubAppID, cfg.GitHubInstallationID, cfg.GitHubPrivateKeyPath,
			tokenstore.NewMemoryStore(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init GitHub App auth")
		}
		if cfg.GitHubAPIURL != "" {
			appAuth = appAuth.WithBaseURL(cfg.GitHubAPIURL)
		}
		ghOpts.Token = appAuth
		logger.Info().Int64("app_id", cfg.GitHubAppID).Msg("GitHub provider using App installation tokens")
	default:
		logger.Warn().Msg("GitHub credentials not configured, searching anonymously")
	}
	gh, err := ghclient.NewClient(ghOpts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init GitHub client")
	}
	checker.Register("github", gh.Ping, false)

	// Engine
	executor := search.NewExecutor(gh, search.Config{
		PageSize: cfg.SearchPageSize,
		Timeout:  cfg.SearchTimeout,
	}, logger)

	cur := curator.New(gh, curator.Config{TopK: cfg.CurateTopK}, logger)
	cur.OnArtifactFailure = func(error) { m.RecordError("curator", "artifact_fetch") }

	sched := scheduler.New(st, executor, cur, m, scheduler.Config{
		TickInterval:  cfg.SchedulerTick,
		MaxConcurrent: cfg.SchedulerMaxConcurrent,
		TrendingLimit: cfg.TrendingLimit,
	}, logger)

	var tpl *templates.Registry
	if cfg.TemplatesPath != "" {
		tpl, err = templates.Load(cfg.TemplatesPath)
	} else {
		tpl, err = templates.Default()
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load agent templates")
	}

	svc := service.New(st, sched, cur, tpl, logger)

	// HTTP server for probes and metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	roles := make(map[string]mgmt.Role)
	for _, k := range cfg.OperatorKeys() {
		roles[k] = mgmt.RoleOperator
	}
	for _, k := range cfg.ReadOnlyKeys() {
		roles[k] = mgmt.RoleReadOnly
	}

	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:   cfg.MgmtAuthMode,
			APIKey: cfg.MgmtAPIKey,
			Roles:  roles,
		},
		RateLimitRPS: cfg.MgmtRateLimitRPS,
		CORSOrigins:  cfg.CORSOrigins(),
		TLSCert:      cfg.MgmtTLSCert,
		TLSKey:       cfg.MgmtTLSKey,
	}, svc, checker, m, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Start(); err != nil {
			logger.Error().Err(err).Msg("management API server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if cfg.RunHistoryLimit > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneRuns(ctx, st, cfg.RunHistoryLimit, cfg.RetentionInterval, logger)
		}()
	}

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Stop triggering new runs, then drain the servers.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if err := mgmtServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("management API server shutdown error")
	}

	// Wait for in-flight runs so their results are persisted before the
	// store closes.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("discovery engine stopped")
}

// pruneRuns trims run history to keep entries per agent until ctx ends.
func pruneRuns(ctx context.Context, st *store.Store, keep int, every time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		n, err := st.PruneRuns(ctx, keep)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("run history pruning failed")
		} else if n > 0 {
			logger.Info().Int64("removed", n).Int("keep", keep).Msg("pruned run history")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
