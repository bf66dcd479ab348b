package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/leadscout/api"
	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/export"
	"github.com/use-agent/leadscout/jobs"
	"github.com/use-agent/leadscout/navigator"
	"github.com/use-agent/leadscout/scraper"
	"github.com/use-agent/leadscout/session"
	"github.com/use-agent/leadscout/store"
	"github.com/use-agent/leadscout/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("leadscout starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxConcurrentJobs", cfg.Jobs.MaxConcurrent,
	)

	// ── 3. Open the lead store ──────────────────────────────────────
	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := provisionUsers(ctx, st, cfg); err != nil {
		slog.Error("failed to provision users", "error", err)
		os.Exit(1)
	}

	vault, err := session.NewVault(st, cfg.Session.Key)
	if err != nil {
		slog.Error("failed to initialise session vault", "error", err)
		os.Exit(1)
	}

	// ── 4. Initialise scraper (launches browser) ────────────────────
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Target, cfg.Navigator, cfg.Jobs.MaxConcurrent)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		os.Exit(1)
	}
	defer sc.Close()

	// ── 5. Jobs and exports ─────────────────────────────────────────
	nav := navigator.New(sc, navigator.NewPacer(cfg.Navigator), cfg.Navigator)
	notifier := webhook.NewNotifier()
	manager := jobs.NewManager(st, nav, vault, notifier, cfg)
	if err := manager.Recover(ctx); err != nil {
		slog.Error("failed to recover jobs", "error", err)
		os.Exit(1)
	}

	exports, err := export.NewService(st, cfg.Export.Dir)
	if err != nil {
		slog.Error("failed to initialise exports", "error", err)
		os.Exit(1)
	}

	// ── 6. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(api.Services{
		Browser: sc,
		Store:   st,
		Vault:   vault,
		Jobs:    manager,
		Exports: exports,
	}, cfg, startTime)

	// ── 7. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Running jobs fail with INTERRUPTED and keep their partial results.
	jobsCtx, cancelJobs := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelJobs()
	if err := manager.Shutdown(jobsCtx); err != nil {
		slog.Error("jobs did not stop in time", "error", err)
	}
	notifier.Wait()

	// sc.Close() and st.Close() run via defer.
	slog.Info("leadscout stopped")
}

// provisionUsers creates a user row for every configured API key, or the
// local user when authentication is disabled.
func provisionUsers(ctx context.Context, st *store.Store, cfg *config.Config) error {
	if !cfg.Auth.Enabled {
		slog.Warn("authentication disabled, all requests act as the local user")
		return st.EnsureUser(ctx, config.LocalUserID, "enterprise", cfg.Quota.QuotaFor("enterprise"))
	}
	if len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("no API keys configured, every protected request will be rejected")
	}
	for _, k := range cfg.Auth.APIKeys {
		if err := st.EnsureUser(ctx, k.UserID, k.Tier, cfg.Quota.QuotaFor(k.Tier)); err != nil {
			return fmt.Errorf("user %s: %w", k.UserID, err)
		}
	}
	return nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
