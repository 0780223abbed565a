package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapdeskhq/zapdesk/internal/agent"
	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/httpapi"
	"github.com/zapdeskhq/zapdesk/internal/providers"
	"github.com/zapdeskhq/zapdesk/internal/retention"
	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/store/pg"
	"github.com/zapdeskhq/zapdesk/internal/store/sqlite"
	"github.com/zapdeskhq/zapdesk/internal/telemetry"
	"github.com/zapdeskhq/zapdesk/internal/whatsapp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the zapdesk server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("flush traces", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	var sender agent.MessageSender
	if cfg.WhatsApp.AccessToken != "" && cfg.WhatsApp.PhoneNumberID != "" {
		sender = whatsapp.NewSender(cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.APIBase)
	} else {
		slog.Warn("WhatsApp credentials not configured, outbound delivery disabled")
	}

	factory := providers.NewFactory(stores.Settings, cfg.AI.Gateway, cfg.AI.GatewayToken)
	orch := agent.NewOrchestrator(factory, stores.Logs, stores.Knowledge)
	service := agent.NewService(stores, orch, sender, time.Duration(cfg.AI.DebounceSeconds)*time.Second)

	sweeper := retention.NewSweeper(stores.Messages, stores.Logs, stores.Settings)
	go sweeper.Run(ctx)

	// Hot-reload keeps only the debug log level responsive today; secrets
	// and listeners need a restart.
	if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
		slog.Info("config file changed, some settings need a restart to apply")
	}); err != nil {
		slog.Debug("config watch unavailable", "error", err)
	}

	server := httpapi.NewServer(ctx, cfg, stores, service)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// openStores selects the storage backend: Postgres in managed mode, SQLite
// otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	sc := store.StoreConfig{
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	}
	if cfg.IsManagedMode() {
		slog.Info("storage: postgres (managed mode)")
		return pg.NewPGStores(sc)
	}
	slog.Info("storage: sqlite (standalone mode)", "path", sc.SQLitePath)
	return sqlite.NewSQLiteStores(sc)
}
