package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/trackd/internal/audit"
	"github.com/basket/trackd/internal/bus"
	"github.com/basket/trackd/internal/config"
	"github.com/basket/trackd/internal/gateway"
	"github.com/basket/trackd/internal/mutate"
	otelPkg "github.com/basket/trackd/internal/otel"
	"github.com/basket/trackd/internal/persistence"
	"github.com/basket/trackd/internal/query"
	"github.com/basket/trackd/internal/retention"
	"github.com/basket/trackd/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the tracker daemon

SUBCOMMANDS:
  %s status                   Show daemon health status (/healthz)

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  TRACKD_HOME             Data directory (default: ~/.trackd)
  TRACKD_AUTH_TOKEN       Bearer token for the HTTP gateway
  TRACKD_BIND_ADDR        Listen address override
`)
}

func main() {
	quiet := flag.Bool("quiet", false, "log to file only, do not mirror to stdout")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version, "config_hash", cfg.Fingerprint())

	if cfg.AuthToken == "" {
		logger.Warn("auth_token is empty; the gateway will reject every request until one is configured")
	}

	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	eventBus := bus.New()

	store, err := persistence.Open(cfg.DatabasePath())
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db_path", cfg.DatabasePath())

	recorder, err := audit.NewRecorder(cfg.HomeDir, store, eventBus, cfg.AuditTimeout())
	if err != nil {
		fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer recorder.Close()

	orchestrator := mutate.New(mutate.Config{
		Store:       store,
		Audit:       recorder,
		Bus:         eventBus,
		Logger:      logger,
		AllowReopen: cfg.AllowReopen,
	})
	querySvc := query.New(store, logger)

	sweeper, err := retention.NewSweeper(retention.Config{
		Store:     store,
		Logger:    logger,
		AuditDays: cfg.RetentionAuditDays,
		CronExpr:  cfg.RetentionSweepCron,
	})
	if err != nil {
		fatalStartup(logger, "E_RETENTION_INIT", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				reloaded, err := config.LoadFrom(cfg.HomeDir)
				if err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				orchestrator.SetAllowReopen(reloaded.AllowReopen)
				logger.Info("config reloaded", "allow_reopen", reloaded.AllowReopen, "config_hash", reloaded.Fingerprint())
			}
		}()
	}

	gw := gateway.New(gateway.Config{
		Mutator:           orchestrator,
		Query:             querySvc,
		Store:             store,
		Bus:               eventBus,
		Logger:            logger,
		AuthToken:         cfg.AuthToken,
		AllowOrigins:      cfg.AllowOrigins,
		ConfigFingerprint: cfg.Fingerprint(),
		AuditFailures:     recorder.FailureCount,
		Metrics:           metrics,
		Tracer:            otelProvider.Tracer,
	})

	handler := gateway.RequestSizeLimitMiddleware(0)(
		gateway.NewCORSMiddleware(cfg.CORS)(gw.Handler()),
	)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	if isatty.IsTerminal(os.Stdout.Fd()) && !*quiet {
		fmt.Printf("trackd %s listening on %s (home: %s)\n", Version, cfg.BindAddr, cfg.HomeDir)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalStartup(logger, "E_GATEWAY_SERVE", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// fatalStartup logs a startup failure with a stable error code and exits.
func fatalStartup(logger *slog.Logger, code string, err error) {
	if logger != nil {
		logger.Error("startup failed", "code", code, "error", err)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
	os.Exit(1)
}
