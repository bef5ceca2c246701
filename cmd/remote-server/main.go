// Package main is the remote PTY server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/config"
	"github.com/TayTech/claude-remote/internal/common/constants"
	"github.com/TayTech/claude-remote/internal/common/httpmw"
	"github.com/TayTech/claude-remote/internal/common/logger"
	"github.com/TayTech/claude-remote/internal/events"
	"github.com/TayTech/claude-remote/internal/events/bus"
	"github.com/TayTech/claude-remote/internal/execution"
	gateways "github.com/TayTech/claude-remote/internal/gateway/websocket"
	"github.com/TayTech/claude-remote/internal/project"
	"github.com/TayTech/claude-remote/internal/ptyhandle"
	"github.com/TayTech/claude-remote/internal/tracing"
)

const serverName = "remote-server"

func main() {
	flags := pflag.NewFlagSet(serverName, pflag.ContinueOnError)
	configPath := flags.String("config", "", "directory containing config.yaml")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", serverName, err)
		os.Exit(2)
	}

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting remote PTY server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("program", cfg.Execution.Program))

	projects, closeProjects, err := project.Provide(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("project store: %w", err)
	}
	defer func() {
		if err := closeProjects(); err != nil {
			log.Warn("failed to close project store", zap.Error(err))
		}
	}()

	eventBus, closeBus, err := events.Provide(cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer closeBus()

	sub, err := eventBus.Subscribe(events.ExecutionWildcard, func(_ context.Context, ev *bus.Event) error {
		log.Debug("execution event",
			zap.String("type", ev.Type),
			zap.Any("data", ev.Data))
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", events.ExecutionWildcard, err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	registry := execution.NewRegistry(
		ptyhandle.NewNativeSpawner(clock.Real(), log),
		projects,
		eventBus,
		log,
		registryConfig(&cfg.Execution),
	)

	gateway := gateways.NewGateway(registry, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.OtelTracing(serverName))
	router.Use(httpmw.RequestLogger(log, serverName))
	gateway.SetupRoutes(router, cfg.Server.WSPath, cfg.Auth.Token)

	if cfg.Auth.Token == "" {
		log.Warn("auth.token is empty; any client that can reach the port may connect")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gateway.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr), zap.String("ws_path", cfg.Server.WSPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if n := registry.OnDisconnect(); n > 0 {
			log.Info("terminated executions on shutdown", zap.Int("count", n))
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func registryConfig(ec *config.ExecutionConfig) execution.Config {
	rc := execution.DefaultConfig()
	rc.MaxConcurrent = ec.MaxConcurrent
	rc.CommandTimeout = ec.CommandTimeoutDuration()
	rc.MarkerTTL = ec.CancelMarkerTTLDuration()
	rc.MaxCommandLength = ec.MaxCommandLength
	if ec.DefaultCols > 0 {
		rc.DefaultCols = ec.DefaultCols
	}
	if ec.DefaultRows > 0 {
		rc.DefaultRows = ec.DefaultRows
	}
	rc.Launcher = execution.Launcher{
		Program:       ec.Program,
		Args:          ec.Args,
		PromptFlag:    ec.PromptFlag,
		ResumeFlag:    ec.ResumeFlag,
		SessionIDFlag: ec.SessionIDFlag,
	}
	return rc
}
