package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/iudanet/docsync/internal/config"
	"github.com/iudanet/docsync/internal/metrics"
	"github.com/iudanet/docsync/internal/server"
	"github.com/iudanet/docsync/internal/server/middleware"
	"github.com/iudanet/docsync/internal/server/storage/sqlite"
	"github.com/iudanet/docsync/internal/server/token"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "docsync-server",
		Short:         "docsync document server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default $DOCSYNC_CONFIG or docsync.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "docsync server\n")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	})

	return root
}

func run(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return err
	}

	logger := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	store, err := sqlite.New(ctx, cfg.Server.DBPath)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", slog.Any("error", err))
		}
	}()
	logger.Info("storage initialized", slog.String("path", cfg.Server.DBPath))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	limiter := middleware.NewRateLimiter(cfg.Server.AuthRateLimit, cfg.Server.AuthRateBurst, logger)
	defer limiter.Stop()

	router := server.NewRouter(server.Deps{
		Logger:    logger,
		Users:     store,
		Tokens:    store,
		Documents: store,
		TokenIssuer: token.NewManager(token.Config{
			Secret:          []byte(cfg.Server.JWTSecret),
			AccessTokenTTL:  cfg.Server.AccessTokenTTL.Std(),
			RefreshTokenTTL: cfg.Server.RefreshTokenTTL.Std(),
		}),
		Metrics:     metrics.New(registry),
		Gatherer:    registry,
		AuthLimiter: limiter,
		Version:     Version,
	})

	srv := server.New(logger, server.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    cfg.Server.WriteTimeout.Std(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
	}, router, store)

	return srv.Run(ctx)
}
