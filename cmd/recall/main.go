package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/recall/internal/app"
	"github.com/ent0n29/recall/internal/assistant"
	"github.com/ent0n29/recall/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "recall: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg    config.Config
		logger *slog.Logger
	)

	root := &cobra.Command{
		Use:           "recall",
		Short:         "Chat-history-augmented coding assistant backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			cfg = loaded
			logger = app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}

	var userID string
	askCmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run one ask through the pipeline and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ask(cmd, cfg, logger, userID, strings.Join(args, " "))
		},
	}
	askCmd.Flags().StringVar(&userID, "user", assistant.DefaultUserID, "user id whose history is used and extended")

	var selfTest bool
	setupCmd := &cobra.Command{
		Use:   "setup-index",
		Short: "Create the vector index schema, optionally verifying namespace isolation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.SetupIndex(cmd.Context(), cfg, selfTest, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vector index %q ready (mode=%s)\n", cfg.VectorIndexName, cfg.VectorIndexMode)
			return nil
		},
	}
	setupCmd.Flags().BoolVar(&selfTest, "self-test", false, "store and query probe vectors in three namespaces")

	root.AddCommand(serveCmd, askCmd, setupCmd)

	// Bare "recall" runs the server.
	root.RunE = serveCmd.RunE
	root.Args = cobra.NoArgs
	return root
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "err", err)
		}
	}()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	if err := built.WatchInstructions(runCtx); err != nil {
		logger.Warn("instruction watch disabled", "err", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErr:
		return fmt.Errorf("listen error: %w", err)
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}

func ask(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, userID, query string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer built.Cleanup()

	res, err := built.Assistant.Ask(ctx, assistant.AskRequest{Query: query, UserID: userID})
	if err != nil {
		if res.Error != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), res.Error)
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Response)
	return nil
}
