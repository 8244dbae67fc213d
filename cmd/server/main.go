package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/app"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/config"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/log"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "topichat-server",
		Short:   "Chat, presence and livestream signaling server",
		Version: version,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New("info")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting topichat server")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "TCP listen address")
	cmd.Flags().StringVar(&overrides.WSAddr, "ws-addr", "", "WebSocket bridge listen address (empty disables)")
	cmd.Flags().StringVar(&overrides.Storage, "storage", "", "storage backend: jsonfile, sqlite or memory")
	cmd.Flags().StringVar(&overrides.DataDir, "data-dir", "", "data directory for the jsonfile backend")
	cmd.Flags().StringVar(&overrides.DatabasePath, "db", "", "database path for the sqlite backend")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().DurationVar(&overrides.IdleTimeout, "idle-timeout", 0, "disconnect sessions idle for this long")
	cmd.Flags().Float64Var(&overrides.RatePerSec, "rate", 0, "per-session command rate limit")
	cmd.Flags().DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	return cmd
}
