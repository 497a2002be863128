// Command a2ad runs an agent-to-agent calling node: the inbound HTTP API,
// the idle call monitor and scheduled maintenance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/logstore"
	"github.com/openclaw/a2a/maintenance"
	"github.com/openclaw/a2a/monitor"
	"github.com/openclaw/a2a/runtime"
	"github.com/openclaw/a2a/server"
	"github.com/openclaw/a2a/tokenstore"
)

func main() {
	root := &cobra.Command{
		Use:           "a2ad",
		Short:         "agent-to-agent calling node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("failed to load %s: %w", envFile, err)
				}
			} else {
				// A missing default .env is fine.
				_ = godotenv.Load()
			}

			cfg, err := a2a.Load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "path to a .env file (default ./.env if present)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the node version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("a2ad", a2a.Version)
		},
	}
}

func serve(cfg *a2a.Config) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: unknown log level %q", a2a.ErrInvalidConfig, cfg.LogLevel)
	}
	logger.SetLevel(level)

	logs, err := logstore.Open(cfg.LogDB(), cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer logs.Close()
	logger.AddHook(logstore.NewHook(logs))

	tokens, err := tokenstore.Open(cfg.TokenFile())
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	conversations, err := convstore.Open(cfg.ConversationDB())
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer conversations.Close()

	agent := runtime.NewAdapter(cfg, logger.WithField("component", "runtime"))

	calls := monitor.New(conversations, agent, &monitor.Config{
		IdleTimeout:     cfg.IdleTimeout,
		MaxCallDuration: cfg.MaxCallDuration,
		CheckInterval:   cfg.CheckInterval,
		SummaryPrompt:   cfg.SystemPrompt,
		OwnerContext:    cfg.OwnerName,
	}, logger.WithField("component", "monitor"))

	jobs := maintenance.New(conversations, tokens, &maintenance.Config{
		Schedule:          cfg.MaintenanceSchedule,
		CompressAfterDays: cfg.CompressAfterDays,
	}, logger.WithField("component", "maintenance"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := calls.Start(ctx); err != nil {
		return err
	}
	defer calls.Stop(context.Background())

	if err := jobs.Start(ctx); err != nil {
		return err
	}
	defer jobs.Stop(context.Background())

	srv := server.New(cfg, tokens, conversations, agent, calls,
		logger.WithField("component", "server"))
	return srv.ListenAndServe(ctx)
}
