package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"SignalCore/internal/di"
	"SignalCore/pkg/config"
	"SignalCore/pkg/util"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "signalcore",
		Short:        "Signal fusion, cost gating and portfolio allocation service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(replayCmd(&configPath))
	return root
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume events, run scheduled jobs and serve the read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnv(*configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			log.Printf("env=%s event_log=%s brokers=%v", cfg.Environment, cfg.EventLog.Backend, cfg.Kafka.Brokers)

			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			defer cleanup()

			// blocks until signal
			return app.Run()
		},
	}
}

func replayCmd(configPath *string) *cobra.Command {
	var (
		since string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the projection from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			from := time.Time{}
			if since != "" {
				t, ok := util.ParseTime(since, time.Now().UTC())
				if !ok {
					return fmt.Errorf("invalid --since %q: want RFC3339, unix seconds or a duration", since)
				}
				from = t
			}

			cfg, err := config.LoadWithEnv(*configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			defer cleanup()

			n, err := app.Replay(context.Background(), from, reset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "start of the replay: RFC3339, unix seconds or a duration such as 72h")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the projection before replaying")
	return cmd
}
