package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/printqueue/internal/agent"
	"github.com/cassiomorais/printqueue/internal/infrastructure/config"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/cassiomorais/printqueue/pkg/retry"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "printer-agent",
		Usage: "Claim and print sticker jobs for one printer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.FloatFlag{
				Name:  "rate",
				Value: 5,
				Usage: "Maximum API requests per second",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Poll the queue until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "spool-dir",
						Aliases: []string{"d"},
						Usage:   "Directory the device driver reads sticker files from",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Log jobs instead of spooling them",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cfg, err := newAgent(cmd)
					if err != nil {
						return err
					}
					ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
					defer stop()
					return a.Run(ctx, cfg.PollInterval)
				},
			},
			{
				Name:  "poll-once",
				Usage: "Claim and process a single batch, then exit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "spool-dir", Aliases: []string{"d"}},
					&cli.BoolFlag{Name: "dry-run"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, _, err := newAgent(cmd)
					if err != nil {
						return err
					}
					n, err := a.PollOnce(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("processed %d job(s)\n", n)
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAgent(cmd *cli.Command) (*agent.Agent, *config.AgentConfig, error) {
	cfg, err := config.LoadAgent()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid agent config: %w", err)
	}

	logger := observability.InitLogger(cmd.String("log-level"), "printer-agent", os.Stdout)

	client := agent.NewClient(agent.ClientConfig{
		BaseURL:    cfg.BaseURL,
		PrinterKey: cfg.PrinterKey,
		Timeout:    cfg.RequestTimeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     20 * cfg.RetryDelay,
			OnRetry: func(n uint, err error) {
				logger.Warn().Err(err).Uint("attempt", n+1).Msg("API request failed, retrying")
			},
		},
		RatePerSecond: cmd.Float("rate"),
	}, nil)

	var printer agent.Printer
	switch {
	case cmd.Bool("dry-run"):
		printer = agent.LogPrinter{Logger: logger}
	case cmd.String("spool-dir") != "":
		printer = agent.NewSpoolPrinter(cmd.String("spool-dir"), nil, logger)
	default:
		return nil, nil, fmt.Errorf("either --spool-dir or --dry-run is required")
	}

	logger.Info().Str("api", cfg.BaseURL).Int("max_jobs", cfg.MaxJobs).Msg("Printer agent ready")
	return agent.New(client, printer, cfg.MaxJobs, logger), cfg, nil
}
