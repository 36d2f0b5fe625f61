package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Printer renders one job on the device.
type Printer interface {
	Print(ctx context.Context, job Job) error
}

// Agent claims jobs for one printer, prints them in claim order and
// acknowledges each one.
type Agent struct {
	client  *Client
	printer Printer
	maxJobs int
	logger  zerolog.Logger
}

func New(client *Client, printer Printer, maxJobs int, logger zerolog.Logger) *Agent {
	return &Agent{client: client, printer: printer, maxJobs: maxJobs, logger: logger}
}

// PollOnce claims one batch and processes it. It returns how many jobs were
// claimed. A job whose acknowledgement fails stays processing on the server;
// it is logged and the batch continues.
func (a *Agent) PollOnce(ctx context.Context) (int, error) {
	jobs, err := a.client.Claim(ctx, a.maxJobs)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		logger := a.logger.With().Str("print_job_id", job.ID).Str("sticker_id", job.StickerID).Logger()

		success, reason := true, ""
		if err := a.printer.Print(ctx, job); err != nil {
			success, reason = false, err.Error()
			logger.Warn().Err(err).Msg("Print failed")
		}

		// Report the outcome even if shutdown started while printing.
		ackCtx := context.WithoutCancel(ctx)
		if err := a.client.Acknowledge(ackCtx, job.ID, success, reason); err != nil {
			if errors.Is(err, ErrAlreadyFinished) {
				logger.Warn().Msg("Job was already acknowledged")
				continue
			}
			logger.Error().Err(err).Msg("Acknowledge failed")
			continue
		}
		logger.Info().Bool("success", success).Msg("Job acknowledged")
	}
	return len(jobs), nil
}

// Run polls every interval until ctx is cancelled. A full batch is followed
// by an immediate poll. A rejected printer key stops the agent.
func (a *Agent) Run(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		n, err := a.PollOnce(ctx)
		switch {
		case errors.Is(err, ErrUnauthorized):
			return err
		case err != nil && ctx.Err() == nil:
			a.logger.Error().Err(err).Msg("Claim failed")
		}

		next := interval
		if err == nil && a.maxJobs > 0 && n >= a.maxJobs {
			next = 0
		}
		timer.Reset(next)
	}
}
