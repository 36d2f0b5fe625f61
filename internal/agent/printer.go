package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
)

// SpoolPrinter downloads the sticker artwork into a spool directory where
// the device driver picks it up.
type SpoolPrinter struct {
	dir    string
	http   *http.Client
	logger zerolog.Logger
}

func NewSpoolPrinter(dir string, httpClient *http.Client, logger zerolog.Logger) *SpoolPrinter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SpoolPrinter{dir: dir, http: httpClient, logger: logger}
}

func (p *SpoolPrinter) Print(ctx context.Context, job Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.StickerURL, nil)
	if err != nil {
		return fmt.Errorf("invalid sticker url: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("download sticker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download sticker: status %d", resp.StatusCode)
	}

	// Write under a temporary name so the driver never sees a partial file.
	final := filepath.Join(p.dir, job.ID+extension(job.StickerURL))
	tmp, err := os.CreateTemp(p.dir, ".spool-*")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("spool sticker: %w", err)
	}

	p.logger.Debug().Str("file", final).Msg("Sticker spooled")
	return nil
}

func extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

// LogPrinter only logs jobs. It is used for dry runs.
type LogPrinter struct {
	Logger zerolog.Logger
}

func (p LogPrinter) Print(_ context.Context, job Job) error {
	p.Logger.Info().Str("print_job_id", job.ID).Str("sticker_url", job.StickerURL).Msg("Dry run print")
	return nil
}
