package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/printqueue/internal/infrastructure/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Client holds the NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   jetstream.JetStream
}

// Connect dials NATS and opens JetStream.
func Connect(cfg config.NATSConfig, name string, logger zerolog.Logger) (*Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn().Err(nc.LastError()).Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Client{Conn: nc, JS: js}, nil
}

// EnsureStream creates or updates the stream that captures every relayed
// event. The duplicate window is how long JetStream remembers message IDs.
func (c *Client) EnsureStream(ctx context.Context, name, subjectPrefix string, duplicates time.Duration) error {
	_, err := c.JS.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: duplicates,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

// Ping reports whether the connection is usable.
func (c *Client) Ping(_ context.Context) error {
	if c.Conn == nil || !c.Conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() {
	if c.Conn != nil && !c.Conn.IsClosed() {
		_ = c.Conn.Drain()
	}
}
