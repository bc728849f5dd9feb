// Package redis publishes run completion events to a redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/testpipe/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "testpipe:run_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the redis adapter.
type Config struct {
	// URL is the redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL     string
	Channel string
	// Timeout bounds each PUBLISH (default 5s).
	Timeout time.Duration
	Retries int
}

// Adapter publishes run completion events via PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a redis adapter. The URL is parsed but no connection is
// made until the first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as JSON to the configured channel. Zero
// receivers is not an error.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	return adapter.Retry(ctx, "redis", a.config.Retries, nil, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.config.Channel, body).Err()
	})
}

// Channel returns the channel events are published to.
func (a *Adapter) Channel() string {
	return a.config.Channel
}

// Close releases the redis connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
