// Package httpclient fetches ffmpeg release archives and the small release
// documents that accompany them.
//
// Requests are retried with exponential backoff, a breaker stops hammering a
// mirror that keeps failing, and compressed response bodies are decoded
// transparently. Downloads stream to a ".part" file that is only renamed into
// place once the whole body has arrived.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var (
	ErrMirrorUnavailable = errors.New("mirror temporarily unavailable")
	ErrMaxRetries        = errors.New("max retries exceeded")
	ErrUnexpectedStatus  = errors.New("unexpected status code")
	ErrTruncated         = errors.New("download truncated")
)

const (
	DefaultTimeout          = 10 * time.Minute
	DefaultRetryAttempts    = 3
	DefaultRetryDelay       = 1 * time.Second
	DefaultRetryMaxDelay    = 30 * time.Second
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	DefaultProgressInterval = 5 * time.Second
)

const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout bounds a whole request including the body transfer, so it has
	// to cover a full archive download.
	Timeout time.Duration

	// RetryAttempts is how many times a failed request is repeated.
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// FailureThreshold consecutive failures open the breaker for Cooldown.
	FailureThreshold int
	Cooldown         time.Duration

	// ProgressInterval is how often a running download logs its progress.
	// Zero disables progress logging.
	ProgressInterval time.Duration

	UserAgent string
	Logger    *slog.Logger

	// BaseClient is the underlying http.Client. If nil, one is created
	// with Timeout.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		RetryAttempts:    DefaultRetryAttempts,
		RetryDelay:       DefaultRetryDelay,
		RetryMaxDelay:    DefaultRetryMaxDelay,
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
		ProgressInterval: DefaultProgressInterval,
		Logger:           slog.Default(),
	}
}

// Client is an HTTP client for release mirrors.
type Client struct {
	config  Config
	client  *http.Client
	breaker *Breaker
	logger  *slog.Logger
}

// New creates a client. Zero-valued settings fall back to their defaults.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.RetryMaxDelay < cfg.RetryDelay {
		cfg.RetryMaxDelay = cfg.RetryDelay
	}

	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:  cfg,
		client:  base,
		breaker: NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a client with DefaultConfig.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Get issues a GET request, retrying transport errors and transient status
// codes. Any other response, including 4xx, is returned to the caller.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	req.Header.Set(HeaderAcceptEncoding, acceptEncoding)

	target := redactURL(req.URL)
	delay := c.config.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.config.RetryMaxDelay)
		}

		if !c.breaker.Allow() {
			lastErr = ErrMirrorUnavailable
			continue
		}

		started := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.breaker.Failure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		if transientStatus(resp.StatusCode) {
			c.breaker.Failure()
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
			c.logger.Warn("mirror returned transient status",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			continue
		}

		c.breaker.Success()
		c.logger.Debug("response received",
			slog.String("url", target),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", time.Since(started)),
		)
		decodeBody(resp, c.logger)
		return resp, nil
	}

	if lastErr == nil {
		return nil, ErrMaxRetries
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// GetBody fetches a small document, reading at most limit bytes. Non-2xx
// responses are errors.
func (c *Client) GetBody(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	resp, err := c.getOK(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return data, nil
}

// BreakerState reports whether the client is currently refusing requests.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

func (c *Client) getOK(ctx context.Context, rawURL string) (*http.Response, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return resp, nil
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
