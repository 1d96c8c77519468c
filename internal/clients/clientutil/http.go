// Package clientutil holds the HTTP plumbing shared by market data clients:
// rate limiting, response caching and mapping of HTTP failures onto the
// provider error taxonomy.
package clientutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 8 << 20

// Config configures an HTTP client for one provider.
type Config struct {
	Provider       string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// HTTPClient performs rate-limited JSON GETs on behalf of a provider.
type HTTPClient struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	cache    *clientdata.Repository
	log      zerolog.Logger
}

// New creates an HTTP client. cache is optional - if nil, caching is disabled.
func New(cfg Config, cache *clientdata.Repository, log zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &HTTPClient{
		provider: cfg.Provider,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		cache:    cache,
		log:      log.With().Str("client", cfg.Provider).Logger(),
	}
}

// SetHTTPClient replaces the underlying client. Used by tests.
func (c *HTTPClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// GetJSON fetches url and decodes the JSON body into dst.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, dst interface{}) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", c.provider, err)
	}
	return nil
}

// GetCachedJSON is GetJSON backed by the client data cache. A fresh entry
// under key is served without a request; successful responses are stored
// for ttl. Expired entries are never served.
func (c *HTTPClient) GetCachedJSON(ctx context.Context, table, key string, ttl time.Duration, url string, dst interface{}) error {
	if c.cache != nil {
		cached, found, err := c.cache.Fresh(ctx, table, key)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to read cache")
		case found:
			if err := json.Unmarshal(cached, dst); err == nil {
				c.log.Debug().Str("key", key).Msg("Cache hit")
				return nil
			}
			c.log.Warn().Str("key", key).Msg("Discarding unreadable cache entry")
		}
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", c.provider, err)
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, table, key, body, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		}
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", c.provider, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "folio/1.0")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.ProviderTransientError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("path", req.URL.Path).
		Msg("HTTP request")

	if err := StatusError(c.provider, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.ProviderTransientError{Provider: c.provider, Err: err}
	}
	return body, nil
}

// StatusError maps an HTTP status onto the provider error taxonomy.
// It returns nil for 2xx.
func StatusError(provider string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusPaymentRequired:
		return &domain.ProviderConfigError{Provider: provider, Reason: fmt.Sprintf("HTTP %d", status)}
	case status == http.StatusTooManyRequests, status >= 500:
		return &domain.ProviderTransientError{Provider: provider, Err: fmt.Errorf("HTTP %d", status)}
	case status == http.StatusNotFound, status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: HTTP %d: %w", provider, status, domain.ErrNotFound)
	default:
		return fmt.Errorf("%s: unexpected HTTP %d", provider, status)
	}
}
