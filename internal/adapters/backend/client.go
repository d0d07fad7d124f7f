// Package backend holds HTTP clients for the speech and sign services. Each
// request is retried with backoff on transport errors and 5xx responses.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
	// MaxBody caps how much of a response is read.
	MaxBody int64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 16 << 20
	}
	return c
}

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

type client struct {
	service string
	cfg     Config
	http    *http.Client
}

func newClient(service string, cfg Config, hc *http.Client) client {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return client{service: service, cfg: cfg, http: hc}
}

// do sends the request built by newReq, retrying when that can help, and
// decodes a JSON answer into out.
func (c client) do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	b := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewExponential(c.cfg.RetryBase))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		req, err := newReq(ctx)
		if err != nil {
			return errors.Wrap(err, "build request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			log.Debug().Str("module", "adapters.backend").Str("service", c.service).Int("attempt", attempt).Err(err).Msg("request failed")
			return retry.RetryableError(errors.Wrap(err, "request"))
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBody))
		if err != nil {
			return retry.RetryableError(errors.Wrap(err, "read body"))
		}
		if resp.StatusCode >= 300 {
			serr := &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return retry.RetryableError(serr)
			}
			return serr
		}
		if err := json.Unmarshal(body, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
		return nil
	})
	if err != nil {
		return &core.BackendError{Service: c.service, Err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
