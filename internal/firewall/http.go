package firewall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rvail/netsentry/internal/metrics"
	"github.com/rvail/netsentry/internal/retry"
)

const (
	defaultCallTimeout = 5 * time.Second
	maxAttempts        = 3
	baseRetryDelay     = 200 * time.Millisecond
)

// HTTPFirewall drives a remote ACL service over REST:
//
//	PUT    {base}/v1/rules/{entity}   body {"reason": "..."}  → 201, 409 duplicate
//	DELETE {base}/v1/rules/{entity}                           → 204, 404 not found
//
// Every call carries a hard timeout so a stalled enforcement point cannot
// stall the monitoring cadence. Transient failures (5xx, transport errors)
// are retried with backoff; 4xx responses are permanent.
type HTTPFirewall struct {
	baseURL     string
	token       string
	client      *http.Client
	callTimeout time.Duration
}

// HTTPOption configures the HTTPFirewall.
type HTTPOption func(*HTTPFirewall)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFirewall) { f.client = c }
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFirewall) { f.callTimeout = d }
}

// NewHTTPFirewall creates an ACL adapter against baseURL. token, if set, is
// sent as a bearer token.
func NewHTTPFirewall(baseURL, token string, opts ...HTTPOption) *HTTPFirewall {
	f := &HTTPFirewall{
		baseURL:     baseURL,
		token:       token,
		client:      &http.Client{Timeout: defaultCallTimeout},
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFirewall) Block(ctx context.Context, entity, reason string) error {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("firewall: encode block request: %w", err)
	}
	err = f.call(ctx, http.MethodPut, f.ruleURL(entity), body, map[int]error{
		http.StatusConflict: ErrDuplicateRule,
	})
	f.observe("block", err)
	return err
}

func (f *HTTPFirewall) Unblock(ctx context.Context, entity string) error {
	err := f.call(ctx, http.MethodDelete, f.ruleURL(entity), nil, map[int]error{
		http.StatusNotFound: ErrNotFound,
	})
	f.observe("unblock", err)
	return err
}

func (f *HTTPFirewall) ruleURL(entity string) string {
	return f.baseURL + "/v1/rules/" + url.PathEscape(entity)
}

// call executes one HTTP call with retry. sentinels maps status codes to
// benign sentinel errors that are returned without retrying.
func (f *HTTPFirewall) call(ctx context.Context, method, callURL string, body []byte, sentinels map[int]error) error {
	return retry.Do(ctx, maxAttempts, baseRetryDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, callURL, reader)
		if err != nil {
			return retry.Permanent(fmt.Errorf("firewall: build request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if f.token != "" {
			req.Header.Set("Authorization", "Bearer "+f.token)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("firewall: %s %s: %w", method, callURL, err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if sentinel, ok := sentinels[resp.StatusCode]; ok {
			return retry.Permanent(sentinel)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(fmt.Errorf("firewall: %s %s: status %d", method, callURL, resp.StatusCode))
		}
		return fmt.Errorf("firewall: %s %s: status %d", method, callURL, resp.StatusCode)
	})
}

func (f *HTTPFirewall) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case err == ErrDuplicateRule:
		result = "duplicate"
	case err == ErrNotFound:
		result = "not_found"
	default:
		result = "error"
	}
	metrics.FirewallCallsTotal.WithLabelValues(op, result).Inc()
}
