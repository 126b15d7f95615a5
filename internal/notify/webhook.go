package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rvail/netsentry/internal/retry"
)

const (
	webhookTimeout    = 10 * time.Second
	webhookAttempts   = 3
	webhookRetryDelay = 500 * time.Millisecond
)

// WebhookNotifier POSTs alerts as JSON to a configured endpoint
// (Slack-compatible relay, SIEM ingest, pager bridge).
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookNotifier creates a webhook channel. With a secret set, each
// request carries an X-NetSentry-Signature header holding the hex
// HMAC-SHA256 of the payload so the receiver can verify origin and
// integrity without the secret ever crossing the wire.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("notify: encode alert: %w", err)
	}

	return retry.Do(ctx, webhookAttempts, webhookRetryDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, webhookTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, n.url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("notify: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if n.secret != "" {
			req.Header.Set("X-NetSentry-Signature", sign(n.secret, payload))
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("notify: post webhook: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(fmt.Errorf("notify: webhook status %d", resp.StatusCode))
		}
		return fmt.Errorf("notify: webhook status %d", resp.StatusCode)
	})
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
