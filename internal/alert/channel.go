package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/offsync/opqueue/internal/domain"
)

// ConsoleChannel writes alerts to the structured log.
type ConsoleChannel struct {
	logger *slog.Logger
}

// NewConsoleChannel creates a console channel.
func NewConsoleChannel(logger *slog.Logger) *ConsoleChannel {
	return &ConsoleChannel{logger: logger}
}

// Name implements Notifier.
func (c *ConsoleChannel) Name() string { return "console" }

// Notify implements Notifier.
func (c *ConsoleChannel) Notify(alert domain.Alert) error {
	level := slog.LevelWarn
	if alert.Severity == domain.SeverityCritical {
		level = slog.LevelError
	}
	c.logger.Log(context.Background(), level, "ALERT "+alert.Title,
		slog.String("id", alert.ID),
		slog.String("rule", alert.RuleID),
		slog.String("severity", string(alert.Severity)),
		slog.String("message", alert.Message),
	)
	return nil
}

// SignatureHeader carries the hex HMAC-SHA256 of the request body,
// keyed with the shared webhook secret.
const SignatureHeader = "X-Opqueue-Signature-256"

// WebhookChannel POSTs alerts as JSON to an external endpoint. With a
// secret configured, each request is signed so the receiver can verify
// the sender.
type WebhookChannel struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(url, secret string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Notifier.
func (w *WebhookChannel) Name() string { return "webhook" }

// Notify implements Notifier.
func (w *WebhookChannel) Notify(alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under the secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
