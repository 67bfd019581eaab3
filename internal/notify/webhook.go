package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

type WebhookPayload struct {
	Event     string            `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Data      core.Notification `json:"data"`
	Signature string            `json:"signature,omitempty"`
}

// WebhookStore lists the staff endpoints subscribed to an event.
type WebhookStore interface {
	ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*db.Webhook, error)
}

// WebhookChannel posts HMAC-signed events to subscribed staff endpoints.
// Server errors are retried with backoff; 4xx responses are not.
type WebhookChannel struct {
	store  WebhookStore
	client *resty.Client
	logger *zap.Logger
}

func NewWebhookChannel(store WebhookStore, cfg config.WebhookConfig, logger *zap.Logger) *WebhookChannel {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount-1).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(cfg.RetryDelay * time.Duration(1<<(cfg.RetryCount-1))).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookChannel{store: store, client: client, logger: logger.Named("webhook")}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, n core.Notification) error {
	hooks, err := c.store.ListActiveWebhooksForEvent(ctx, string(n.Type))
	if err != nil {
		return fmt.Errorf("failed to get webhooks for event %s: %w", n.Type, err)
	}

	var firstErr error
	for _, hook := range hooks {
		if err := c.Deliver(ctx, hook, n); err != nil {
			c.logger.Warn("webhook delivery failed",
				zap.Int64("webhook_id", hook.ID), zap.String("event", string(n.Type)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Deliver posts n to a single endpoint regardless of its subscriptions.
func (c *WebhookChannel) Deliver(ctx context.Context, hook *db.Webhook, n core.Notification) error {
	payload := WebhookPayload{
		Event:     string(n.Type),
		Timestamp: n.Timestamp,
		Data:      n,
	}
	if hook.Secret != "" {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
		payload.Signature = SignPayload(data, hook.Secret)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Signature", payload.Signature).
		SetHeader("X-Webhook-Event", payload.Event).
		SetBody(payload).
		Post(hook.URL)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("http error: %d", resp.StatusCode())
	}
	return nil
}

// SignPayload is the hex HMAC-SHA256 of payload keyed with secret.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
