package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
)

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

// SMSChannel posts text messages to an HTTP SMS gateway.
type SMSChannel struct {
	client   *resty.Client
	endpoint string
	sender   string
	contacts ContactResolver
}

func NewSMSChannel(cfg config.SMSConfig, contacts ContactResolver) *SMSChannel {
	client := resty.New().
		SetAuthToken(cfg.APIKey).
		SetRetryCount(1).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &SMSChannel{
		client:   client,
		endpoint: cfg.Endpoint,
		sender:   cfg.Sender,
		contacts: contacts,
	}
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Send(ctx context.Context, n core.Notification) error {
	if n.Staff || n.OwnerID == "" {
		return nil
	}
	_, phone, err := c.contacts.Contact(ctx, n.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to resolve contact: %w", err)
	}
	if phone == "" {
		return nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(smsRequest{To: phone, From: c.sender, Message: n.Title + ": " + n.Message}).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode())
	}
	return nil
}
