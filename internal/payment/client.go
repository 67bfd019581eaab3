package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
)

var ErrProcessor = errors.New("payment processor error")

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Client talks to the payment processor's orders API and verifies checkout
// signatures with the shared key secret. It implements core.PaymentGateway.
type Client struct {
	http   *resty.Client
	secret string
	logger *zap.Logger
}

func NewClient(cfg config.PaymentConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Client{
		http:   http,
		secret: cfg.KeySecret,
		logger: logger.Named("payment"),
	}
}

func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*core.OrderHandle, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrProcessor)
	}

	var out orderResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(orderRequest{Amount: amount, Currency: currency, Receipt: receipt}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d: %s %s", ErrProcessor,
			resp.StatusCode(), apiErr.Error.Code, apiErr.Error.Description)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: response carried no order id", ErrProcessor)
	}

	c.logger.Info("payment order created",
		zap.String("order_id", out.ID),
		zap.String("receipt", receipt),
		zap.Int64("amount", amount))

	return &core.OrderHandle{
		OrderID:  out.ID,
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

func (c *Client) VerifySignature(orderID, paymentID, signature string) error {
	return Verify(c.secret, orderID, paymentID, signature)
}
