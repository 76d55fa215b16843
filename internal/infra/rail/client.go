// Package rail is the HTTP client for the external payment rail.
// The rail is expected to be idempotent on payment ID: re-submitting a
// transfer after a crash returns the original reference instead of
// paying twice.
package rail

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/agoralabs/agora/internal/domain"
)

// Client implements domain.PaymentRail over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient creates a payment rail client for the given base URL.
func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &Client{http: c}
}

type transferRequest struct {
	PaymentID string `json:"payment_id"`
	Payee     string `json:"payee"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type transferResponse struct {
	Ref   string `json:"ref"`
	Error string `json:"error,omitempty"`
}

// Transfer submits one payment, keyed by its ID for idempotency.
func (c *Client) Transfer(ctx context.Context, p domain.Payment) (string, error) {
	var out transferResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(transferRequest{
			PaymentID: p.ID,
			Payee:     p.Payee,
			Amount:    p.Net.String(),
			Currency:  p.Currency,
		}).
		SetResult(&out).
		Post("/v1/transfers")
	if err != nil {
		return "", fmt.Errorf("transfer request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("payment rail: status %d: %s", resp.StatusCode(), out.Error)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("payment rail returned empty reference")
	}
	return out.Ref, nil
}
