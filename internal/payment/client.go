// Package payment provides an HTTP adapter for the purchase workflow's
// gateway contract, speaking a Stripe-compatible charges API.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bindery/internal/commerce"
)

// Client captures charges over HTTP. It implements commerce.Gateway.
type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
}

// NewClient constructs a gateway client. currency defaults to usd.
func NewClient(baseURL, apiKey, currency string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payment base URL required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("payment api key required")
	}
	currency = strings.TrimSpace(currency)
	if currency == "" {
		currency = "usd"
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		currency:   currency,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

type chargeResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Charge captures a single charge for the given token and amount.
func (c *Client) Charge(ctx context.Context, req commerce.ChargeRequest) (commerce.Receipt, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", c.currency)
	form.Set("source", req.Token)
	form.Set("description", req.Description)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", strings.NewReader(form.Encode()))
	if err != nil {
		return commerce.Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return commerce.Receipt{}, err
	}
	defer resp.Body.Close()

	var body chargeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return commerce.Receipt{}, fmt.Errorf("decode charge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		message := "charge rejected"
		if body.Error != nil && body.Error.Message != "" {
			message = body.Error.Message
		}
		return commerce.Receipt{}, fmt.Errorf("gateway: %s (status %d)", message, resp.StatusCode)
	}
	if body.ID == "" {
		return commerce.Receipt{}, errors.New("gateway: charge response missing id")
	}
	return commerce.Receipt{ID: body.ID}, nil
}
