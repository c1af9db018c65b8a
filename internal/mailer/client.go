// Package mailer provides an HTTP adapter for the notification dispatcher's
// delivery contracts, speaking a JSON transactional-mail API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bindery/internal/notify"
)

// Client delivers email and mailing-list updates over HTTP. It implements
// notify.Sender and notify.ListClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a mail API client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("mail base URL required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("mail api key required")
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Send delivers one transactional message.
func (c *Client) Send(ctx context.Context, msg notify.Message) error {
	return c.post(ctx, "/messages", msg)
}

// Upsert adds or updates a mailing-list member.
func (c *Client) Upsert(ctx context.Context, sub notify.Subscription) error {
	return c.post(ctx, fmt.Sprintf("/lists/%s/members", sub.List), sub)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail api: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
