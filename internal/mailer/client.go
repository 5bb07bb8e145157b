// Package mailer отправляет купленные ключи покупателю через внешний почтовый шлюз.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с почтовым шлюзом.
type Client struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *retryablehttp.Client
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// NewClient создаёт клиент почтового шлюза по указанному адресу.
// Временные сбои шлюза ретраятся самим HTTP-клиентом.
func NewClient(baseURL, apiKey, from string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		from:       from,
		httpClient: rc,
	}
}

// SendKeys отправляет покупателю письмо с ключами по заказу.
func (c *Client) SendKeys(ctx context.Context, email, orderReference, productCode string, serials []string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("mailer client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload := sendRequest{
		From:    c.from,
		To:      email,
		Subject: fmt.Sprintf("Your keys for order %s", orderReference),
		Text:    formatBody(orderReference, productCode, serials),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

func formatBody(orderReference, productCode string, serials []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your purchase.\n\n")
	fmt.Fprintf(&b, "Order: %s\nProduct: %s\n\n", orderReference, productCode)
	for _, s := range serials {
		fmt.Fprintf(&b, "%s\n", s)
	}
	return b.String()
}
