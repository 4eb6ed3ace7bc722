// ABOUTME: Evolution API client delivering text messages to WhatsApp contacts
// ABOUTME: Formats contact addresses into the digits-only numbers the API expects

// Package whatsapp connects the gateway to an Evolution API instance.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/triage-gateway/internal/config"
)

const (
	userSuffix  = "@s.whatsapp.net"
	groupSuffix = "@g.us"
)

// APIError is a non-2xx answer from the Evolution API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evolution api returned status %d: %s", e.StatusCode, e.Body)
}

// Client sends messages through one Evolution API instance.
type Client struct {
	baseURL     string
	token       string
	instance    string
	countryCode string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a Client from configuration.
func NewClient(cfg config.WhatsAppConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		instance:    cfg.Instance,
		countryCode: cfg.CountryCode,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.With("component", "whatsapp"),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText implements transport.Sender.
func (c *Client) SendText(ctx context.Context, address, text string) error {
	number := FormatNumber(address, c.countryCode)
	body, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return fmt.Errorf("marshaling send request: %w", err)
	}

	url := c.baseURL + "/message/sendText/" + c.instance
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending text message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("text message sent", "number", number)
	return nil
}

// FormatNumber turns a contact address into an Evolution destination: group
// JIDs pass through, anything else becomes digits with the country code.
func FormatNumber(address, countryCode string) string {
	if strings.Contains(address, groupSuffix) {
		return address
	}
	address = strings.TrimSuffix(address, userSuffix)

	var b strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := strings.TrimPrefix(b.String(), "0")

	if countryCode != "" && !strings.HasPrefix(number, countryCode) {
		number = countryCode + number
	}
	return number
}
