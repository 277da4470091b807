package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/varalys/fimwatch/internal/alert"
	"github.com/varalys/fimwatch/internal/config"
)

// Webhook POSTs a JSON envelope per alert.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhook(cfg config.WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: url is required")
	}
	timeout := 10 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("webhook: invalid timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}
	return &Webhook{url: cfg.URL, token: cfg.GetToken(), client: &http.Client{Timeout: timeout}}, nil
}

func (w *Webhook) Notify(ctx context.Context, msg alert.Message) error {
	body, err := json.Marshal(newEnvelope(msg))
	if err != nil {
		return fmt.Errorf("webhook encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
