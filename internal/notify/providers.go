package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider delivers one rendered message to a student.
type Provider interface {
	Send(ctx context.Context, message, recipient string) error
}

// NewProvider picks a provider by kind. Unknown kinds and a webhook without
// a URL fall back to logging.
func NewProvider(kind, webhookURL string, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "stub", "log":
		return logProvider{logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if webhookURL == "" {
			logger.Warn("webhook provider without NOTIFY_WEBHOOK_URL, using log provider")
			return logProvider{logger: logger}
		}
		return webhookProvider{url: webhookURL, client: &http.Client{Timeout: 5 * time.Second}}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{url: kind, client: &http.Client{Timeout: 5 * time.Second}}
		}
		return logProvider{logger: logger}
	}
}

type logProvider struct {
	logger *zap.Logger
}

func (p logProvider) Send(_ context.Context, message, recipient string) error {
	p.logger.Info("notification", zap.String("recipient", recipient), zap.String("message", message))
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(context.Context, string, string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(context.Context, string, string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	client *http.Client
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	body, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"message":   message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: %s", resp.Status)
	}
	return nil
}
