package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clup/store-service/internal/logger"
)

var ErrRejected = errors.New("sms provider rejected request")

// Provider delivers a text message to a phone number.
type Provider interface {
	Send(ctx context.Context, phone, message string) error
}

type Options struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
	Timeout      time.Duration
}

// NewProvider picks a provider by kind: "log", "noop", "fail", "webhook" or a
// bare http(s) URL. Unknown kinds and a webhook without URL fall back to log.
func NewProvider(opts Options, log logger.ILogger) Provider {
	switch opts.Kind {
	case "", "stub", "log":
		return logProvider{log: log}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if opts.WebhookURL == "" {
			log.Warning("sms webhook url missing, using log provider")
			return logProvider{log: log}
		}
		return newWebhookProvider(opts.WebhookURL, opts.WebhookToken, opts.Timeout)
	default:
		if strings.HasPrefix(opts.Kind, "http://") || strings.HasPrefix(opts.Kind, "https://") {
			return newWebhookProvider(opts.Kind, opts.WebhookToken, opts.Timeout)
		}
		log.Warning("unknown sms provider, using log provider", logger.String("kind", opts.Kind))
		return logProvider{log: log}
	}
}

type logProvider struct {
	log logger.ILogger
}

func (p logProvider) Send(ctx context.Context, phone, message string) error {
	p.log.Info("sms", logger.String("phone", phone), logger.String("message", message))
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, phone, message string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, phone, message string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string, timeout time.Duration) webhookProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return webhookProvider{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (p webhookProvider) Send(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(map[string]string{
		"channel":   "sms",
		"recipient": phone,
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
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
