package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

const webhookAttempts = 3

// Instruction is the body POSTed to the webhook.
type Instruction struct {
	Action   experiment.CompletionAction `json:"action"`
	Subject  experiment.SubjectRef       `json:"subject"`
	Revision experiment.RevisionRef      `json:"revision,omitempty"`
}

// Webhook POSTs each instruction as JSON. Server errors are retried;
// any other non-2xx response fails the instruction.
type Webhook struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

type WebhookOption func(*Webhook)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.client = c
	}
}

func WithWebhookLogger(logger zerolog.Logger) WebhookOption {
	return func(w *Webhook) {
		w.logger = logger
	}
}

func NewWebhook(rawURL string, opts ...WebhookOption) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: webhook url %q", experiment.ErrInvalidInput, rawURL)
	}

	w := &Webhook{
		url:    u.String(),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Webhook) Publish(ctx context.Context, subject experiment.SubjectRef, revision experiment.RevisionRef) error {
	return w.send(ctx, Instruction{Action: experiment.ActionPublish, Subject: subject, Revision: revision})
}

func (w *Webhook) Revert(ctx context.Context, subject experiment.SubjectRef) error {
	return w.send(ctx, Instruction{Action: experiment.ActionRevert, Subject: subject})
}

func (w *Webhook) send(ctx context.Context, in Instruction) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode instruction: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to call webhook: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode >= 500:
			w.logger.Warn().Int("status", resp.StatusCode).Str("action", string(in.Action)).Msg("webhook failed, retrying")
			return struct{}{}, fmt.Errorf("webhook returned %d", resp.StatusCode)
		default:
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(webhookAttempts))
	if err != nil {
		return err
	}

	w.logger.Info().Str("action", string(in.Action)).Str("subject", string(in.Subject)).Msg("webhook delivered")
	return nil
}
