// Package webhook delivers call_webhook actions to external endpoints with
// bounded exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rafaeljc/leadflow/internal/config"
	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
)

// ErrNotWebhook is returned when Dispatch receives an action of another type.
var ErrNotWebhook = errors.New("action is not call_webhook")

// Payload is the JSON body posted to the endpoint.
type Payload struct {
	FlowID       string           `json:"flowId"`
	SessionState ruleengine.State `json:"sessionState"`
	SentAt       time.Time        `json:"sentAt"`
}

// Dispatcher posts session state to the URL configured on a webhook action.
type Dispatcher struct {
	logger *slog.Logger
	client *http.Client
	cfg    config.WebhookConfig
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. A nil client gets one bounded by
// cfg.RequestTimeout.
func NewDispatcher(log *slog.Logger, cfg config.WebhookConfig, client *http.Client) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Dispatcher{
		logger: log,
		client: client,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch delivers one call_webhook action. Network errors, 429 and 5xx
// responses are retried; other 4xx responses fail immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, flowID string, action ruleengine.Action, state ruleengine.State) error {
	cfg, ok := action.Config.(ruleengine.WebhookConfig)
	if action.Type != ruleengine.ActionCallWebhook || !ok {
		return ErrNotWebhook
	}

	body, err := json.Marshal(Payload{FlowID: flowID, SessionState: state, SentAt: d.now()})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	log := logger.FromContext(ctx)
	if log == slog.Default() {
		log = d.logger
	}
	log = log.With(slog.String("flow_id", flowID), slog.String("url", cfg.WebhookURL))

	start := time.Now()
	attempt := 0
	op := func() error {
		attempt++
		return d.send(ctx, method, cfg, body)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("webhook delivery failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(d.policy(), ctx), notify)
	observability.WebhookDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("webhook delivery to %s failed after %d attempt(s): %w", cfg.WebhookURL, attempt, err)
	}

	observability.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	log.Debug("webhook delivered", slog.Int("attempts", attempt))
	return nil
}

func (d *Dispatcher) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, d.cfg.MaxRetries)
}

func (d *Dispatcher) send(ctx context.Context, method string, cfg ruleengine.WebhookConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "leadflow-webhook/1")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("endpoint rejected webhook with status %d", resp.StatusCode))
	}
}
