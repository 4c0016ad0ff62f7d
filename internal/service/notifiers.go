package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"antifraud/internal/retry"
	"antifraud/pkg/crypto"
)

const SignatureHeader = "X-Signature"

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	n.logger.WarnContext(ctx, "Suspicious transaction",
		slog.String("transaction_id", alert.TransactionID),
		slog.String("sender", alert.SenderID),
		slog.String("amount", alert.Amount),
		slog.String("rule", alert.Rule),
		slog.String("reason", alert.Reason),
		slog.String("severity", alert.Severity))
	return nil
}

// WebhookNotifier POSTs alerts as JSON, signed with the configured secret.
// 5xx responses and transport errors are retried.
type WebhookNotifier struct {
	url    string
	client *http.Client
	signer *crypto.Signer
	policy retry.Policy
	logger *slog.Logger
}

func NewWebhookNotifier(url string, signer *crypto.Signer, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		signer: signer,
		policy: retry.Policy{
			Attempts:  3,
			BaseDelay: 200 * time.Millisecond,
			MaxDelay:  2 * time.Second,
		},
		logger: logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	policy := n.policy
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		n.logger.WarnContext(ctx, "Alert webhook failed, retrying",
			slog.String("transaction_id", alert.TransactionID),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	return policy.Run(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if n.signer.Enabled() {
			req.Header.Set(SignatureHeader, n.signer.Sign(body))
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return retry.Permanent(fmt.Errorf("webhook rejected alert with %d", resp.StatusCode))
		}
		return nil
	})
}

// MultiNotifier fans an alert out to several notifiers and reports the
// first failure.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
