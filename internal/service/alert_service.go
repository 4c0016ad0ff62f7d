package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"antifraud/internal/domain"
	"antifraud/pkg/metrics"
)

// Alert describes a transaction the engine marked as suspicious.
type Alert struct {
	TransactionID string    `json:"transaction_id"`
	SenderID      string    `json:"sender_account_id"`
	ReceiverID    string    `json:"receiver_account_id,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	Rule          string    `json:"rule"`
	Reason        string    `json:"reason"`
	Severity      string    `json:"severity"`
	OccurredAt    time.Time `json:"occurred_at"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Notifier delivers an alert to one destination.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

type AlertService struct {
	notifier     Notifier
	messageQueue chan Alert
	workers      int
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	sendTimeout  time.Duration
	metrics      *metrics.MetricsCollector
	logger       *slog.Logger
}

func NewAlertService(
	notifier Notifier,
	workers int,
	metricsCollector *metrics.MetricsCollector,
	logger *slog.Logger,
) *AlertService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	service := &AlertService{
		notifier:     notifier,
		messageQueue: make(chan Alert, 1000),
		workers:      workers,
		shutdownChan: make(chan struct{}),
		sendTimeout:  10 * time.Second,
		metrics:      metricsCollector,
		logger:       logger,
	}

	service.startWorkers()

	return service
}

// NewAlert builds the alert for an evaluated, suspicious transaction.
func NewAlert(tx *domain.Transaction) Alert {
	severity := SeverityWarning
	switch tx.Rule {
	case domain.RuleAuthAttempts, domain.RulePanicMode, domain.RuleHighAmountNight:
		severity = SeverityCritical
	}

	return Alert{
		TransactionID: tx.ID,
		SenderID:      tx.SenderAccountID,
		ReceiverID:    tx.ReceiverAccountID,
		Amount:        tx.Amount.StringFixed(2),
		Currency:      tx.Currency,
		Rule:          tx.Rule,
		Reason:        tx.RiskReason,
		Severity:      severity,
		OccurredAt:    tx.Timestamp,
		CreatedAt:     time.Now(),
	}
}

// SendFraudAlert queues an alert for tx. It waits for queue space only as
// long as ctx allows.
func (s *AlertService) SendFraudAlert(ctx context.Context, tx *domain.Transaction) error {
	alert := NewAlert(tx)

	select {
	case s.messageQueue <- alert:
		if s.metrics != nil {
			s.metrics.AlertQueued()
		}
		s.logger.Warn("Fraud alert queued",
			slog.String("transaction_id", tx.ID),
			slog.String("rule", tx.Rule),
			slog.String("severity", alert.Severity))
		return nil
	case <-ctx.Done():
		if s.metrics != nil {
			s.metrics.AlertDropped()
		}
		return ctx.Err()
	}
}

func (s *AlertService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *AlertService) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case alert := <-s.messageQueue:
			s.processAlert(alert, id)
		case <-s.shutdownChan:
			s.drain(id)
			return
		}
	}
}

// drain delivers whatever is still queued once shutdown starts.
func (s *AlertService) drain(workerID int) {
	for {
		select {
		case alert := <-s.messageQueue:
			s.processAlert(alert, workerID)
		default:
			return
		}
	}
}

func (s *AlertService) processAlert(alert Alert, workerID int) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	err := s.notifier.Notify(ctx, alert)
	duration := time.Since(startTime)

	if err != nil {
		if s.metrics != nil {
			s.metrics.AlertDeliveryError()
		}
		s.logger.Error("Failed to deliver fraud alert",
			slog.String("transaction_id", alert.TransactionID),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
		return
	}

	s.logger.Debug("Fraud alert delivered",
		slog.String("transaction_id", alert.TransactionID),
		slog.Int("worker_id", workerID),
		slog.Duration("duration", duration))
}

func (s *AlertService) Shutdown(ctx context.Context) error {
	close(s.shutdownChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Alert service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
