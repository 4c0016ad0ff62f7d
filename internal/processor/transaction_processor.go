package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"antifraud/internal/domain"
	"antifraud/internal/enrich"
	"antifraud/internal/repository"
	"antifraud/internal/service"
	"antifraud/internal/syncutil"
	"antifraud/pkg/metrics"
	"antifraud/pkg/validator"
)

// ErrValidation wraps every input problem reported by the validator.
var ErrValidation = errors.New("validation failed")

// TransactionProcessor is the entry point around the risk engine: it
// validates input, enriches context, evaluates, and raises alerts.
type TransactionProcessor struct {
	txRepo     repository.TransactionRepository
	engine     *RiskEngine
	validator  *validator.TransactionValidator
	geo        *enrich.GeoEnricher
	alerts     *service.AlertService
	metrics    *metrics.MetricsCollector
	senderLock *syncutil.SenderLocks
	logger     *slog.Logger
}

type Option func(*TransactionProcessor)

func WithGeoEnricher(geo *enrich.GeoEnricher) Option {
	return func(p *TransactionProcessor) { p.geo = geo }
}

func WithAlerts(alerts *service.AlertService) Option {
	return func(p *TransactionProcessor) { p.alerts = alerts }
}

func WithMetrics(m *metrics.MetricsCollector) Option {
	return func(p *TransactionProcessor) { p.metrics = m }
}

// WithSenderSerialization makes evaluations for the same sender run one at
// a time, so each one sees the records appended by the previous. A request
// whose context ends while waiting fails without being evaluated.
func WithSenderSerialization() Option {
	return func(p *TransactionProcessor) { p.senderLock = syncutil.NewSenderLocks(syncutil.DefaultShards) }
}

func NewTransactionProcessor(
	txRepo repository.TransactionRepository,
	thresholds Thresholds,
	logger *slog.Logger,
	opts ...Option,
) *TransactionProcessor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &TransactionProcessor{
		txRepo:    txRepo,
		engine:    NewRiskEngine(txRepo, thresholds, logger),
		validator: validator.NewTransactionValidator(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	patterns := p.engine.detector.Patterns()
	names := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		names = append(names, pattern.Name)
	}
	logger.Debug("Risk engine ready",
		slog.Any("patterns", names),
		slog.Bool("serialize_by_sender", p.senderLock != nil))

	return p
}

// Analyze validates tx, evaluates it and returns the persisted record.
// amountSet tells whether the caller supplied an amount at all. The
// timestamp is truncated to microseconds, the finest precision every
// history store keeps, so window bounds agree across backends.
func (p *TransactionProcessor) Analyze(ctx context.Context, tx *domain.Transaction, amountSet bool) (*domain.Transaction, error) {
	if err := p.validator.ValidateTransaction(tx, amountSet); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	tx.Timestamp = tx.Timestamp.Truncate(time.Microsecond)
	if tx.Status == "" {
		tx.Status = domain.StatusPending
	}
	p.geo.Enrich(tx)

	if p.senderLock != nil {
		release, err := p.senderLock.Lock(ctx, tx.SenderAccountID)
		if err != nil {
			p.logger.WarnContext(ctx, "Gave up waiting for sender lock",
				slog.String("sender", tx.SenderAccountID),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("sender lock: %w", err)
		}
		defer release()
	}

	startTime := time.Now()
	saved, err := p.engine.Evaluate(ctx, tx)
	duration := time.Since(startTime)

	if p.metrics != nil {
		rule, suspicious := "", false
		if saved != nil {
			rule, suspicious = saved.Rule, saved.Suspicious
		}
		p.metrics.RecordEvaluation(duration, rule, suspicious, err)
	}

	if err != nil {
		p.logger.ErrorContext(ctx, "Risk evaluation failed",
			slog.String("sender", tx.SenderAccountID),
			slog.String("error", err.Error()))
		return nil, err
	}

	if saved.Suspicious && p.alerts != nil {
		if err := p.alerts.SendFraudAlert(ctx, saved); err != nil {
			p.logger.WarnContext(ctx, "Fraud alert not queued",
				slog.String("transaction_id", saved.ID),
				slog.String("error", err.Error()))
		}
	}

	p.logger.InfoContext(ctx, "Transaction analyzed",
		slog.String("transaction_id", saved.ID),
		slog.String("rule", saved.Rule),
		slog.Bool("suspicious", saved.Suspicious),
		slog.Duration("duration", duration))

	return saved, nil
}

func (p *TransactionProcessor) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return p.txRepo.GetByID(ctx, transactionID)
}

func (p *TransactionProcessor) Ping(ctx context.Context) error {
	return p.txRepo.Ping(ctx)
}
