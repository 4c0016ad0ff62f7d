package processor

import (
	"context"
	"fmt"
	"log/slog"

	"antifraud/internal/domain"
	"antifraud/internal/repository"
	"antifraud/internal/traces"

	"go.opentelemetry.io/otel/codes"
)

// RiskEngine classifies a transaction and records it in the history.
// It keeps no state between calls.
type RiskEngine struct {
	history  repository.TransactionRepository
	detector *FraudDetector
	logger   *slog.Logger
}

func NewRiskEngine(history repository.TransactionRepository, thresholds Thresholds, logger *slog.Logger) *RiskEngine {
	if logger == nil {
		logger = slog.Default()
	}

	return &RiskEngine{
		history:  history,
		detector: NewFraudDetector(history, thresholds),
		logger:   logger,
	}
}

// Evaluate appends a copy of tx carrying the verdict to the history and
// returns the stored record. tx itself is left untouched. History reads all
// complete before the append; any failure aborts the evaluation and nothing
// is persisted.
func (e *RiskEngine) Evaluate(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "risk.evaluate", traces.SenderAccount(tx.SenderAccountID))
	defer span.End()

	verdict, err := e.detector.AnalyzeTransaction(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule evaluation failed")
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}

	evaluated := tx.Clone()
	evaluated.ApplyVerdict(verdict)
	span.SetAttributes(traces.Rule(verdict.Rule), traces.Suspicious(verdict.Suspicious))

	saved, err := e.history.Append(ctx, evaluated)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	span.SetAttributes(traces.TransactionID(saved.ID))

	e.logger.DebugContext(ctx, "Transaction evaluated",
		slog.String("transaction_id", saved.ID),
		slog.String("sender", saved.SenderAccountID),
		slog.String("rule", verdict.Rule),
		slog.Bool("suspicious", verdict.Suspicious))

	return saved, nil
}
