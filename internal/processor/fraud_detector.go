package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"antifraud/internal/domain"
	"antifraud/internal/repository"
	"antifraud/internal/traces"

	"go.opentelemetry.io/otel/trace"
)

// FraudPattern is one heuristic in the detector's fixed priority order.
// Detect returns nil when the pattern does not match.
type FraudPattern struct {
	Name        string
	Description string
	Detect      func(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error)
}

type FraudDetector struct {
	history    repository.TransactionRepository
	thresholds Thresholds
	patterns   []FraudPattern
}

func NewFraudDetector(history repository.TransactionRepository, thresholds Thresholds) *FraudDetector {
	fd := &FraudDetector{
		history:    history,
		thresholds: thresholds,
	}
	fd.patterns = []FraudPattern{
		{
			Name:        domain.RuleAuthAttempts,
			Description: "Too many failed authentication attempts",
			Detect:      fd.detectAuthAttempts,
		},
		{
			Name:        domain.RulePanicMode,
			Description: "Burst of transactions from the sender in a short window",
			Detect:      fd.detectPanicMode,
		},
		{
			Name:        "behavior_drift",
			Description: "Channel, device or location differs from the sender's last transaction",
			Detect:      fd.detectBehaviorDrift,
		},
		{
			Name:        domain.RuleDistinctReceivers,
			Description: "Sender paid many distinct receivers within the receiver window",
			Detect:      fd.detectDistinctReceivers,
		},
		{
			Name:        domain.RuleHighAmount,
			Description: "Amount above the high-value limit, critical at night",
			Detect:      fd.detectHighAmount,
		},
		{
			Name:        domain.RuleNewReceiver,
			Description: "Elevated amount sent to a receiver with no incoming history",
			Detect:      fd.detectNewReceiver,
		},
	}
	return fd
}

// Patterns returns the patterns in evaluation order.
func (fd *FraudDetector) Patterns() []FraudPattern {
	return append([]FraudPattern(nil), fd.patterns...)
}

// AnalyzeTransaction runs the patterns in order and returns the first match,
// or the approval verdict when none match. The matching pattern is recorded
// on the span carried by ctx.
func (fd *FraudDetector) AnalyzeTransaction(ctx context.Context, tx *domain.Transaction) (domain.Verdict, error) {
	for _, pattern := range fd.patterns {
		verdict, err := pattern.Detect(ctx, tx)
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("%s: %w", pattern.Name, err)
		}
		if verdict != nil {
			trace.SpanFromContext(ctx).SetAttributes(
				traces.Pattern(pattern.Name),
				traces.PatternDescription(pattern.Description))
			return *verdict, nil
		}
	}
	return domain.Approved(), nil
}

func (fd *FraudDetector) detectAuthAttempts(_ context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	if tx.AuthAttempts >= fd.thresholds.AuthAttempts {
		return domain.Suspicious(domain.RuleAuthAttempts, domain.ReasonAuthAttempts), nil
	}
	return nil, nil
}

func (fd *FraudDetector) detectPanicMode(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	recent, err := fd.history.BySenderSince(ctx, tx.SenderAccountID, tx.Timestamp.Add(-fd.thresholds.PanicWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent transactions: %w", err)
	}
	if len(recent) >= fd.thresholds.PanicCount {
		return domain.Suspicious(domain.RulePanicMode, domain.ReasonPanicMode), nil
	}
	return nil, nil
}

func (fd *FraudDetector) detectBehaviorDrift(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	last, err := fd.history.LatestBySender(ctx, tx.SenderAccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last transaction: %w", err)
	}

	// Any channel change matches, a switch to PHONE included.
	if last.Channel != "" && tx.Channel != "" && !strings.EqualFold(last.Channel, tx.Channel) {
		reason := fmt.Sprintf("unusual channel change: before %s now %s.", last.Channel, tx.Channel)
		return domain.Suspicious(domain.RuleChannelChange, reason), nil
	}

	if last.DeviceID != "" && tx.DeviceID != "" && last.DeviceID != tx.DeviceID {
		return domain.Suspicious(domain.RuleDeviceChange, domain.ReasonDeviceChange), nil
	}

	if last.GeoLocation != "" && tx.GeoLocation != "" && !strings.EqualFold(last.GeoLocation, tx.GeoLocation) &&
		tx.Amount.GreaterThan(fd.thresholds.GeoMismatchAmount) {
		return domain.Suspicious(domain.RuleGeoMismatch, domain.ReasonGeoMismatch), nil
	}

	return nil, nil
}

func (fd *FraudDetector) detectDistinctReceivers(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	lastHour, err := fd.history.BySenderSince(ctx, tx.SenderAccountID, tx.Timestamp.Add(-fd.thresholds.ReceiverWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver window: %w", err)
	}

	receivers := make(map[string]struct{}, len(lastHour)+1)
	for _, prior := range lastHour {
		if prior.HasReceiver() {
			receivers[prior.ReceiverAccountID] = struct{}{}
		}
	}
	if tx.HasReceiver() {
		receivers[tx.ReceiverAccountID] = struct{}{}
	}

	if len(receivers) >= fd.thresholds.DistinctReceivers {
		return domain.Suspicious(domain.RuleDistinctReceivers, domain.ReasonDistinctReceivers), nil
	}
	return nil, nil
}

func (fd *FraudDetector) detectHighAmount(_ context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	if !tx.Amount.GreaterThan(fd.thresholds.HighValue) {
		return nil, nil
	}
	if fd.thresholds.IsNight(tx.Timestamp) {
		return domain.Suspicious(domain.RuleHighAmountNight, domain.ReasonHighAmountNight), nil
	}
	return domain.Suspicious(domain.RuleHighAmount, domain.ReasonHighAmount), nil
}

func (fd *FraudDetector) detectNewReceiver(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	if !tx.HasReceiver() {
		return nil, nil
	}

	received, err := fd.history.ByReceiverSince(ctx, tx.ReceiverAccountID, tx.Timestamp.Add(-fd.thresholds.NewReceiverLookback))
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver history: %w", err)
	}

	if len(received) == 0 && tx.Amount.GreaterThan(fd.thresholds.NewReceiverAmount) {
		return domain.Suspicious(domain.RuleNewReceiver, domain.ReasonNewReceiver), nil
	}
	return nil, nil
}
