package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"antifraud/internal/domain"
	"antifraud/internal/repository"
	"antifraud/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// stubHistory answers queries from fixed snapshots and records what the
// engine asked for.
type stubHistory struct {
	mu sync.Mutex

	sent     []*domain.Transaction
	last     *domain.Transaction
	received map[string][]*domain.Transaction

	queryErr  error
	appendErr error

	queries  []string
	appended []*domain.Transaction
}

var _ repository.TransactionRepository = (*stubHistory)(nil)

func (s *stubHistory) record(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
}

func (s *stubHistory) Append(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := tx.Clone()
	saved.ID = fmt.Sprintf("tx-%d", len(s.appended)+1)
	s.appended = append(s.appended, saved)
	return saved.Clone(), nil
}

func (s *stubHistory) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return nil, repository.ErrNotFound
}

func (s *stubHistory) BySenderSince(ctx context.Context, senderID string, since time.Time) ([]*domain.Transaction, error) {
	s.record("BySenderSince")
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*domain.Transaction
	for _, tx := range s.sent {
		if tx.Timestamp.After(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *stubHistory) BySenderBetween(ctx context.Context, senderID string, start, end time.Time) ([]*domain.Transaction, error) {
	s.record("BySenderBetween")
	return nil, s.queryErr
}

func (s *stubHistory) ByReceiverSince(ctx context.Context, receiverID string, since time.Time) ([]*domain.Transaction, error) {
	s.record("ByReceiverSince")
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.received[receiverID], nil
}

func (s *stubHistory) ByIPSince(ctx context.Context, ip string, since time.Time) ([]*domain.Transaction, error) {
	s.record("ByIPSince")
	return nil, s.queryErr
}

func (s *stubHistory) LatestBySender(ctx context.Context, senderID string) (*domain.Transaction, error) {
	s.record("LatestBySender")
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if s.last == nil {
		return nil, fmt.Errorf("%w: sender %s", repository.ErrNotFound, senderID)
	}
	return s.last, nil
}

func (s *stubHistory) Ping(ctx context.Context) error { return nil }

func at(hour, minute int) time.Time {
	return time.Date(2025, 11, 27, hour, minute, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// baseTx is a low-risk transaction with every context field populated.
func baseTx(sender, receiver string, ts time.Time) *domain.Transaction {
	return domain.NewTransaction(amount("10.00"), sender, receiver, ts).
		WithChannel("APP").
		WithDevice("dev-1").
		WithNetwork("1.1.1.1", "BR").
		WithAuthAttempts(0)
}

func evaluate(t *testing.T, history *stubHistory, tx *domain.Transaction) *domain.Transaction {
	t.Helper()
	engine := NewRiskEngine(history, DefaultThresholds(), nil)
	out, err := engine.Evaluate(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, history.appended, 1, "append must happen exactly once")
	return out
}

func assertVerdict(t *testing.T, out *domain.Transaction, rule, reason string) {
	t.Helper()
	assert.True(t, out.Suspicious, "expected suspicious, got reason %q", out.RiskReason)
	assert.Equal(t, rule, out.Rule)
	assert.Equal(t, reason, out.RiskReason)
}

func assertApproved(t *testing.T, out *domain.Transaction) {
	t.Helper()
	assert.False(t, out.Suspicious, "unexpected match: %q", out.RiskReason)
	assert.Equal(t, domain.RuleApproved, out.Rule)
	assert.Equal(t, domain.ReasonApproved, out.RiskReason)
}

func TestEvaluate_AuthAttemptsShortCircuits(t *testing.T) {
	history := &stubHistory{sent: []*domain.Transaction{
		baseTx("s1", "rX", at(10, 0).Add(-time.Minute)),
		baseTx("s1", "rY", at(10, 0).Add(-2*time.Minute)),
		baseTx("s1", "rZ", at(10, 0).Add(-3*time.Minute)),
	}}
	tx := baseTx("s1", "r1", at(10, 0)).WithAuthAttempts(3)

	out := evaluate(t, history, tx)

	assertVerdict(t, out, domain.RuleAuthAttempts, domain.ReasonAuthAttempts)
	assert.Empty(t, history.queries, "no history queries before the auth rule returns")
	assert.NotEmpty(t, out.ID)
}

func TestEvaluate_AuthAttemptsBelowThreshold(t *testing.T) {
	out := evaluate(t, &stubHistory{}, baseTx("s1", "r1", at(10, 0)).WithAuthAttempts(2))

	assertApproved(t, out)
}

func TestEvaluate_PanicMode(t *testing.T) {
	ts := at(12, 0)
	history := &stubHistory{sent: []*domain.Transaction{
		baseTx("s2", "rX", ts.Add(-1*time.Minute)),
		baseTx("s2", "rY", ts.Add(-2*time.Minute)),
		baseTx("s2", "rZ", ts.Add(-3*time.Minute)),
	}}

	out := evaluate(t, history, baseTx("s2", "r2", ts))

	assertVerdict(t, out, domain.RulePanicMode, domain.ReasonPanicMode)
	assert.Equal(t, []string{"BySenderSince"}, history.queries)
}

func TestEvaluate_PanicModeIgnoresOlderTransactions(t *testing.T) {
	ts := at(12, 0)
	history := &stubHistory{
		sent: []*domain.Transaction{
			baseTx("s2", "r2", ts.Add(-1*time.Minute)),
			baseTx("s2", "r2", ts.Add(-2*time.Minute)),
			baseTx("s2", "r2", ts.Add(-5*time.Minute)), // on the bound, excluded
		},
		received: map[string][]*domain.Transaction{"r2": {baseTx("s2", "r2", ts.Add(-time.Minute))}},
	}

	out := evaluate(t, history, baseTx("s2", "r2", ts))

	assertApproved(t, out)
}

func TestEvaluate_DeviceChange(t *testing.T) {
	ts := at(14, 0)
	last := baseTx("s3", "r-old", ts.Add(-30*time.Minute)).WithDevice("device-old")
	history := &stubHistory{last: last}

	out := evaluate(t, history, baseTx("s3", "r-new", ts).WithDevice("device-new"))

	assertVerdict(t, out, domain.RuleDeviceChange, domain.ReasonDeviceChange)
}

func TestEvaluate_DeviceComparisonIsCaseSensitive(t *testing.T) {
	ts := at(14, 0)
	history := &stubHistory{last: baseTx("s3", "r1", ts.Add(-30*time.Minute)).WithDevice("Device-A")}

	out := evaluate(t, history, baseTx("s3", "r1", ts).WithDevice("device-a"))

	assertVerdict(t, out, domain.RuleDeviceChange, domain.ReasonDeviceChange)
}

func TestEvaluate_ChannelChangeToPhone(t *testing.T) {
	ts := at(15, 0)
	history := &stubHistory{last: baseTx("s4", "r-old", ts.Add(-10*time.Minute)).WithChannel("APP")}

	out := evaluate(t, history, baseTx("s4", "r-new", ts).WithChannel("PHONE"))

	assertVerdict(t, out, domain.RuleChannelChange, "unusual channel change: before APP now PHONE.")
}

func TestEvaluate_AnyChannelChangeMatches(t *testing.T) {
	ts := at(15, 0)
	history := &stubHistory{last: baseTx("s4", "r1", ts.Add(-10*time.Minute)).WithChannel("WEB")}

	out := evaluate(t, history, baseTx("s4", "r1", ts).WithChannel("APP").WithDevice("other-device"))

	// channel is checked before device
	assert.Equal(t, domain.RuleChannelChange, out.Rule)
}

func TestEvaluate_ChannelComparisonIgnoresCase(t *testing.T) {
	ts := at(15, 0)
	history := &stubHistory{
		last:     baseTx("s4", "r1", ts.Add(-10*time.Minute)).WithChannel("app"),
		received: map[string][]*domain.Transaction{"r1": {baseTx("s4", "r1", ts.Add(-10*time.Minute))}},
	}

	out := evaluate(t, history, baseTx("s4", "r1", ts).WithChannel("APP"))

	assertApproved(t, out)
}

func TestEvaluate_MissingContextSkipsDriftChecks(t *testing.T) {
	ts := at(15, 0)
	last := baseTx("s4", "r1", ts.Add(-10*time.Minute))
	last.Channel, last.DeviceID, last.GeoLocation = "", "", ""
	history := &stubHistory{
		last:     last,
		received: map[string][]*domain.Transaction{"r1": {last}},
	}
	tx := baseTx("s4", "r1", ts).WithChannel("PHONE").WithDevice("new").WithNetwork("2.2.2.2", "US")
	tx.Amount = amount("900.00")

	out := evaluate(t, history, tx)

	assertApproved(t, out)
}

func TestEvaluate_GeoMismatchNeedsMaterialAmount(t *testing.T) {
	ts := at(16, 0)
	last := baseTx("s5", "r1", ts.Add(-20*time.Minute)).WithNetwork("1.1.1.1", "br")
	known := map[string][]*domain.Transaction{"r1": {last}}

	material := baseTx("s5", "r1", ts).WithNetwork("1.1.1.1", "PT")
	material.Amount = amount("200.01")
	out := evaluate(t, &stubHistory{last: last, received: known}, material)
	assertVerdict(t, out, domain.RuleGeoMismatch, domain.ReasonGeoMismatch)

	small := baseTx("s5", "r1", ts).WithNetwork("1.1.1.1", "PT")
	small.Amount = amount("200.00")
	out = evaluate(t, &stubHistory{last: last, received: known}, small)
	assertApproved(t, out)

	sameGeo := baseTx("s5", "r1", ts).WithNetwork("1.1.1.1", "BR")
	sameGeo.Amount = amount("500.00")
	out = evaluate(t, &stubHistory{last: last, received: known}, sameGeo)
	assertApproved(t, out)
}

func TestEvaluate_DistinctReceiversInOneHour(t *testing.T) {
	ts := at(16, 0)
	history := &stubHistory{sent: []*domain.Transaction{
		baseTx("s5", "r1", ts.Add(-50*time.Minute)),
		baseTx("s5", "r2", ts.Add(-30*time.Minute)),
	}}

	out := evaluate(t, history, baseTx("s5", "r3", ts))

	assertVerdict(t, out, domain.RuleDistinctReceivers, domain.ReasonDistinctReceivers)
}

func TestEvaluate_DistinctReceiversCountsCurrentOnce(t *testing.T) {
	ts := at(16, 0)
	history := &stubHistory{
		sent: []*domain.Transaction{
			baseTx("s5", "r1", ts.Add(-50*time.Minute)),
			baseTx("s5", "", ts.Add(-40*time.Minute)),
		},
		received: map[string][]*domain.Transaction{"r1": {baseTx("s5", "r1", ts.Add(-50*time.Minute))}},
	}

	// {r1} plus current r1 is one receiver
	out := evaluate(t, history, baseTx("s5", "r1", ts))
	assertApproved(t, out)

	// {r1} plus current r2 is two
	history.appended = nil
	out = evaluate(t, history, baseTx("s5", "r2", ts))
	assertApproved(t, out)
}

func TestEvaluate_HighAmountAtNightIsCritical(t *testing.T) {
	tx := baseTx("s7", "r7", at(23, 30))
	tx.Amount = amount("3000.00")

	out := evaluate(t, &stubHistory{}, tx)

	assertVerdict(t, out, domain.RuleHighAmountNight, domain.ReasonHighAmountNight)
}

func TestEvaluate_HighAmountDuringDay(t *testing.T) {
	tx := baseTx("s7", "r7", at(14, 0))
	tx.Amount = amount("2000.01")

	out := evaluate(t, &stubHistory{}, tx)

	assertVerdict(t, out, domain.RuleHighAmount, domain.ReasonHighAmount)
}

func TestEvaluate_HighAmountBoundaryIsExclusive(t *testing.T) {
	tx := baseTx("s7", "", at(14, 0))
	tx.Amount = amount("2000.00")

	out := evaluate(t, &stubHistory{}, tx)

	assertApproved(t, out)
}

func TestEvaluate_NewReceiverWithElevatedAmount(t *testing.T) {
	tx := baseTx("s6", "newReceiver", at(17, 0))
	tx.Amount = amount("1500.00")
	history := &stubHistory{}

	out := evaluate(t, history, tx)

	assertVerdict(t, out, domain.RuleNewReceiver, domain.ReasonNewReceiver)
	assert.Equal(t, []string{"BySenderSince", "LatestBySender", "BySenderSince", "ByReceiverSince"}, history.queries)
}

func TestEvaluate_KnownReceiverIsApproved(t *testing.T) {
	tx := baseTx("s6", "r6", at(17, 0))
	tx.Amount = amount("1500.00")
	history := &stubHistory{received: map[string][]*domain.Transaction{
		"r6": {baseTx("other", "r6", at(9, 0))},
	}}

	out := evaluate(t, history, tx)

	assertApproved(t, out)
}

func TestEvaluate_NewReceiverBoundaryIsExclusive(t *testing.T) {
	tx := baseTx("s6", "newReceiver", at(17, 0))
	tx.Amount = amount("1000.00")

	out := evaluate(t, &stubHistory{}, tx)

	assertApproved(t, out)
}

func TestEvaluate_NoReceiverSkipsNewReceiverRule(t *testing.T) {
	tx := baseTx("s6", "", at(17, 0))
	tx.Amount = amount("1500.00")
	history := &stubHistory{}

	out := evaluate(t, history, tx)

	assertApproved(t, out)
	assert.NotContains(t, history.queries, "ByReceiverSince")
}

func TestEvaluate_NormalTransactionApproved(t *testing.T) {
	tx := baseTx("s8", "r8", at(11, 0))
	tx.Amount = amount("50.00")

	out := evaluate(t, &stubHistory{}, tx)

	assertApproved(t, out)
	assert.Equal(t, domain.StatusPending, out.Status)
}

func TestEvaluate_EarlierRuleWins(t *testing.T) {
	tx := baseTx("s9", "r9", at(23, 0)).WithAuthAttempts(5)
	tx.Amount = amount("3000.00")

	out := evaluate(t, &stubHistory{}, tx)

	assertVerdict(t, out, domain.RuleAuthAttempts, domain.ReasonAuthAttempts)
}

func TestEvaluate_SameSnapshotSameVerdict(t *testing.T) {
	ts := at(16, 0)
	snapshot := func() *stubHistory {
		return &stubHistory{
			last: baseTx("s5", "r1", ts.Add(-time.Hour)).WithDevice("dev-0"),
			sent: []*domain.Transaction{baseTx("s5", "r1", ts.Add(-50*time.Minute))},
		}
	}

	first := evaluate(t, snapshot(), baseTx("s5", "r2", ts))
	second := evaluate(t, snapshot(), baseTx("s5", "r2", ts))

	assert.Equal(t, first.Rule, second.Rule)
	assert.Equal(t, first.RiskReason, second.RiskReason)
	assert.Equal(t, first.Suspicious, second.Suspicious)
}

func TestEvaluate_HistoryFailureAbortsWithoutAppend(t *testing.T) {
	storeDown := errors.New("connection refused")
	history := &stubHistory{queryErr: storeDown}
	engine := NewRiskEngine(history, DefaultThresholds(), nil)

	out, err := engine.Evaluate(context.Background(), baseTx("s1", "r1", at(10, 0)))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, storeDown)
	assert.Empty(t, history.appended)
}

func TestEvaluate_AppendFailureIsReported(t *testing.T) {
	storeDown := errors.New("disk full")
	engine := NewRiskEngine(&stubHistory{appendErr: storeDown}, DefaultThresholds(), nil)

	tx := baseTx("s1", "r1", at(10, 0)).WithAuthAttempts(3)
	_, err := engine.Evaluate(context.Background(), tx)

	assert.ErrorIs(t, err, storeDown)
	assert.False(t, tx.Suspicious)
	assert.Empty(t, tx.Rule)
	assert.Empty(t, tx.RiskReason)
}

func TestEvaluate_LeavesInputUntouched(t *testing.T) {
	repo := memory.NewTransactionRepository()
	engine := NewRiskEngine(repo, DefaultThresholds(), nil)
	tx := baseTx("s1", "r1", at(10, 0)).WithAuthAttempts(3)

	out, err := engine.Evaluate(context.Background(), tx)
	require.NoError(t, err)

	assertVerdict(t, out, domain.RuleAuthAttempts, domain.ReasonAuthAttempts)
	assert.NotSame(t, tx, out)
	assert.Empty(t, tx.ID)
	assert.Empty(t, tx.Rule)
	assert.False(t, tx.Suspicious)
}

func TestFraudDetector_PatternOrder(t *testing.T) {
	fd := NewFraudDetector(&stubHistory{}, DefaultThresholds())

	var names []string
	for _, p := range fd.Patterns() {
		assert.NotEmpty(t, p.Description, p.Name)
		names = append(names, p.Name)
	}

	assert.Equal(t, []string{
		domain.RuleAuthAttempts,
		domain.RulePanicMode,
		"behavior_drift",
		domain.RuleDistinctReceivers,
		domain.RuleHighAmount,
		domain.RuleNewReceiver,
	}, names)
}

func TestEvaluate_SpanRecordsMatchingPattern(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	evaluate(t, &stubHistory{}, baseTx("s1", "r1", at(10, 0)).WithAuthAttempts(3))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, domain.RuleAuthAttempts, attrs["risk.pattern"].AsString())
	assert.Equal(t, "Too many failed authentication attempts", attrs["risk.pattern.description"].AsString())
	assert.Equal(t, domain.RuleAuthAttempts, attrs["risk.rule"].AsString())
	assert.True(t, attrs["risk.suspicious"].AsBool())
}

func TestThresholds_NightWindow(t *testing.T) {
	th := DefaultThresholds()
	for hour, night := range map[int]bool{0: true, 5: true, 6: true, 7: false, 12: false, 21: false, 22: true, 23: true} {
		assert.Equal(t, night, th.IsNight(at(hour, 0)), "hour %d", hour)
	}
}

func TestThresholds_NightUsesTimestampLocation(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	ts := time.Date(2025, 11, 27, 23, 0, 0, 0, saoPaulo) // 02:00 UTC

	assert.True(t, DefaultThresholds().IsNight(ts))
	assert.False(t, DefaultThresholds().IsNight(time.Date(2025, 11, 27, 12, 0, 0, 0, saoPaulo)))
}

func TestEvaluate_PanicModeAgainstMemoryStore(t *testing.T) {
	repo := memory.NewTransactionRepository()
	engine := NewRiskEngine(repo, DefaultThresholds(), nil)
	ctx := context.Background()
	ts := at(12, 0)

	for i := 0; i < 3; i++ {
		out, err := engine.Evaluate(ctx, baseTx("s1", "r1", ts.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		assertApproved(t, out)
	}

	out, err := engine.Evaluate(ctx, baseTx("s1", "r1", ts.Add(3*time.Minute)))
	require.NoError(t, err)
	assertVerdict(t, out, domain.RulePanicMode, domain.ReasonPanicMode)
	assert.Equal(t, 4, repo.Len())
}
