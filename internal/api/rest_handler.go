package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"antifraud/internal/domain"
	"antifraud/internal/health"
	"antifraud/internal/logging"
	"antifraud/internal/processor"
	"antifraud/internal/repository"
	"antifraud/pkg/crypto"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SignatureHeader = "X-Signature"
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 1 << 20
	localLayout  = "2006-01-02T15:04:05"
)

type APIHandler struct {
	processor      *processor.TransactionProcessor
	health         *health.Registry
	signer         *crypto.Signer
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	processor *processor.TransactionProcessor,
	healthRegistry *health.Registry,
	signer *crypto.Signer,
	logger *slog.Logger,
	requestTimeout time.Duration,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry(0)
	}

	return &APIHandler{
		processor:      processor,
		health:         healthRegistry,
		signer:         signer,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

// AnalyzeRequest is the wire form of a transaction to evaluate. Amount
// accepts a JSON string or number.
type AnalyzeRequest struct {
	Amount            *decimal.Decimal `json:"amount"`
	Currency          string           `json:"currency,omitempty"`
	SenderAccountID   string           `json:"sender_account_id"`
	ReceiverAccountID string           `json:"receiver_account_id,omitempty"`
	CustomerID        string           `json:"customer_id,omitempty"`
	Channel           string           `json:"channel,omitempty"`
	DeviceID          string           `json:"device_id,omitempty"`
	IPAddress         string           `json:"ip_address,omitempty"`
	GeoLocation       string           `json:"geo_location,omitempty"`
	AuthAttempts      int              `json:"auth_attempts"`
	Timestamp         EventTime        `json:"timestamp"`
}

// EventTime parses RFC 3339, or a zone-less local date-time.
type EventTime struct {
	time.Time
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(localLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("timestamp %q is not RFC 3339: %w", s, err)
	}
	t.Time = parsed
	return nil
}

func (r AnalyzeRequest) toTransaction() (*domain.Transaction, bool) {
	amount, amountSet := decimal.Zero, r.Amount != nil
	if amountSet {
		amount = *r.Amount
	}

	tx := domain.NewTransaction(amount, r.SenderAccountID, r.ReceiverAccountID, r.Timestamp.Time).
		WithCurrency(r.Currency).
		WithChannel(r.Channel).
		WithDevice(r.DeviceID).
		WithNetwork(r.IPAddress, r.GeoLocation).
		WithAuthAttempts(r.AuthAttempts)
	tx.CustomerID = r.CustomerID
	return tx, amountSet
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Checks    []health.Status `json:"checks"`
}

func (h *APIHandler) AnalyzeTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()
	logger := logging.L(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.sendError(ctx, w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if h.signer.Enabled() {
		if err := h.signer.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
			h.sendError(ctx, w, "Invalid signature", http.StatusUnauthorized, "INVALID_SIGNATURE", "")
			return
		}
	}

	var req AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.sendError(ctx, w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	tx, amountSet := req.toTransaction()
	saved, err := h.processor.Analyze(ctx, tx, amountSet)
	if err != nil {
		if errors.Is(err, processor.ErrValidation) {
			h.sendError(ctx, w, "Transaction is invalid", http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		logger.Error("Transaction analysis failed",
			slog.String("sender", tx.SenderAccountID),
			slog.String("error", err.Error()))
		h.sendError(ctx, w, "Transaction could not be analyzed", http.StatusInternalServerError, "PROCESSING_ERROR", "")
		return
	}

	h.sendJSON(ctx, w, saved, http.StatusOK)
}

func (h *APIHandler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := r.URL.Query().Get("id")
	if transactionID == "" {
		h.sendError(r.Context(), w, "Transaction ID is required", http.StatusBadRequest, "MISSING_ID", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	tx, err := h.processor.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendError(ctx, w, "Transaction not found", http.StatusNotFound, "NOT_FOUND", "")
		} else {
			logging.L(ctx).Error("Transaction lookup failed", slog.String("error", err.Error()))
			h.sendError(ctx, w, "Failed to get transaction", http.StatusInternalServerError, "SERVER_ERROR", "")
		}
		return
	}

	h.sendJSON(ctx, w, tx, http.StatusOK)
}

// LivenessHandler answers with plain text and touches no dependency.
func (h *APIHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "antifraud is running")
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	healthy, checks := h.health.CheckAll(r.Context())

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	h.sendJSON(r.Context(), w, response, status)
}

// WithRequestID assigns each request an id, taken from X-Request-ID when
// the caller supplies one, and stores it with the logger in the context.
func (h *APIHandler) WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := logging.WithLogger(r.Context(), h.logger)
		ctx = logging.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) sendJSON(ctx context.Context, w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.L(ctx).Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(ctx context.Context, w http.ResponseWriter, message string, statusCode int, code, details string) {
	errorResponse := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}

	h.sendJSON(ctx, w, errorResponse, statusCode)

	logging.L(ctx).Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/transactions/analyze", h.AnalyzeTransactionHandler)
	mux.HandleFunc("GET /api/transactions", h.GetTransactionHandler)
	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
	mux.HandleFunc("GET /test", h.LivenessHandler)
}

// Routes returns the full API wrapped in the request id middleware.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h.WithRequestID(mux)
}
