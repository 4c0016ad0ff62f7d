package validator

import (
	"errors"
	"fmt"

	"antifraud/internal/domain"
)

var (
	ErrMissingAmount    = errors.New("amount is required")
	ErrInvalidAmount    = errors.New("amount must not be negative")
	ErrMissingSender    = errors.New("sender_account_id is required")
	ErrMissingTimestamp = errors.New("timestamp is required")
	ErrInvalidAttempts  = errors.New("auth_attempts must not be negative")
)

// TransactionValidator rejects payloads the risk engine cannot evaluate.
// Everything else, self-transfers and free-form currency labels included,
// goes on to evaluation and into the history.
type TransactionValidator struct{}

func NewTransactionValidator() *TransactionValidator {
	return &TransactionValidator{}
}

// ValidateTransaction reports every problem found; the result matches each
// sentinel through errors.Is.
func (v *TransactionValidator) ValidateTransaction(tx *domain.Transaction, amountSet bool) error {
	var errs []error

	if !amountSet {
		errs = append(errs, ErrMissingAmount)
	} else if tx.Amount.IsNegative() {
		errs = append(errs, ErrInvalidAmount)
	}

	if tx.SenderAccountID == "" {
		errs = append(errs, ErrMissingSender)
	}

	if tx.Timestamp.IsZero() {
		errs = append(errs, ErrMissingTimestamp)
	}

	if tx.AuthAttempts < 0 {
		errs = append(errs, ErrInvalidAttempts)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %w", errors.Join(errs...))
	}

	return nil
}
