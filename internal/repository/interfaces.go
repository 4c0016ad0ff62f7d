package repository

import (
	"context"
	"errors"
	"time"

	"antifraud/internal/domain"
)

// TransactionRepository is the history of evaluated transactions.
// Window queries compare against the event timestamp, never CreatedAt.
type TransactionRepository interface {
	Append(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// BySenderSince returns transactions sent by senderID strictly after since.
	BySenderSince(ctx context.Context, senderID string, since time.Time) ([]*domain.Transaction, error)
	// BySenderBetween returns transactions sent by senderID within [start, end].
	BySenderBetween(ctx context.Context, senderID string, start, end time.Time) ([]*domain.Transaction, error)
	ByReceiverSince(ctx context.Context, receiverID string, since time.Time) ([]*domain.Transaction, error)
	ByIPSince(ctx context.Context, ip string, since time.Time) ([]*domain.Transaction, error)
	// LatestBySender returns ErrNotFound when the sender has no history.
	LatestBySender(ctx context.Context, senderID string) (*domain.Transaction, error)
	Ping(ctx context.Context) error
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)
