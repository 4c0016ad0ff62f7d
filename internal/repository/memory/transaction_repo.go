package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"antifraud/internal/domain"
	"antifraud/internal/repository"

	"github.com/google/uuid"
)

type TransactionRepository struct {
	mu            sync.RWMutex
	transactions  map[string]*domain.Transaction
	senderIndex   map[string][]string
	receiverIndex map[string][]string
	ipIndex       map[string][]string
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		transactions:  make(map[string]*domain.Transaction),
		senderIndex:   make(map[string][]string),
		receiverIndex: make(map[string][]string),
		ipIndex:       make(map[string][]string),
	}
}

func (r *TransactionRepository) Append(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if _, exists := r.transactions[tx.ID]; exists {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, tx.ID)
	}

	now := time.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	stored := tx.Clone()
	r.transactions[stored.ID] = stored

	if stored.SenderAccountID != "" {
		r.senderIndex[stored.SenderAccountID] = append(r.senderIndex[stored.SenderAccountID], stored.ID)
	}
	if stored.ReceiverAccountID != "" {
		r.receiverIndex[stored.ReceiverAccountID] = append(r.receiverIndex[stored.ReceiverAccountID], stored.ID)
	}
	if stored.IPAddress != "" {
		r.ipIndex[stored.IPAddress] = append(r.ipIndex[stored.IPAddress], stored.ID)
	}

	return stored.Clone(), nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, exists := r.transactions[id]
	if !exists {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	return tx.Clone(), nil
}

func (r *TransactionRepository) BySenderSince(ctx context.Context, senderID string, since time.Time) ([]*domain.Transaction, error) {
	return r.filter(r.senderIndex, senderID, func(tx *domain.Transaction) bool {
		return tx.Timestamp.After(since)
	}), nil
}

func (r *TransactionRepository) BySenderBetween(ctx context.Context, senderID string, start, end time.Time) ([]*domain.Transaction, error) {
	return r.filter(r.senderIndex, senderID, func(tx *domain.Transaction) bool {
		return !tx.Timestamp.Before(start) && !tx.Timestamp.After(end)
	}), nil
}

func (r *TransactionRepository) ByReceiverSince(ctx context.Context, receiverID string, since time.Time) ([]*domain.Transaction, error) {
	return r.filter(r.receiverIndex, receiverID, func(tx *domain.Transaction) bool {
		return tx.Timestamp.After(since)
	}), nil
}

func (r *TransactionRepository) ByIPSince(ctx context.Context, ip string, since time.Time) ([]*domain.Transaction, error) {
	return r.filter(r.ipIndex, ip, func(tx *domain.Transaction) bool {
		return tx.Timestamp.After(since)
	}), nil
}

func (r *TransactionRepository) LatestBySender(ctx context.Context, senderID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Transaction
	for _, id := range r.senderIndex[senderID] {
		tx := r.transactions[id]
		if latest == nil || tx.Timestamp.After(latest.Timestamp) {
			latest = tx
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no transactions for sender %s", repository.ErrNotFound, senderID)
	}
	return latest.Clone(), nil
}

func (r *TransactionRepository) Ping(ctx context.Context) error {
	return nil
}

// Len reports how many transactions are stored.
func (r *TransactionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transactions)
}

func (r *TransactionRepository) filter(index map[string][]string, key string, keep func(*domain.Transaction) bool) []*domain.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*domain.Transaction{}
	for _, id := range index[key] {
		if tx := r.transactions[id]; keep(tx) {
			result = append(result, tx.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result
}
