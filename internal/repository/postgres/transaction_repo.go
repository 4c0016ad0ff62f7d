// Package postgres stores the transaction history in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"antifraud/internal/domain"
	"antifraud/internal/repository"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var _ repository.TransactionRepository = (*TransactionRepository)(nil)

const uniqueViolation = "23505"

const selectColumns = `
	SELECT id, amount, COALESCE(currency, ''), sender_account_id,
	       COALESCE(receiver_account_id, ''), COALESCE(customer_id, ''),
	       COALESCE(channel, ''), COALESCE(device_id, ''), COALESCE(ip_address, ''),
	       COALESCE(geo_location, ''), auth_attempts, event_time, suspicious,
	       risk_reason, COALESCE(rule, ''), status, created_at, updated_at
	FROM transactions`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Append(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	stored := tx.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, amount, currency, sender_account_id, receiver_account_id,
			customer_id, channel, device_id, ip_address, geo_location, auth_attempts,
			event_time, suspicious, risk_reason, rule, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14, NULLIF($15, ''),
			$16, $17, $18)`,
		stored.ID, stored.Amount, stored.Currency, stored.SenderAccountID, stored.ReceiverAccountID,
		stored.CustomerID, stored.Channel, stored.DeviceID, stored.IPAddress, stored.GeoLocation,
		stored.AuthAttempts, stored.Timestamp, stored.Suspicious, stored.RiskReason, stored.Rule,
		string(stored.Status), stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, stored.ID)
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	tx.ID, tx.CreatedAt, tx.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return stored, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) BySenderSince(ctx context.Context, senderID string, since time.Time) ([]*domain.Transaction, error) {
	return r.query(ctx, selectColumns+`
		WHERE sender_account_id = $1 AND event_time > $2
		ORDER BY event_time ASC`, senderID, since)
}

func (r *TransactionRepository) BySenderBetween(ctx context.Context, senderID string, start, end time.Time) ([]*domain.Transaction, error) {
	return r.query(ctx, selectColumns+`
		WHERE sender_account_id = $1 AND event_time BETWEEN $2 AND $3
		ORDER BY event_time ASC`, senderID, start, end)
}

func (r *TransactionRepository) ByReceiverSince(ctx context.Context, receiverID string, since time.Time) ([]*domain.Transaction, error) {
	return r.query(ctx, selectColumns+`
		WHERE receiver_account_id = $1 AND event_time > $2
		ORDER BY event_time ASC`, receiverID, since)
}

func (r *TransactionRepository) ByIPSince(ctx context.Context, ip string, since time.Time) ([]*domain.Transaction, error) {
	return r.query(ctx, selectColumns+`
		WHERE ip_address = $1 AND event_time > $2
		ORDER BY event_time ASC`, ip, since)
}

func (r *TransactionRepository) LatestBySender(ctx context.Context, senderID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		WHERE sender_account_id = $1
		ORDER BY event_time DESC
		LIMIT 1`, senderID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no transactions for sender %s", repository.ErrNotFound, senderID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	var status string
	err := s.Scan(&tx.ID, &tx.Amount, &tx.Currency, &tx.SenderAccountID, &tx.ReceiverAccountID,
		&tx.CustomerID, &tx.Channel, &tx.DeviceID, &tx.IPAddress, &tx.GeoLocation,
		&tx.AuthAttempts, &tx.Timestamp, &tx.Suspicious, &tx.RiskReason, &tx.Rule,
		&status, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tx.Status = domain.TransactionStatus(status)
	return tx, nil
}
