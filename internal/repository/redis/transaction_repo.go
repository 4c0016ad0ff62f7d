// Package redis stores the transaction history in Redis: one JSON value per
// record plus sorted-set indexes scored by event time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"antifraud/internal/domain"
	"antifraud/internal/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ repository.TransactionRepository = (*TransactionRepository)(nil)

// TransactionRepository works against a single node or a cluster. On a
// cluster all keys of one append must hash to the same slot, so use a
// hash-tagged prefix there.
type TransactionRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewTransactionRepository(client redis.UniversalClient, prefix string) *TransactionRepository {
	return &TransactionRepository{client: client, prefix: prefix}
}

func (r *TransactionRepository) txKey(id string) string       { return r.prefix + "tx:" + id }
func (r *TransactionRepository) senderKey(id string) string   { return r.prefix + "sender:" + id }
func (r *TransactionRepository) receiverKey(id string) string { return r.prefix + "receiver:" + id }
func (r *TransactionRepository) ipKey(ip string) string       { return r.prefix + "ip:" + ip }

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
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

	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	key := r.txKey(stored.ID)
	member := redis.Z{Score: score(stored.Timestamp), Member: stored.ID}

	err = r.client.Watch(ctx, func(rtx *redis.Tx) error {
		exists, err := rtx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, stored.ID)
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, r.senderKey(stored.SenderAccountID), member)
			if stored.HasReceiver() {
				pipe.ZAdd(ctx, r.receiverKey(stored.ReceiverAccountID), member)
			}
			if stored.IPAddress != "" {
				pipe.ZAdd(ctx, r.ipKey(stored.IPAddress), member)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	tx.ID, tx.CreatedAt, tx.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return stored, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	value, err := r.client.Get(ctx, r.txKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return decode(value)
}

func (r *TransactionRepository) BySenderSince(ctx context.Context, senderID string, since time.Time) ([]*domain.Transaction, error) {
	return r.window(ctx, r.senderKey(senderID), exclusive(since), "+inf")
}

func (r *TransactionRepository) BySenderBetween(ctx context.Context, senderID string, start, end time.Time) ([]*domain.Transaction, error) {
	return r.window(ctx, r.senderKey(senderID), inclusive(start), inclusive(end))
}

func (r *TransactionRepository) ByReceiverSince(ctx context.Context, receiverID string, since time.Time) ([]*domain.Transaction, error) {
	return r.window(ctx, r.receiverKey(receiverID), exclusive(since), "+inf")
}

func (r *TransactionRepository) ByIPSince(ctx context.Context, ip string, since time.Time) ([]*domain.Transaction, error) {
	return r.window(ctx, r.ipKey(ip), exclusive(since), "+inf")
}

func (r *TransactionRepository) LatestBySender(ctx context.Context, senderID string) (*domain.Transaction, error) {
	ids, err := r.client.ZRevRange(ctx, r.senderKey(senderID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no transactions for sender %s", repository.ErrNotFound, senderID)
	}
	return r.GetByID(ctx, ids[0])
}

func (r *TransactionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *TransactionRepository) window(ctx context.Context, index, lo, hi string) ([]*domain.Transaction, error) {
	ids, err := r.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", index, err)
	}

	result := []*domain.Transaction{}
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.txKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("index %s references missing transaction %s", index, ids[i])
		}
		tx, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

func decode(value []byte) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	if err := json.Unmarshal(value, tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

func exclusive(t time.Time) string {
	return "(" + strconv.FormatInt(t.UnixMicro(), 10)
}

func inclusive(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}
