// Package syncutil holds small locking helpers.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const DefaultShards = 256

// SenderLocks serializes work per sender account over a fixed pool of
// slots, so memory stays bounded however many senders are seen. Senders
// hashing to the same slot wait on each other.
//
// Each slot is a channel of capacity one: holding the lock means owning the
// single buffered element, which lets a waiter give up when its context ends.
type SenderLocks struct {
	slots []chan struct{}
}

// NewSenderLocks creates a pool of n slots; n <= 0 means DefaultShards.
func NewSenderLocks(n int) *SenderLocks {
	if n <= 0 {
		n = DefaultShards
	}
	slots := make([]chan struct{}, n)
	for i := range slots {
		slots[i] = make(chan struct{}, 1)
	}
	return &SenderLocks{slots: slots}
}

// Lock blocks until the slot for senderID is free or ctx is done. On
// success the returned release function must be called exactly once; extra
// calls are ignored.
func (l *SenderLocks) Lock(ctx context.Context, senderID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slot := l.slots[l.slotIndex(senderID)]
	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *SenderLocks) slotIndex(senderID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	return int(h.Sum32() % uint32(len(l.slots)))
}
