// Package admin implements chat commands and the pending system-prompt update flow.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "admin:pending:"

// errNotOwner aborts a Take made by someone other than the waiting admin.
var errNotOwner = errors.New("pending action belongs to another user")

// PendingStore remembers which admin is expected to send a new system
// prompt in a chat. Entries expire after the configured TTL.
type PendingStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewPendingStore creates a PendingStore.
func NewPendingStore(client redis.UniversalClient, ttl time.Duration) *PendingStore {
	return &PendingStore{client: client, ttl: ttl}
}

func pendingKey(chatID int64) string {
	return pendingKeyPrefix + strconv.FormatInt(chatID, 10)
}

// Begin marks userID as waiting for a prompt in chatID, replacing any earlier entry.
func (p *PendingStore) Begin(ctx context.Context, chatID, userID int64) error {
	if err := p.client.Set(ctx, pendingKey(chatID), userID, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending action: %w", err)
	}
	return nil
}

// Pending returns the admin waiting in chatID, if any.
func (p *PendingStore) Pending(ctx context.Context, chatID int64) (int64, bool, error) {
	id, err := p.client.Get(ctx, pendingKey(chatID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read pending action: %w", err)
	}
	return id, true, nil
}

// Take removes the entry for chatID if it belongs to userID. It reports
// whether the caller owned the entry. Concurrent takes succeed at most once.
func (p *PendingStore) Take(ctx context.Context, chatID, userID int64) (bool, error) {
	key := pendingKey(chatID)
	err := p.client.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			return errNotOwner
		}
		if err != nil {
			return err
		}
		if owner != userID {
			return errNotOwner
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotOwner), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("failed to take pending action: %w", err)
	}
}

// Cancel drops the entry for chatID.
func (p *PendingStore) Cancel(ctx context.Context, chatID int64) error {
	if err := p.client.Del(ctx, pendingKey(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to cancel pending action: %w", err)
	}
	return nil
}
