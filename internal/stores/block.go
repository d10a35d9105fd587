package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBlockUnavailable indicates the block backend is unreachable.
var ErrBlockUnavailable = errors.New("block backend unavailable")

// BlockStore places and reads TTL-bounded lockout records. Absence of a key is
// the clear state; "blocked" is only ever inferred from key presence.
type BlockStore struct {
	redis redis.UniversalClient
}

func NewBlockStore(redisClient redis.UniversalClient) *BlockStore {
	return &BlockStore{redis: redisClient}
}

func blockKey(subject string) string {
	return "aob:" + subject
}

// Place writes a block record for subject expiring after ttl.
func (s *BlockStore) Place(ctx context.Context, subject string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, blockKey(subject), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	return nil
}

// Remaining returns the time left on a block, or zero when subject is clear.
func (s *BlockStore) Remaining(ctx context.Context, subject string) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, blockKey(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	// TTL returns negative durations for missing keys and keys without expiry.
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Clear lifts the block for subject.
func (s *BlockStore) Clear(ctx context.Context, subject string) error {
	if err := s.redis.Del(ctx, blockKey(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	return nil
}
