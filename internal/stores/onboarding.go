package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrOnboardingUnavailable indicates the onboarding backend is unreachable.
var ErrOnboardingUnavailable = errors.New("onboarding backend unavailable")

// OnboardingStore tracks the seller setup progress counter. Step zero is the
// implicit state of any user without a marker.
type OnboardingStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewOnboardingStore(redisClient redis.UniversalClient, ttl time.Duration) *OnboardingStore {
	return &OnboardingStore{redis: redisClient, ttl: ttl}
}

func onboardingKey(userID string) string {
	return "aom:" + userID
}

// Seed sets the marker to step 1 for a new seller. Overwrites nothing: an
// existing marker wins.
func (s *OnboardingStore) Seed(ctx context.Context, userID string) error {
	if err := s.redis.SetNX(ctx, onboardingKey(userID), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOnboardingUnavailable, err)
	}
	return nil
}

// Advance moves the marker forward one step and refreshes its TTL.
func (s *OnboardingStore) Advance(ctx context.Context, userID string) (int, error) {
	step, err := s.redis.Incr(ctx, onboardingKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOnboardingUnavailable, err)
	}
	if err := s.redis.Expire(ctx, onboardingKey(userID), s.ttl).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOnboardingUnavailable, err)
	}
	return int(step), nil
}

// Step reads the current marker; missing markers are step zero, never an error.
func (s *OnboardingStore) Step(ctx context.Context, userID string) (int, error) {
	step, err := s.redis.Get(ctx, onboardingKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrOnboardingUnavailable, err)
	}
	return int(step), nil
}

// Clear removes the marker, used when a user is deleted.
func (s *OnboardingStore) Clear(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, onboardingKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOnboardingUnavailable, err)
	}
	return nil
}
