// Package limiters implements the Redis fixed-window and cooldown policies
// applied to OTP and verification-code requests.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrResendCoolingDown is returned while a cooldown from a previous
	// request is still running.
	ErrResendCoolingDown = errors.New("resend cooling down")
	// ErrResendWindowExceeded is returned when the rolling window's request
	// budget is spent.
	ErrResendWindowExceeded = errors.New("resend window exceeded")
	// ErrResendUnavailable indicates the limiter backend is unreachable.
	ErrResendUnavailable = errors.New("resend limiter unavailable")
)

// ResendConfig tunes the request/resend policy for one verification channel.
type ResendConfig struct {
	MaxPerWindow int
	Window       time.Duration
	CooldownBase time.Duration
	CooldownStep time.Duration
}

// ResendLimiter enforces two independent cooldowns (subject-scoped and
// requester-scoped) plus a rolling max-requests-per-window counter.
//
// The cooldown escalates with the window's attempt number: attempt N waits
// CooldownBase + N×CooldownStep, so every successive resend waits strictly
// longer than the last until the window resets.
type ResendLimiter struct {
	redis  redis.UniversalClient
	config ResendConfig
}

func NewResendLimiter(redisClient redis.UniversalClient, cfg ResendConfig) *ResendLimiter {
	return &ResendLimiter{redis: redisClient, config: cfg}
}

func resendWindowKey(subject string) string {
	return "arw:" + subject
}

func resendSubjectKey(subject string) string {
	return "arc:" + subject
}

func resendRequesterKey(requester string) string {
	return "arr:" + requester
}

// Check reports whether subject or requester is still cooling down. The
// returned duration is the longest remaining cooldown when the error is
// ErrResendCoolingDown, zero otherwise. requester may be empty for
// unauthenticated flows.
func (l *ResendLimiter) Check(ctx context.Context, subject, requester string) (time.Duration, error) {
	keys := []string{resendSubjectKey(subject)}
	if requester != "" {
		keys = append(keys, resendRequesterKey(requester))
	}

	var remaining time.Duration
	for _, key := range keys {
		ttl, err := l.redis.TTL(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrResendUnavailable, err)
		}
		if ttl > remaining {
			remaining = ttl
		}
	}

	if remaining > 0 {
		return remaining, ErrResendCoolingDown
	}

	return 0, nil
}

// Record counts one request against the rolling window and, when the budget
// holds, arms the escalating cooldown on both keys. It returns the cooldown
// applied to this attempt.
func (l *ResendLimiter) Record(ctx context.Context, subject, requester string) (time.Duration, error) {
	count, err := l.redis.Incr(ctx, resendWindowKey(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResendUnavailable, err)
	}
	// Fixed-window semantics: the first request opens the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, resendWindowKey(subject), l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrResendUnavailable, err)
		}
	}

	if count > int64(l.config.MaxPerWindow) {
		return 0, ErrResendWindowExceeded
	}

	cooldown := l.config.CooldownBase + time.Duration(count)*l.config.CooldownStep

	pipe := l.redis.Pipeline()
	pipe.Set(ctx, resendSubjectKey(subject), count, cooldown)
	if requester != "" {
		pipe.Set(ctx, resendRequesterKey(requester), count, cooldown)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResendUnavailable, err)
	}

	return cooldown, nil
}

// Reset clears the window and cooldown keys for subject, used when a
// verification completes.
func (l *ResendLimiter) Reset(ctx context.Context, subject, requester string) {
	pipe := l.redis.Pipeline()
	pipe.Del(ctx, resendWindowKey(subject))
	pipe.Del(ctx, resendSubjectKey(subject))
	if requester != "" {
		pipe.Del(ctx, resendRequesterKey(requester))
	}
	_, _ = pipe.Exec(ctx)
}
