package stores

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrOTPNotFound is returned when no code is pending for the subject.
	ErrOTPNotFound = errors.New("otp not found")
	// ErrOTPMismatch is returned on a wrong code below the attempt maximum.
	ErrOTPMismatch = errors.New("otp mismatch")
	// ErrOTPAttemptsExceeded is returned when the wrong code reaches the
	// attempt maximum; the caller places the block.
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrOTPUnavailable indicates the OTP backend is unreachable.
	ErrOTPUnavailable = errors.New("otp backend unavailable")
)

// OTPConfig holds verification policy for one-time codes.
type OTPConfig struct {
	CodeTTL       time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
}

// OTPStore keeps pending one-time codes and their attempt counters in Redis.
// Codes are stored as SHA-256 digests, never in the clear. A subject is the
// scope of one verification: an email address, a phone number, or a user id.
type OTPStore struct {
	redis  redis.UniversalClient
	config OTPConfig
}

func NewOTPStore(redisClient redis.UniversalClient, cfg OTPConfig) *OTPStore {
	return &OTPStore{redis: redisClient, config: cfg}
}

func otpKey(subject string) string {
	return "aoc:" + subject
}

func otpAttemptsKey(subject string) string {
	return "aoa:" + subject
}

func hashCode(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}

// Save stores the code digest for subject, replacing any pending code and
// resetting the code TTL. The attempt counter is left alone: re-requesting a
// code must not grant fresh guesses.
func (s *OTPStore) Save(ctx context.Context, subject, code string) error {
	if err := s.redis.Set(ctx, otpKey(subject), hashCode(code), s.config.CodeTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	return nil
}

// Verify compares code against the pending digest for subject.
//
// On mismatch the attempt counter is incremented; the first mismatch creates
// it with the attempt-window TTL and later mismatches do not reset that
// window. Reaching MaxAttempts returns ErrOTPAttemptsExceeded and clears the
// pending code. On match the code and counter are cleared best-effort in one
// non-transactional pipeline; a crash mid-cleanup leaves only harmless keys
// that the TTLs retire.
func (s *OTPStore) Verify(ctx context.Context, subject, code string) error {
	stored, err := s.redis.Get(ctx, otpKey(subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}

	if subtle.ConstantTimeCompare(stored, hashCode(code)) != 1 {
		attempts, err := s.redis.Incr(ctx, otpAttemptsKey(subject)).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
		}
		if attempts == 1 {
			if err := s.redis.Expire(ctx, otpAttemptsKey(subject), s.config.AttemptWindow).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
			}
		}

		if attempts >= int64(s.config.MaxAttempts) {
			s.clear(ctx, subject)
			return ErrOTPAttemptsExceeded
		}

		return ErrOTPMismatch
	}

	s.clear(ctx, subject)
	return nil
}

// Clear removes the pending code and attempt counter for subject.
func (s *OTPStore) Clear(ctx context.Context, subject string) {
	s.clear(ctx, subject)
}

func (s *OTPStore) clear(ctx context.Context, subject string) {
	pipe := s.redis.Pipeline()
	pipe.Del(ctx, otpKey(subject))
	pipe.Del(ctx, otpAttemptsKey(subject))
	_, _ = pipe.Exec(ctx)
}
