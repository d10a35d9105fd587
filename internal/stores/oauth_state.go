package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStateNotFound is returned when a nonce is absent, already consumed,
	// or expired. All three are indistinguishable to the caller on purpose.
	ErrStateNotFound = errors.New("oauth state not found")
	// ErrStateUnavailable indicates the state backend is unreachable.
	ErrStateUnavailable = errors.New("oauth state backend unavailable")
)

// StateRecord is the handshake payload stored per nonce for one OAuth round
// trip. UserID is only set in link mode.
type StateRecord struct {
	Mode     string `json:"mode"`
	UserID   string `json:"userId,omitempty"`
	Origin   string `json:"origin"`
	Redirect string `json:"redirect"`
	IssuedAt int64  `json:"issuedAt"`
}

// OAuthStateStore keeps single-use, time-boxed handshake records in Redis.
type OAuthStateStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOAuthStateStore(redisClient redis.UniversalClient, prefix string) *OAuthStateStore {
	if prefix == "" {
		prefix = "aos"
	}
	return &OAuthStateStore{redis: redisClient, prefix: prefix}
}

func (s *OAuthStateStore) key(nonce string) string {
	return s.prefix + ":" + nonce
}

// Save writes the record keyed by nonce with a TTL backstop.
func (s *OAuthStateStore) Save(ctx context.Context, nonce string, record StateRecord, ttl time.Duration) error {
	if record.IssuedAt == 0 {
		record.IssuedAt = time.Now().Unix()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(nonce), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}

	return nil
}

// Consume atomically reads and deletes the record in a single GETDEL round
// trip, guaranteeing exactly one successful consumption per nonce. maxAge is a
// redundant application-level check against the embedded timestamp, covering
// clock skew between Redis TTL expiry and logical validity.
func (s *OAuthStateStore) Consume(ctx context.Context, nonce string, maxAge time.Duration) (*StateRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(nonce)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}

	var record StateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, ErrStateNotFound
	}

	if maxAge > 0 && time.Since(time.Unix(record.IssuedAt, 0)) > maxAge {
		return nil, ErrStateNotFound
	}

	return &record, nil
}
