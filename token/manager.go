// Package token issues and verifies the signed access/refresh token pairs used by
// authcore.
//
// # Token format
//
// Both tokens are HMAC-SHA256 JWTs, signed with two independent secrets. The
// refresh token carries the SHA-256 hash of the access token it was minted with,
// so the server can later prove a presented pair was issued together.
//
// # Architecture boundaries
//
// This package owns signing, verification, and claim extraction. Session lookup,
// rotation policy, and error taxonomy belong to the Engine.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind selects which of the two signing secrets a token is checked against.
type Kind int

const (
	// Access is the short-lived per-request credential.
	Access Kind = iota
	// Refresh is the long-lived rotation credential.
	Refresh
)

// Config holds the signing secrets and lifetimes for both token kinds.
//
// Config instances are intended to be set once at construction and treated as
// immutable afterwards.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration // default 15m
	RefreshTTL    time.Duration // default 168h
	Issuer        string
	Leeway        time.Duration
}

// Claims is the claim set shared by both token kinds. AccessTokenHash is only
// populated on refresh tokens.
type Claims struct {
	UserID          string `json:"userId"`
	AccountID       string `json:"accountId,omitempty"`
	Role            string `json:"role,omitempty"`
	AccessTokenHash string `json:"ath,omitempty"`
	jwt.RegisteredClaims
}

// Pair is one access+refresh issuance.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Manager signs and verifies token pairs. Safe for concurrent use.
type Manager struct {
	config Config
}

const (
	minSecretBytes    = 32
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// NewManager validates the configuration and returns a Manager. The access and
// refresh secrets must be distinct; a shared secret would let a refresh token
// masquerade as an access token.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) < minSecretBytes {
		return nil, errors.New("access secret must be at least 32 bytes")
	}
	if len(cfg.RefreshSecret) < minSecretBytes {
		return nil, errors.New("refresh secret must be at least 32 bytes")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL reports the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// GeneratePair mints an access token for claims, then a refresh token carrying
// the same identity claims plus the access token's hash.
func (m *Manager) GeneratePair(userID, accountID, role string) (Pair, error) {
	now := time.Now()

	access, err := m.sign(Claims{
		UserID:    userID,
		AccountID: accountID,
		Role:      role,
	}, m.config.AccessSecret, now, m.config.AccessTTL)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := m.sign(Claims{
		UserID:          userID,
		AccountID:       accountID,
		Role:            role,
		AccessTokenHash: HashToken(access),
	}, m.config.RefreshSecret, now, m.config.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) sign(claims Claims, secret []byte, now time.Time, ttl time.Duration) (string, error) {
	// The jti nonce makes every issuance unique. Timestamps truncate to
	// seconds, so without it two pairs minted in the same second would be
	// byte-identical and cross-bind to each other.
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    m.config.Issuer,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify reports whether token carries a valid signature for the given kind.
// It never returns an error: a bad signature, malformed token, or expired claim
// set simply yields false, and callers decide the error semantics.
//
// When ignoreExpiry is set, expiration is not validated. The refresh gate relies
// on this: an expired access token is the expected state at refresh time, and
// only its signature and binding matter.
func (m *Manager) Verify(tokenStr string, kind Kind, ignoreExpiry bool) bool {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if ignoreExpiry {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	secret := m.config.AccessSecret
	if kind == Refresh {
		secret = m.config.RefreshSecret
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return false
	}

	return tok.Valid
}

// Decode extracts claims without verifying the signature. It must only be
// called on tokens that already passed Verify; acting on unverified claims is
// how token substitution slips through.
func (m *Manager) Decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, errors.New("token missing userId claim")
	}
	return claims, nil
}

// Expired reports whether the claim set's exp is in the past, with leeway.
func (m *Manager) Expired(claims *Claims) bool {
	if claims.ExpiresAt == nil {
		return true
	}
	return time.Now().After(claims.ExpiresAt.Time.Add(m.config.Leeway))
}

// HashToken returns the hex SHA-256 of a token string. This is the binding
// value embedded in refresh tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
