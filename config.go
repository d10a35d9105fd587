package authcore

import (
	"errors"
	"time"

	"github.com/velmora/authcore/events"
	"github.com/velmora/authcore/internal/limiters"
	"github.com/velmora/authcore/internal/stores"
	"github.com/velmora/authcore/token"
)

// Config groups every tunable of the engine. Zero values fall back to the
// defaults below during Build.
type Config struct {
	Token      token.Config
	Session    SessionConfig
	OTP        OTPConfig
	Resend     limiters.ResendConfig
	OAuthState OAuthStateConfig
	Guard      GuardConfig
	Reset      ResetConfig
	Janitor    JanitorConfig
	Events     events.Config
}

// SessionConfig controls durable session records.
type SessionConfig struct {
	// TTL is the session lifetime, matching the refresh token's validity.
	TTL time.Duration
}

// OTPConfig controls one-time code issuance and lockouts.
type OTPConfig struct {
	Digits      int
	CodeTTL     time.Duration
	MaxAttempts int
	// AttemptWindow bounds the mismatch counter; it is not reset by later
	// mismatches.
	AttemptWindow time.Duration
	// BlockTTL is the lockout placed once MaxAttempts is reached.
	BlockTTL time.Duration
	// OnboardingTTL bounds the seller onboarding-step marker.
	OnboardingTTL time.Duration
}

// OAuthStateConfig controls the handshake state broker.
type OAuthStateConfig struct {
	TTL time.Duration
	// MaxAge is the logical age limit checked against the payload's embedded
	// timestamp, independent of the key TTL.
	MaxAge time.Duration
	Prefix string
	// FallbackRedirect receives callback errors when no state record exists
	// to recover the original redirect target from.
	FallbackRedirect string
}

// GuardConfig selects the default account-status gates.
type GuardConfig struct {
	RequireVerifiedEmail bool
	CheckBlocked         bool
}

// ResetConfig controls password-reset requests.
type ResetConfig struct {
	// URLBase is where reset links point; the code is appended as ?token=.
	URLBase string
}

// JanitorConfig controls the background sweeps.
type JanitorConfig struct {
	Interval time.Duration
	// StaleIdentityAge is how old an unverified password-only identity must
	// be before the janitor deletes it.
	StaleIdentityAge time.Duration
	SweepBatch       int
}

// DefaultConfig returns the baseline configuration the builder starts from.
// Token secrets are left empty and must be supplied before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: token.Config{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Session: SessionConfig{
			TTL: 7 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			Digits:        6,
			CodeTTL:       5 * time.Minute,
			MaxAttempts:   5,
			AttemptWindow: 15 * time.Minute,
			BlockTTL:      time.Hour,
			OnboardingTTL: 7 * 24 * time.Hour,
		},
		Resend: limiters.ResendConfig{
			MaxPerWindow: 3,
			Window:       time.Hour,
			CooldownBase: 30 * time.Second,
			CooldownStep: 30 * time.Second,
		},
		OAuthState: OAuthStateConfig{
			TTL:    10 * time.Minute,
			MaxAge: 10 * time.Minute,
		},
		Guard: GuardConfig{
			RequireVerifiedEmail: true,
			CheckBlocked:         true,
		},
		Janitor: JanitorConfig{
			Interval:         time.Hour,
			StaleIdentityAge: 12 * time.Hour,
			SweepBatch:       500,
		},
		Events: events.Config{},
	}
}

// Validate rejects configurations the engine cannot run with. Token secrets
// are validated separately by token.NewManager.
func (c Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("otp digits must be between 4 and 10")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("otp max attempts must be positive")
	}
	if c.OTP.BlockTTL <= 0 {
		return errors.New("otp block TTL must be positive")
	}
	if c.Resend.MaxPerWindow <= 0 || c.Resend.Window <= 0 {
		return errors.New("resend window configuration must be positive")
	}
	if c.OAuthState.TTL <= 0 {
		return errors.New("oauth state TTL must be positive")
	}
	if c.Janitor.Interval <= 0 {
		return errors.New("janitor interval must be positive")
	}
	return nil
}

func (c OTPConfig) storeConfig() stores.OTPConfig {
	return stores.OTPConfig{
		CodeTTL:       c.CodeTTL,
		MaxAttempts:   c.MaxAttempts,
		AttemptWindow: c.AttemptWindow,
	}
}
