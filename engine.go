// Package authcore implements the authentication and session lifecycle of the
// platform: signed token pairs bound to per-device sessions, rate-limited OTP
// verification with escalating cooldowns and lockouts, a single-use OAuth
// handshake with strict email/account reconciliation, and a background janitor
// for expired sessions and stale identities.
package authcore

import (
	"log/slog"

	"github.com/velmora/authcore/events"
	"github.com/velmora/authcore/internal/limiters"
	"github.com/velmora/authcore/internal/stores"
	"github.com/velmora/authcore/password"
	"github.com/velmora/authcore/provider"
	"github.com/velmora/authcore/store"
	"github.com/velmora/authcore/token"
)

// Engine is the root service object. Construct one per process via the
// Builder and treat it as immutable afterwards.
type Engine struct {
	config Config

	tokens *token.Manager
	db     *store.DB

	// credentialHash covers user passwords; refreshHash covers the refresh
	// tokens stored on sessions with deliberately cheaper parameters.
	credentialHash *password.Hasher
	refreshHash    *password.Hasher

	otpStore   *stores.OTPStore
	blockStore *stores.BlockStore
	stateStore *stores.OAuthStateStore
	onboarding *stores.OnboardingStore
	resend     *limiters.ResendLimiter

	provider   provider.Provider
	dispatcher *events.Dispatcher
	logger     *slog.Logger
}

// Close drains the event dispatcher. The caller owns the redis client and
// database handles.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
}

// EventsDropped reports how many notification events were dropped because the
// dispatch buffer was full.
func (e *Engine) EventsDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// Store exposes the durable store for callers that need direct reads.
func (e *Engine) Store() *store.DB {
	return e.db
}

func (e *Engine) publish(event events.Event) {
	if e.dispatcher != nil {
		e.dispatcher.Publish(event)
	}
}
