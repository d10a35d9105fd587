package authcore

import (
	"context"
	"sync"
	"time"
)

// Janitor periodically deletes expired sessions and stale unverified
// identities. Each sweep holds its own mutex via TryLock, so a slow run is
// skipped on the next tick instead of overlapping itself.
type Janitor struct {
	engine *Engine
	cfg    JanitorConfig

	sessionMu  sync.Mutex
	identityMu sync.Mutex
}

// NewJanitor builds a janitor over the engine's stores.
func (e *Engine) NewJanitor() *Janitor {
	return &Janitor{engine: e, cfg: e.config.Janitor}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepSessions(ctx)
			j.SweepStaleIdentities(ctx)
		}
	}
}

// SweepSessions deletes sessions past their expiry. Returns how many rows
// went away; zero when another sweep is already running.
func (j *Janitor) SweepSessions(ctx context.Context) int64 {
	if !j.sessionMu.TryLock() {
		return 0
	}
	defer j.sessionMu.Unlock()

	n, err := j.engine.db.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		j.engine.logger.Error("session sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		j.engine.logger.Info("expired sessions swept", "count", n)
	}
	return n
}

// SweepStaleIdentities deletes users that never completed verification:
// every account PASSWORD-type, no verified email, older than the configured
// age. Ephemeral keys are cleared before the durable row so a crash leaves
// only TTL-backed leftovers.
func (j *Janitor) SweepStaleIdentities(ctx context.Context) int {
	if !j.identityMu.TryLock() {
		return 0
	}
	defer j.identityMu.Unlock()

	cutoff := time.Now().Add(-j.cfg.StaleIdentityAge)
	users, err := j.engine.db.StaleUnverifiedUsers(ctx, cutoff, j.cfg.SweepBatch)
	if err != nil {
		j.engine.logger.Error("stale identity query failed", "error", err)
		return 0
	}

	deleted := 0
	for _, user := range users {
		j.clearEphemeral(ctx, user.ID)

		if err := j.engine.db.DeleteUser(ctx, user.ID); err != nil {
			j.engine.logger.Error("stale identity delete failed", "userId", user.ID, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		j.engine.logger.Info("stale identities swept", "count", deleted)
	}
	return deleted
}

func (j *Janitor) clearEphemeral(ctx context.Context, userID string) {
	e := j.engine

	emails, err := e.db.EmailsForUser(ctx, userID)
	if err == nil {
		for _, o := range emails {
			e.otpStore.Clear(ctx, o.Email)
			e.resend.Reset(ctx, o.Email, userID)
		}
	}

	if err := e.blockStore.Clear(ctx, userID); err != nil {
		e.logger.Warn("block cleanup failed", "error", err)
	}
	if err := e.onboarding.Clear(ctx, userID); err != nil {
		e.logger.Warn("onboarding cleanup failed", "error", err)
	}
}
