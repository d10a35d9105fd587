package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/velmora/authcore/store"
	"github.com/velmora/authcore/token"
)

// Authenticate runs the full request gate sequence: extract, verify both
// signatures, cross-bind the pair, match a stored session, then check the
// access token's expiry. Every failure before the expiry check is
// ErrUnauthorized; an expired-but-bound pair is ErrRefreshRequired so the
// client knows to refresh instead of re-authenticating.
func (e *Engine) Authenticate(ctx context.Context, accessToken, refreshToken string) (*AuthResult, error) {
	claims, sess, err := e.resolveSession(ctx, accessToken, refreshToken)
	if err != nil {
		return nil, err
	}

	if e.tokens.Expired(claims) {
		return nil, ErrRefreshRequired
	}

	user, err := e.db.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	return &AuthResult{User: user, Session: sess, Claims: claims}, nil
}

// resolveSession runs gates 1-5: both tokens present, refresh signature,
// access signature with expiry ignored, cross-binding, and session match.
func (e *Engine) resolveSession(ctx context.Context, accessToken, refreshToken string) (*token.Claims, *store.Session, error) {
	if e == nil || e.tokens == nil || e.db == nil {
		return nil, nil, ErrEngineNotReady
	}
	if accessToken == "" || refreshToken == "" {
		return nil, nil, ErrUnauthorized
	}

	if !e.tokens.Verify(refreshToken, token.Refresh, false) {
		return nil, nil, ErrUnauthorized
	}
	// Access verification ignores expiry: an expired access token is the
	// normal state at refresh time. Expiry is judged separately below.
	if !e.tokens.Verify(accessToken, token.Access, true) {
		return nil, nil, ErrUnauthorized
	}

	accessClaims, err := e.tokens.Decode(accessToken)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}
	refreshClaims, err := e.tokens.Decode(refreshToken)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}

	// Cross-binding: the refresh token must carry the hash of exactly this
	// access token, and both must name the same user. A mismatch means
	// token substitution and is a hard failure.
	if refreshClaims.AccessTokenHash != token.HashToken(accessToken) {
		return nil, nil, ErrUnauthorized
	}
	if refreshClaims.UserID != accessClaims.UserID {
		return nil, nil, ErrUnauthorized
	}

	sess, err := e.matchSession(ctx, accessClaims.UserID, refreshToken)
	if err != nil {
		return nil, nil, err
	}

	return accessClaims, sess, nil
}

// matchSession compares the presented refresh token against every active
// session's stored hash. Hashes are salted, so there is no way to index by
// value; each candidate is verified individually.
func (e *Engine) matchSession(ctx context.Context, userID, refreshToken string) (*store.Session, error) {
	sessions, err := e.db.ActiveSessionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	for i := range sessions {
		ok, err := e.refreshHash.Verify(refreshToken, sessions[i].RefreshHash)
		if err != nil {
			continue
		}
		if ok {
			return &sessions[i], nil
		}
	}

	return nil, ErrUnauthorized
}

// Refresh re-runs the session gates, then rotates: a new pair is issued and
// the session's stored hash is swapped under a version check. When two
// refreshes race, exactly one wins; the loser's session is revoked and both
// holders must authenticate again.
func (e *Engine) Refresh(ctx context.Context, accessToken, refreshToken string) (Pair, *AuthResult, error) {
	claims, sess, err := e.resolveSession(ctx, accessToken, refreshToken)
	if err != nil {
		return Pair{}, nil, err
	}

	user, err := e.db.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Pair{}, nil, ErrUnauthorized
		}
		return Pair{}, nil, err
	}

	if err := e.CheckAccountStatus(ctx, user, GuardOptions{
		CheckEmailVerification: e.config.Guard.RequireVerifiedEmail,
		CheckBlocked:           e.config.Guard.CheckBlocked,
	}); err != nil {
		return Pair{}, nil, err
	}

	pair, err := e.tokens.GeneratePair(user.ID, claims.AccountID, string(user.Role))
	if err != nil {
		return Pair{}, nil, err
	}

	newHash, err := e.refreshHash.Hash(pair.RefreshToken)
	if err != nil {
		return Pair{}, nil, err
	}

	expiresAt := time.Now().Add(e.config.Session.TTL)
	if err := e.db.RotateSessionHash(ctx, sess.ID, sess.Version, newHash, expiresAt); err != nil {
		if errors.Is(err, store.ErrRotationConflict) {
			e.logger.Warn("refresh rotation conflict, session revoked",
				"userId", user.ID, "sessionId", sess.ID)
			return Pair{}, nil, ErrUnauthorized
		}
		return Pair{}, nil, err
	}

	// Mirror the rotation on the returned session so callers see the
	// post-CAS state.
	sess.Version++
	sess.RefreshHash = newHash
	sess.ExpiresAt = expiresAt

	return pair, &AuthResult{User: user, Session: sess, Claims: claims}, nil
}

// Logout deletes one device session.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	return e.db.DeleteSession(ctx, sessionID)
}

// LogoutAll deletes every session a user holds, across devices.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	return e.db.DeleteAllSessionsForUser(ctx, userID)
}

// issueSession generates a pair and persists the device session holding the
// refresh token's hash. Used by every authenticating flow.
func (e *Engine) issueSession(ctx context.Context, user *store.User, accountID string) (Pair, error) {
	pair, err := e.tokens.GeneratePair(user.ID, accountID, string(user.Role))
	if err != nil {
		return Pair{}, err
	}

	hash, err := e.refreshHash.Hash(pair.RefreshToken)
	if err != nil {
		return Pair{}, fmt.Errorf("hashing refresh token: %w", err)
	}

	_, err = e.db.CreateSession(ctx, user.ID, hash,
		deviceFromContext(ctx), clientIPFromContext(ctx),
		time.Now().Add(e.config.Session.TTL))
	if err != nil {
		return Pair{}, err
	}

	return pair, nil
}
