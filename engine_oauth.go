package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/velmora/authcore/events"
	"github.com/velmora/authcore/internal"
	"github.com/velmora/authcore/internal/reconcile"
	"github.com/velmora/authcore/internal/stores"
	"github.com/velmora/authcore/provider"
	"github.com/velmora/authcore/store"
)

// Error codes surfaced on the callback redirect, beyond the reconciliation
// codes themselves.
const (
	oauthErrInvalidState        = "invalid_or_expired_state"
	oauthErrProviderDenied      = "provider_denied"
	oauthErrProviderUnavailable = "provider_unavailable"
	oauthErrInternal            = "oauth_failed"
)

// BeginOAuth starts a handshake: stores a single-use state record and returns
// the provider's authorization URL. mode is one of link, login, signup;
// callerID is required for link and ignored otherwise. The origin must be on
// the context.
func (e *Engine) BeginOAuth(ctx context.Context, modeName, callerID, redirect string) (string, error) {
	if e.provider == nil {
		return "", ErrEngineNotReady
	}

	mode, ok := reconcile.ParseMode(modeName)
	if !ok {
		return "", fmt.Errorf("%w: unknown mode %q", ErrBadRequest, modeName)
	}
	origin, ok := originFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: origin header required", ErrBadRequest)
	}
	if _, isLink := mode.(reconcile.Link); isLink && callerID == "" {
		return "", fmt.Errorf("%w: link requires an authenticated caller", ErrUnauthorized)
	}
	if redirect == "" {
		return "", fmt.Errorf("%w: redirect target required", ErrBadRequest)
	}

	nonce, err := internal.NewNonce()
	if err != nil {
		return "", err
	}

	record := stores.StateRecord{
		Mode:     mode.Name(),
		Origin:   string(origin),
		Redirect: redirect,
	}
	if _, isLink := mode.(reconcile.Link); isLink {
		record.UserID = callerID
	}

	if err := e.stateStore.Save(ctx, nonce, record, e.config.OAuthState.TTL); err != nil {
		return "", err
	}

	return e.provider.AuthCodeURL(nonce), nil
}

// CompleteOAuth finishes the handshake. It never returns a JSON-shaped error
// to the caller: every outcome, expected or not, is a redirect URL, because
// the caller is a browser mid-navigation. A token pair is attached only when
// the flow authenticated (login or signup).
func (e *Engine) CompleteOAuth(ctx context.Context, code, state, providerErr string) OAuthResult {
	fallback := func(errCode string) OAuthResult {
		return OAuthResult{RedirectURL: errorRedirect(e.config.OAuthState.FallbackRedirect, errCode)}
	}

	if e.provider == nil {
		return fallback(oauthErrInternal)
	}

	record, err := e.stateStore.Consume(ctx, state, e.config.OAuthState.MaxAge)
	if err != nil {
		// No state means no redirect target either; send the caller to the
		// configured base with the error code.
		return fallback(oauthErrInvalidState)
	}

	redirect := record.Redirect
	if providerErr != "" {
		return OAuthResult{RedirectURL: errorRedirect(redirect, oauthErrProviderDenied)}
	}

	profile, err := e.provider.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, provider.ErrProviderUnavailable) {
			e.logger.Error("oauth exchange unavailable", "error", err)
			return OAuthResult{RedirectURL: errorRedirect(redirect, oauthErrProviderUnavailable)}
		}
		return OAuthResult{RedirectURL: errorRedirect(redirect, oauthErrProviderDenied)}
	}

	mode, ok := reconcile.ParseMode(record.Mode)
	if !ok {
		return OAuthResult{RedirectURL: errorRedirect(redirect, oauthErrInvalidState)}
	}
	if link, isLink := mode.(reconcile.Link); isLink {
		link.CallerID = record.UserID
		mode = link
	}

	outcome, err := e.decideReconciliation(ctx, mode, Origin(record.Origin), profile.Email)
	if err != nil {
		e.logger.Error("oauth reconciliation failed", "error", err)
		return OAuthResult{RedirectURL: errorRedirect(redirect, oauthErrInternal)}
	}
	if outcome.Decision == reconcile.DecisionReject {
		return OAuthResult{RedirectURL: errorRedirect(redirect, outcome.ErrorCode)}
	}

	result, err := e.executeReconciliation(ctx, mode, outcome, profile)
	if err != nil {
		if errors.Is(err, store.ErrEmailOwned) {
			return OAuthResult{RedirectURL: errorRedirect(redirect, reconcile.CodeEmailAlreadyOwned)}
		}
		e.logger.Error("oauth outcome execution failed", "mode", mode.Name(), "error", err)
		return OAuthResult{RedirectURL: errorRedirect(redirect, oauthErrInternal)}
	}

	result.RedirectURL = successRedirect(redirect, mode.Name())
	return result
}

// decideReconciliation gathers the identity state the decision table needs.
func (e *Engine) decideReconciliation(ctx context.Context, mode reconcile.Mode, origin Origin, email string) (reconcile.Outcome, error) {
	in := reconcile.Input{Mode: mode, Origin: origin}

	owner, err := e.db.EmailOwner(ctx, email)
	if err != nil {
		return reconcile.Outcome{}, err
	}
	if owner != nil {
		in.EmailOwner = &reconcile.Ownership{UserID: owner.UserID, Verified: owner.IsVerified}

		account, err := e.db.ProviderAccount(ctx, owner.UserID)
		if err != nil {
			return reconcile.Outcome{}, err
		}
		if account != nil {
			ownerUser, err := e.db.UserByID(ctx, owner.UserID)
			if err != nil {
				return reconcile.Outcome{}, err
			}
			in.ProviderAccount = &reconcile.ProviderAccount{
				UserID:    owner.UserID,
				OwnerRole: Origin(ownerUser.Role),
			}
		}
	}

	return reconcile.Decide(in)
}

// executeReconciliation applies an accepted decision. Each branch is one
// store transaction; login and signup additionally open a session, link never
// does.
func (e *Engine) executeReconciliation(ctx context.Context, mode reconcile.Mode, outcome reconcile.Outcome, profile *provider.Profile) (OAuthResult, error) {
	tokens := store.ProviderTokens{
		AccessToken:  profile.AccessToken,
		RefreshToken: profile.RefreshToken,
		Expiry:       profile.TokenExpiry,
	}

	switch outcome.Decision {
	case reconcile.DecisionLink:
		err := e.db.LinkProvider(ctx, outcome.UserID, profile.Email, e.provider.Name(), tokens)
		if err != nil {
			return OAuthResult{}, err
		}
		return OAuthResult{UserID: outcome.UserID}, nil

	case reconcile.DecisionSignup:
		user, err := e.db.CreateOAuthUser(ctx, profile.Name, profile.Email, store.Role(outcome.Role), e.provider.Name(), tokens)
		if err != nil {
			return OAuthResult{}, err
		}

		if user.Role == store.RoleSeller {
			if err := e.onboarding.Seed(ctx, user.ID); err != nil {
				e.logger.Warn("onboarding seed failed", "userId", user.ID, "error", err)
			}
		}

		e.publish(events.Event{
			Type:     events.TypeWelcome,
			Channel:  events.ChannelEmail,
			Email:    profile.Email,
			UserName: user.Name,
		})

		return e.authenticateOutcome(ctx, user)

	case reconcile.DecisionLogin:
		if err := e.db.BindProviderLogin(ctx, outcome.UserID, profile.Email, e.provider.Name(), tokens); err != nil {
			return OAuthResult{}, err
		}
		user, err := e.db.UserByID(ctx, outcome.UserID)
		if err != nil {
			return OAuthResult{}, err
		}
		return e.authenticateOutcome(ctx, user)

	default:
		return OAuthResult{}, fmt.Errorf("unexpected decision %d", outcome.Decision)
	}
}

func (e *Engine) authenticateOutcome(ctx context.Context, user *store.User) (OAuthResult, error) {
	account, err := e.db.ProviderAccount(ctx, user.ID)
	if err != nil {
		return OAuthResult{}, err
	}
	accountID := ""
	if account != nil {
		accountID = account.ID
	}

	pair, err := e.issueSession(ctx, user, accountID)
	if err != nil {
		return OAuthResult{}, err
	}

	return OAuthResult{Pair: &pair, UserID: user.ID}, nil
}

func successRedirect(base, mode string) string {
	return appendQuery(base, url.Values{"success": {"true"}, "mode": {mode}})
}

func errorRedirect(base, code string) string {
	return appendQuery(base, url.Values{"error": {code}})
}

func appendQuery(base string, values url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + values.Encode()
	}
	q := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
