package authcore

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/velmora/authcore/events"
	"github.com/velmora/authcore/provider"
	"github.com/velmora/authcore/store"
)

var (
	testAccessSecret  = []byte("0123456789abcdef0123456789abcdef")
	testRefreshSecret = []byte("fedcba9876543210fedcba9876543210")
)

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	sink   *events.ChannelSink
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := defaultConfig()
	cfg.Token.AccessSecret = testAccessSecret
	cfg.Token.RefreshSecret = testRefreshSecret
	cfg.OAuthState.FallbackRedirect = "https://shop.example.com/auth"
	if mutate != nil {
		mutate(&cfg)
	}

	sink := events.NewChannelSink(64)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(db).
		WithEventSink(sink).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, sink: sink}
}

// nextEvent waits briefly for the async dispatcher to hand the sink an event.
func (env *testEnv) nextEvent(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-env.sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return events.Event{}
	}
}

// signupVerified creates a local user and completes email verification using
// the OTP captured from the notification event.
func (env *testEnv) signupVerified(t *testing.T, email string) *User {
	t.Helper()
	ctx := context.Background()

	user, err := env.engine.SignupLocal(ctx, SignupInput{
		Name: "Test User", Email: email, Password: "hunter2hunter2", Origin: OriginShopper,
	})
	if err != nil {
		t.Fatal(err)
	}

	ev := env.nextEvent(t)
	if ev.Type != events.TypeOTP || ev.OTP == "" {
		t.Fatalf("expected otp event, got %+v", ev)
	}

	if err := env.engine.VerifyOTP(ctx, OTPRequest{UserID: user.ID, Email: email}, ev.OTP); err != nil {
		t.Fatal(err)
	}
	return user
}

func TestAuthenticateFullSequence(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user := env.signupVerified(t, "ada@example.com")

	pair, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.Authenticate(ctx, pair.AccessToken, pair.RefreshToken)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if res.User.ID != user.ID {
		t.Errorf("resolved wrong user: %s", res.User.ID)
	}
	if res.Session == nil || res.Claims == nil {
		t.Error("result missing session or claims")
	}
}

func TestAuthenticateRejectsMissingTokens(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Authenticate(ctx, "", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, "garbage", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticateRejectsCrossBoundPair(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	env.signupVerified(t, "ada@example.com")
	pairA, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}
	pairB, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	// Both tokens are individually valid; the pair is not.
	_, err = env.engine.Authenticate(ctx, pairA.AccessToken, pairB.RefreshToken)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("substituted pair must hard-fail, got %v", err)
	}
}

func TestAuthenticateRejectsRevokedSession(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user := env.signupVerified(t, "ada@example.com")
	pair, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if err := env.engine.LogoutAll(ctx, user.ID); err != nil {
		t.Fatal(err)
	}

	_, err = env.engine.Authenticate(ctx, pair.AccessToken, pair.RefreshToken)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized after logout, got %v", err)
	}
}

func TestAuthenticateExpiredAccessSignalsRefresh(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Token.AccessTTL = time.Nanosecond
	})
	ctx := context.Background()

	env.signupVerified(t, "ada@example.com")
	pair, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)

	_, err = env.engine.Authenticate(ctx, pair.AccessToken, pair.RefreshToken)
	if !errors.Is(err, ErrRefreshRequired) {
		t.Errorf("want ErrRefreshRequired, got %v", err)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	env.signupVerified(t, "ada@example.com")
	oldPair, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	newPair, res, err := env.engine.Refresh(ctx, oldPair.AccessToken, oldPair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if res == nil || newPair.RefreshToken == oldPair.RefreshToken {
		t.Fatal("refresh did not rotate the pair")
	}

	// The returned session reflects the rotation, not the pre-CAS row.
	stored, err := env.engine.Store().ActiveSessionsForUser(ctx, res.User.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("%d active sessions, want 1", len(stored))
	}
	if res.Session.Version != stored[0].Version {
		t.Errorf("returned session version = %d, stored = %d", res.Session.Version, stored[0].Version)
	}
	if res.Session.RefreshHash != stored[0].RefreshHash {
		t.Error("returned session carries the pre-rotation hash")
	}

	// The replaced refresh token no longer matches any session.
	if _, _, err := env.engine.Refresh(ctx, oldPair.AccessToken, oldPair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stale pair must fail after rotation, got %v", err)
	}

	// The new pair works.
	if _, err := env.engine.Authenticate(ctx, newPair.AccessToken, newPair.RefreshToken); err != nil {
		t.Errorf("rotated pair rejected: %v", err)
	}
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := env.engine.SignupLocal(ctx, SignupInput{
		Name: "Fresh", Email: "fresh@example.com", Password: "hunter2hunter2", Origin: OriginShopper,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = env.engine.LoginLocal(ctx, "fresh@example.com", "hunter2hunter2")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unverified login must fail, got %v", err)
	}
}

func TestVerifyOTPLockout(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.OTP.MaxAttempts = 3
	})
	ctx := context.Background()

	user, err := env.engine.SignupLocal(ctx, SignupInput{
		Name: "Ada", Email: "ada@example.com", Password: "hunter2hunter2", Origin: OriginShopper,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.nextEvent(t) // discard the signup OTP event

	req := OTPRequest{UserID: user.ID, Email: "ada@example.com"}

	for i := 0; i < 2; i++ {
		if err := env.engine.VerifyOTP(ctx, req, "000000"); !errors.Is(err, ErrBadRequest) {
			t.Fatalf("attempt %d: want ErrBadRequest, got %v", i+1, err)
		}
	}
	// Third mismatch reaches the maximum and places the lockout.
	if err := env.engine.VerifyOTP(ctx, req, "000000"); !errors.Is(err, ErrUserBlocked) {
		t.Fatalf("want ErrUserBlocked at max attempts, got %v", err)
	}
	// Every further attempt is blocked, correct code or not.
	if err := env.engine.VerifyOTP(ctx, req, "000000"); !errors.Is(err, ErrUserBlocked) {
		t.Errorf("want ErrUserBlocked while locked, got %v", err)
	}

	// TTL-1s still blocked, TTL+1s clear.
	env.mr.FastForward(env.engine.config.OTP.BlockTTL - time.Second)
	if err := env.engine.VerifyOTP(ctx, req, "000000"); !errors.Is(err, ErrUserBlocked) {
		t.Errorf("want ErrUserBlocked at TTL-1s, got %v", err)
	}
	env.mr.FastForward(2 * time.Second)
	if err := env.engine.VerifyOTP(ctx, req, "000000"); errors.Is(err, ErrUserBlocked) {
		t.Error("block must clear after TTL")
	}
}

func TestRequestOTPEscalatingCooldown(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	req := OTPRequest{Phone: "+15550001111"}

	if err := env.engine.RequestOTP(ctx, req); err != nil {
		t.Fatal(err)
	}
	// Immediate resend hits the cooldown.
	if err := env.engine.RequestOTP(ctx, req); !errors.Is(err, ErrRateLimited) {
		t.Errorf("want ErrRateLimited during cooldown, got %v", err)
	}

	// After the first cooldown (base + 1*step = 60s) a resend succeeds.
	env.mr.FastForward(61 * time.Second)
	if err := env.engine.RequestOTP(ctx, req); err != nil {
		t.Fatal(err)
	}

	// Third request must wait longer (base + 2*step = 90s): 61s is not enough.
	env.mr.FastForward(61 * time.Second)
	if err := env.engine.RequestOTP(ctx, req); !errors.Is(err, ErrRateLimited) {
		t.Errorf("cooldown must escalate, got %v", err)
	}
	env.mr.FastForward(30 * time.Second)
	if err := env.engine.RequestOTP(ctx, req); err != nil {
		t.Fatal(err)
	}

	// Window max (3) is exhausted; the 4th request in the window fails.
	env.mr.FastForward(121 * time.Second)
	if err := env.engine.RequestOTP(ctx, req); !errors.Is(err, ErrRateLimited) {
		t.Errorf("want ErrRateLimited over window max, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Reset.URLBase = "https://shop.example.com/reset"
	})
	ctx := context.Background()

	user := env.signupVerified(t, "ada@example.com")
	pair, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatal(err)
	}
	ev := env.nextEvent(t)
	if ev.Type != events.TypePasswordReset || ev.ResetURL == "" {
		t.Fatalf("expected reset event, got %+v", ev)
	}

	u, err := url.Parse(ev.ResetURL)
	if err != nil {
		t.Fatal(err)
	}
	resetToken := u.Query().Get("token")
	if resetToken == "" {
		t.Fatal("reset url carries no token")
	}

	if err := env.engine.ResetPassword(ctx, "ada@example.com", resetToken, "newpassword123"); err != nil {
		t.Fatal(err)
	}

	// Password changed and all sessions are gone.
	if _, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password must fail, got %v", err)
	}
	if _, _, err := env.engine.LoginLocal(ctx, "ada@example.com", "newpassword123"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, pair.AccessToken, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("pre-reset session must be revoked, got %v", err)
	}
	_ = user
}

func TestPasswordResetCooldownRateLimits(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	env.signupVerified(t, "ada@example.com")

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("want ErrRateLimited during cooldown, got %v", err)
	}
}

func TestUnknownEmailResetIsSilent(t *testing.T) {
	env := newTestEngine(t, nil)

	if err := env.engine.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Errorf("unknown email must not error: %v", err)
	}
}

func TestSellerSignupSeedsOnboarding(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user, err := env.engine.SignupLocal(ctx, SignupInput{
		Name: "Sel", Email: "sel@example.com", Password: "hunter2hunter2", Origin: OriginSeller,
	})
	if err != nil {
		t.Fatal(err)
	}

	step, err := env.engine.OnboardingStep(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if step != 1 {
		t.Errorf("onboarding step = %d, want 1", step)
	}

	// Verifying the email advances the marker.
	ev := env.nextEvent(t)
	if err := env.engine.VerifyOTP(ctx, OTPRequest{UserID: user.ID, Email: "sel@example.com"}, ev.OTP); err != nil {
		t.Fatal(err)
	}
	step, err = env.engine.OnboardingStep(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if step != 2 {
		t.Errorf("onboarding step after verification = %d, want 2", step)
	}
}

func TestAdminSignupRejected(t *testing.T) {
	env := newTestEngine(t, nil)

	_, err := env.engine.SignupLocal(context.Background(), SignupInput{
		Name: "Root", Email: "root@example.com", Password: "hunter2hunter2", Origin: OriginAdmin,
	})
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("admin signup must be rejected, got %v", err)
	}
}

// fakeProvider stands in for the outbound OAuth leg.
type fakeProvider struct {
	profile *provider.Profile
	err     error
}

func (f *fakeProvider) Name() string { return "google" }

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) Exchange(_ context.Context, _ string) (*provider.Profile, error) {
	return f.profile, f.err
}

func newOAuthEngine(t *testing.T, p provider.Provider) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := defaultConfig()
	cfg.Token.AccessSecret = testAccessSecret
	cfg.Token.RefreshSecret = testRefreshSecret
	cfg.OAuthState.FallbackRedirect = "https://shop.example.com/auth"

	sink := events.NewChannelSink(64)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(db).
		WithProvider(p).
		WithEventSink(sink).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, sink: sink}
}

func stateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatal("auth url carries no state")
	}
	return state
}

func TestOAuthSignupFlow(t *testing.T) {
	p := &fakeProvider{profile: &provider.Profile{
		Email: "new@example.com", Name: "New Seller", EmailVerified: true,
	}}
	env := newOAuthEngine(t, p)
	ctx := WithOrigin(context.Background(), OriginSeller)

	authURL, err := env.engine.BeginOAuth(ctx, "signup", "", "https://seller.example.com/done")
	if err != nil {
		t.Fatal(err)
	}
	state := stateFromAuthURL(t, authURL)

	result := env.engine.CompleteOAuth(ctx, "code", state, "")
	if !strings.Contains(result.RedirectURL, "success=true") || !strings.Contains(result.RedirectURL, "mode=signup") {
		t.Fatalf("unexpected redirect: %s", result.RedirectURL)
	}
	if result.Pair == nil {
		t.Fatal("signup must issue a token pair")
	}

	// New user exists with the origin role and a verified email.
	user, err := env.engine.Store().UserByID(ctx, result.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if user.Role != RoleSeller {
		t.Errorf("role = %s, want seller", user.Role)
	}

	step, err := env.engine.OnboardingStep(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if step != 1 {
		t.Errorf("seller onboarding marker = %d, want 1", step)
	}

	ev := env.nextEvent(t)
	if ev.Type != events.TypeWelcome {
		t.Errorf("expected welcome event, got %s", ev.Type)
	}

	// The issued pair authenticates.
	if _, err := env.engine.Authenticate(ctx, result.Pair.AccessToken, result.Pair.RefreshToken); err != nil {
		t.Errorf("issued pair rejected: %v", err)
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	p := &fakeProvider{profile: &provider.Profile{Email: "new@example.com", Name: "N"}}
	env := newOAuthEngine(t, p)
	ctx := WithOrigin(context.Background(), OriginShopper)

	authURL, err := env.engine.BeginOAuth(ctx, "signup", "", "https://shop.example.com/done")
	if err != nil {
		t.Fatal(err)
	}
	state := stateFromAuthURL(t, authURL)

	first := env.engine.CompleteOAuth(ctx, "code", state, "")
	if !strings.Contains(first.RedirectURL, "success=true") {
		t.Fatalf("first consume failed: %s", first.RedirectURL)
	}

	// Replayed redirect: the nonce is gone.
	second := env.engine.CompleteOAuth(ctx, "code", state, "")
	if !strings.Contains(second.RedirectURL, "error=invalid_or_expired_state") {
		t.Errorf("second consume must fail: %s", second.RedirectURL)
	}
	if second.Pair != nil {
		t.Error("replay must not issue tokens")
	}
}

func TestOAuthLoginUnknownEmail(t *testing.T) {
	p := &fakeProvider{profile: &provider.Profile{Email: "ghost@example.com", Name: "G"}}
	env := newOAuthEngine(t, p)
	ctx := WithOrigin(context.Background(), OriginShopper)

	authURL, err := env.engine.BeginOAuth(ctx, "login", "", "https://shop.example.com/done")
	if err != nil {
		t.Fatal(err)
	}

	result := env.engine.CompleteOAuth(ctx, "code", stateFromAuthURL(t, authURL), "")
	if !strings.Contains(result.RedirectURL, "error=no_account_with_email") {
		t.Errorf("unexpected redirect: %s", result.RedirectURL)
	}
}

func TestOAuthLoginWithoutProviderAccount(t *testing.T) {
	p := &fakeProvider{profile: &provider.Profile{Email: "local@example.com", Name: "L"}}
	env := newOAuthEngine(t, p)
	ctx := WithOrigin(context.Background(), OriginShopper)

	// Identity established through a password credential only.
	_, err := env.engine.Store().CreateLocalUser(ctx, "Local", "local@example.com", RoleShopper, "$h")
	if err != nil {
		t.Fatal(err)
	}

	authURL, err := env.engine.BeginOAuth(ctx, "login", "", "https://shop.example.com/done")
	if err != nil {
		t.Fatal(err)
	}
	result := env.engine.CompleteOAuth(ctx, "code", stateFromAuthURL(t, authURL), "")
	if !strings.Contains(result.RedirectURL, "error=use_original_auth_method") {
		t.Errorf("unexpected redirect: %s", result.RedirectURL)
	}
}

func TestOAuthLinkAttachesWithoutSession(t *testing.T) {
	p := &fakeProvider{profile: &provider.Profile{Email: "ada@example.com", Name: "Ada"}}
	env := newOAuthEngine(t, p)
	ctx := WithOrigin(context.Background(), OriginShopper)

	user, err := env.engine.Store().CreateLocalUser(ctx, "Ada", "ada@example.com", RoleShopper, "$h")
	if err != nil {
		t.Fatal(err)
	}

	authURL, err := env.engine.BeginOAuth(ctx, "link", user.ID, "https://shop.example.com/settings")
	if err != nil {
		t.Fatal(err)
	}
	result := env.engine.CompleteOAuth(ctx, "code", stateFromAuthURL(t, authURL), "")
	if !strings.Contains(result.RedirectURL, "success=true") || !strings.Contains(result.RedirectURL, "mode=link") {
		t.Fatalf("unexpected redirect: %s", result.RedirectURL)
	}
	// Link is a side-channel attach, never an authentication event.
	if result.Pair != nil {
		t.Error("link must not issue tokens")
	}

	account, err := env.engine.Store().ProviderAccount(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if account == nil {
		t.Fatal("provider account not attached")
	}

	sessions, err := env.engine.Store().ActiveSessionsForUser(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("link created %d sessions, want 0", len(sessions))
	}
}

func TestOAuthProviderUnavailable(t *testing.T) {
	p := &fakeProvider{err: provider.ErrProviderUnavailable}
	env := newOAuthEngine(t, p)
	ctx := WithOrigin(context.Background(), OriginShopper)

	authURL, err := env.engine.BeginOAuth(ctx, "signup", "", "https://shop.example.com/done")
	if err != nil {
		t.Fatal(err)
	}
	result := env.engine.CompleteOAuth(ctx, "code", stateFromAuthURL(t, authURL), "")
	if !strings.Contains(result.RedirectURL, "error=provider_unavailable") {
		t.Errorf("unexpected redirect: %s", result.RedirectURL)
	}
}

func TestOAuthCallbackAlwaysRedirects(t *testing.T) {
	p := &fakeProvider{profile: &provider.Profile{Email: "x@example.com"}}
	env := newOAuthEngine(t, p)
	ctx := WithOrigin(context.Background(), OriginShopper)

	// Unknown state: falls back to the configured base.
	result := env.engine.CompleteOAuth(ctx, "code", "bogus-state", "")
	if !strings.HasPrefix(result.RedirectURL, "https://shop.example.com/auth") {
		t.Errorf("fallback redirect wrong: %s", result.RedirectURL)
	}

	// Provider-side denial surfaces on the original redirect target.
	authURL, err := env.engine.BeginOAuth(ctx, "login", "", "https://shop.example.com/done")
	if err != nil {
		t.Fatal(err)
	}
	result = env.engine.CompleteOAuth(ctx, "", stateFromAuthURL(t, authURL), "access_denied")
	if !strings.Contains(result.RedirectURL, "error=provider_denied") {
		t.Errorf("unexpected redirect: %s", result.RedirectURL)
	}
}

func TestBeginOAuthValidation(t *testing.T) {
	p := &fakeProvider{}
	env := newOAuthEngine(t, p)

	// Missing origin.
	if _, err := env.engine.BeginOAuth(context.Background(), "login", "", "https://x/done"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("want ErrBadRequest without origin, got %v", err)
	}

	ctx := WithOrigin(context.Background(), OriginShopper)
	if _, err := env.engine.BeginOAuth(ctx, "bogus", "", "https://x/done"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("want ErrBadRequest for unknown mode, got %v", err)
	}
	if _, err := env.engine.BeginOAuth(ctx, "link", "", "https://x/done"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("link without caller must fail, got %v", err)
	}
}
