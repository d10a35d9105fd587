package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/velmora/authcore/events"
	"github.com/velmora/authcore/internal"
	"github.com/velmora/authcore/internal/limiters"
	"github.com/velmora/authcore/internal/stores"
	"github.com/velmora/authcore/store"
)

// OTPRequest names the subject of a verification code: an email or a phone
// number, plus the requesting user when known. Exactly one of Email and Phone
// must be set.
type OTPRequest struct {
	UserID string
	Email  string
	Phone  string
}

func (r OTPRequest) subject() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Phone
}

func (r OTPRequest) channel() string {
	if r.Email != "" {
		return events.ChannelEmail
	}
	return events.ChannelSMS
}

// blockSubject is where lockouts land: the user when known, otherwise the
// verification subject itself.
func (r OTPRequest) blockSubject() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.subject()
}

// RequestOTP generates a one-time code for the subject and emits the
// notification event. Two cooldowns apply independently: one on the subject,
// one on the requesting user; plus a rolling max-requests window. Each
// successive request waits strictly longer than the last.
func (e *Engine) RequestOTP(ctx context.Context, req OTPRequest) error {
	subject := req.subject()
	if subject == "" || (req.Email != "" && req.Phone != "") {
		return fmt.Errorf("%w: exactly one of email or phone required", ErrBadRequest)
	}

	if remaining, err := e.blockStore.Remaining(ctx, req.blockSubject()); err != nil {
		return err
	} else if remaining > 0 {
		return blockedError(remaining)
	}

	if remaining, err := e.resend.Check(ctx, subject, req.UserID); err != nil {
		if errors.Is(err, limiters.ErrResendCoolingDown) {
			return fmt.Errorf("%w: retry in %s", ErrRateLimited, remaining.Round(time.Second))
		}
		return err
	}

	if _, err := e.resend.Record(ctx, subject, req.UserID); err != nil {
		if errors.Is(err, limiters.ErrResendWindowExceeded) {
			return fmt.Errorf("%w: request window exceeded", ErrRateLimited)
		}
		return err
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return err
	}
	if err := e.otpStore.Save(ctx, subject, code); err != nil {
		return err
	}

	e.publish(events.Event{
		Type:    events.TypeOTP,
		Channel: req.channel(),
		Email:   req.Email,
		Phone:   req.Phone,
		OTP:     code,
	})

	return nil
}

// VerifyOTP checks a submitted code. On the configured maximum of mismatches
// a TTL-bounded lockout is placed and this and all further attempts fail as
// blocked until it elapses. On a match the code and every related counter
// are cleared, the email (if any) is marked verified, and the onboarding
// marker advances.
func (e *Engine) VerifyOTP(ctx context.Context, req OTPRequest, code string) error {
	subject := req.subject()
	if subject == "" || code == "" {
		return fmt.Errorf("%w: subject and code required", ErrBadRequest)
	}

	if remaining, err := e.blockStore.Remaining(ctx, req.blockSubject()); err != nil {
		return err
	} else if remaining > 0 {
		return blockedError(remaining)
	}

	if err := e.otpStore.Verify(ctx, subject, code); err != nil {
		switch {
		case errors.Is(err, stores.ErrOTPAttemptsExceeded):
			if placeErr := e.blockStore.Place(ctx, req.blockSubject(), e.config.OTP.BlockTTL); placeErr != nil {
				return placeErr
			}
			return blockedError(e.config.OTP.BlockTTL)
		case errors.Is(err, stores.ErrOTPMismatch), errors.Is(err, stores.ErrOTPNotFound):
			return fmt.Errorf("%w: invalid otp", ErrBadRequest)
		default:
			return err
		}
	}

	// Cooldown cleanup is best-effort; every key is TTL-backed anyway.
	e.resend.Reset(ctx, subject, req.UserID)

	if req.Email != "" {
		if err := e.db.MarkEmailVerified(ctx, req.Email); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	if req.UserID != "" {
		if step, err := e.onboarding.Step(ctx, req.UserID); err == nil && step > 0 {
			if _, err := e.onboarding.Advance(ctx, req.UserID); err != nil {
				e.logger.Warn("onboarding advance failed", "userId", req.UserID, "error", err)
			}
		}
	}

	return nil
}

// OnboardingStep reports a seller's current onboarding progress. Zero means
// no marker.
func (e *Engine) OnboardingStep(ctx context.Context, userID string) (int, error) {
	return e.onboarding.Step(ctx, userID)
}

const resetSubjectPrefix = "reset:"

// RequestPasswordReset issues a reset token for the email's owner and emits
// the reset-URL event. Unknown emails succeed silently so the endpoint
// cannot be used to probe for accounts. Rides the same escalating-cooldown
// limiter as OTP requests.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("%w: email required", ErrBadRequest)
	}

	subject := resetSubjectPrefix + email

	if remaining, err := e.resend.Check(ctx, subject, ""); err != nil {
		if errors.Is(err, limiters.ErrResendCoolingDown) {
			return fmt.Errorf("%w: retry in %s", ErrRateLimited, remaining.Round(time.Second))
		}
		return err
	}
	if _, err := e.resend.Record(ctx, subject, ""); err != nil {
		if errors.Is(err, limiters.ErrResendWindowExceeded) {
			return fmt.Errorf("%w: request window exceeded", ErrRateLimited)
		}
		return err
	}

	owner, err := e.db.EmailOwner(ctx, email)
	if err != nil {
		return err
	}
	if owner == nil {
		e.logger.Info("password reset requested for unknown email")
		return nil
	}

	resetToken, err := internal.NewNonce()
	if err != nil {
		return err
	}
	if err := e.otpStore.Save(ctx, subject, resetToken); err != nil {
		return err
	}

	user, err := e.db.UserByID(ctx, owner.UserID)
	if err != nil {
		return err
	}

	e.publish(events.Event{
		Type:     events.TypePasswordReset,
		Channel:  events.ChannelEmail,
		Email:    email,
		UserName: user.Name,
		ResetURL: e.config.Reset.URLBase + "?token=" + url.QueryEscape(resetToken),
	})

	return nil
}

// ResetPassword consumes a reset token, replaces the password hash, and
// revokes every session the user holds.
func (e *Engine) ResetPassword(ctx context.Context, email, resetToken, newPassword string) error {
	if email == "" || resetToken == "" {
		return fmt.Errorf("%w: email and token required", ErrBadRequest)
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password too short", ErrBadRequest)
	}

	owner, err := e.db.EmailOwner(ctx, email)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("%w: invalid reset token", ErrBadRequest)
	}

	subject := resetSubjectPrefix + email
	if err := e.otpStore.Verify(ctx, subject, resetToken); err != nil {
		switch {
		case errors.Is(err, stores.ErrOTPAttemptsExceeded):
			if placeErr := e.blockStore.Place(ctx, owner.UserID, e.config.OTP.BlockTTL); placeErr != nil {
				return placeErr
			}
			return blockedError(e.config.OTP.BlockTTL)
		case errors.Is(err, stores.ErrOTPMismatch), errors.Is(err, stores.ErrOTPNotFound):
			return fmt.Errorf("%w: invalid reset token", ErrBadRequest)
		default:
			return err
		}
	}

	hash, err := e.credentialHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.db.SetPasswordHash(ctx, owner.UserID, hash); err != nil {
		return err
	}

	return e.LogoutAll(ctx, owner.UserID)
}

// SignupInput creates a local-credential identity.
type SignupInput struct {
	Name     string
	Email    string
	Password string
	Origin   Origin
}

// SignupLocal creates a PASSWORD-account user with an unverified email, seeds
// the seller onboarding marker, and kicks off email verification. The new
// identity stays deletable by the janitor until the email is verified.
func (e *Engine) SignupLocal(ctx context.Context, in SignupInput) (*User, error) {
	if in.Email == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: name and email required", ErrBadRequest)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password too short", ErrBadRequest)
	}
	if !in.Origin.Valid() || in.Origin == OriginAdmin {
		return nil, fmt.Errorf("%w: invalid origin", ErrBadRequest)
	}

	hash, err := e.credentialHash.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := e.db.CreateLocalUser(ctx, in.Name, in.Email, store.Role(in.Origin), hash)
	if err != nil {
		if errors.Is(err, store.ErrEmailOwned) {
			return nil, ErrEmailOwned
		}
		return nil, err
	}

	if in.Origin == OriginSeller {
		if err := e.onboarding.Seed(ctx, user.ID); err != nil {
			e.logger.Warn("onboarding seed failed", "userId", user.ID, "error", err)
		}
	}

	if err := e.RequestOTP(ctx, OTPRequest{UserID: user.ID, Email: in.Email}); err != nil {
		e.logger.Warn("signup verification request failed", "userId", user.ID, "error", err)
	}

	return user, nil
}

// LoginLocal authenticates a PASSWORD account and opens a device session.
func (e *Engine) LoginLocal(ctx context.Context, email, pass string) (Pair, *User, error) {
	if email == "" || pass == "" {
		return Pair{}, nil, ErrInvalidCredentials
	}

	owner, err := e.db.EmailOwner(ctx, email)
	if err != nil {
		return Pair{}, nil, err
	}
	if owner == nil {
		return Pair{}, nil, ErrInvalidCredentials
	}

	account, err := e.db.PasswordAccount(ctx, owner.UserID)
	if err != nil {
		return Pair{}, nil, err
	}
	if account == nil {
		return Pair{}, nil, ErrInvalidCredentials
	}

	ok, err := e.credentialHash.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		return Pair{}, nil, ErrInvalidCredentials
	}

	user, err := e.db.UserByID(ctx, owner.UserID)
	if err != nil {
		return Pair{}, nil, err
	}

	if err := e.CheckAccountStatus(ctx, user, GuardOptions{
		CheckEmailVerification: e.config.Guard.RequireVerifiedEmail,
		CheckBlocked:           e.config.Guard.CheckBlocked,
	}); err != nil {
		return Pair{}, nil, err
	}

	pair, err := e.issueSession(ctx, user, account.ID)
	if err != nil {
		return Pair{}, nil, err
	}

	return pair, user, nil
}
