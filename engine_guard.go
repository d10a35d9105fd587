package authcore

import (
	"context"
	"fmt"

	"github.com/velmora/authcore/store"
)

// CheckAccountStatus gates a request on the user's verification and block
// state. Verification passes when the user owns at least one verified email.
// Block state comes solely from key presence: no key means not blocked, never
// an error.
func (e *Engine) CheckAccountStatus(ctx context.Context, user *store.User, opts GuardOptions) error {
	if user == nil {
		return ErrUnauthorized
	}

	if opts.CheckEmailVerification {
		verified, err := e.hasVerifiedEmail(ctx, user.ID)
		if err != nil {
			return err
		}
		if !verified {
			return fmt.Errorf("%w: email not verified", ErrUnauthorized)
		}
	}

	if opts.CheckBlocked {
		remaining, err := e.blockStore.Remaining(ctx, user.ID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return blockedError(remaining)
		}
	}

	return nil
}

func (e *Engine) hasVerifiedEmail(ctx context.Context, userID string) (bool, error) {
	emails, err := e.db.EmailsForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, o := range emails {
		if o.IsVerified {
			return true, nil
		}
	}
	return false, nil
}
