// Package reconcile decides the outcome of an OAuth callback: whether the
// provider-returned email may attach to, sign in as, or create an identity.
//
// The package is pure decision logic. It never touches storage; the Engine
// gathers the identity state, calls Decide, and executes the outcome inside a
// transaction.
package reconcile

import "errors"

// Origin is the storefront a request claims to originate from. User roles use
// the same values: a user's role is the origin it signed up through.
type Origin string

const (
	OriginShopper Origin = "shopper"
	OriginSeller  Origin = "seller"
	OriginAdmin   Origin = "admin"
)

// Valid reports whether o is one of the three known origins.
func (o Origin) Valid() bool {
	switch o {
	case OriginShopper, OriginSeller, OriginAdmin:
		return true
	}
	return false
}

// Mode is the sealed set of OAuth flow modes. Carrying the per-case fields on
// the variants (rather than a string plus optional fields) lets Decide match
// exhaustively.
type Mode interface {
	isMode()
	// Name is the wire value used in state records and redirect parameters.
	Name() string
}

// Link attaches a provider credential to an already-authenticated caller.
type Link struct {
	// CallerID is the authenticated user performing the attach.
	CallerID string
}

// Login signs an existing identity in through the provider.
type Login struct{}

// Signup creates a new identity from the provider profile.
type Signup struct{}

func (Link) isMode()   {}
func (Login) isMode()  {}
func (Signup) isMode() {}

func (Link) Name() string   { return "link" }
func (Login) Name() string  { return "login" }
func (Signup) Name() string { return "signup" }

// ParseMode maps a wire value back to a Mode. Link carries no caller here;
// the Engine fills it from the authenticated session.
func ParseMode(name string) (Mode, bool) {
	switch name {
	case "link":
		return Link{}, true
	case "login":
		return Login{}, true
	case "signup":
		return Signup{}, true
	}
	return nil, false
}

// Redirect error codes, surfaced verbatim as ?error= query values.
const (
	CodeEmailAlreadyOwned     = "email_already_owned"
	CodeNoAccountWithEmail    = "no_account_with_email"
	CodeUseOriginalAuthMethod = "use_original_auth_method"
	CodeWrongOrigin           = "wrong-origin"
	CodeInvalidRole           = "invalid-role"
)

// Ownership is the existing EmailOwnership for the provider-returned email,
// if any.
type Ownership struct {
	UserID   string
	Verified bool
}

// ProviderAccount is the existing PROVIDER-type account reachable through the
// email's owner, if any.
type ProviderAccount struct {
	UserID    string
	OwnerRole Origin
}

// Input is the identity state gathered before deciding.
type Input struct {
	Mode            Mode
	Origin          Origin
	EmailOwner      *Ownership
	ProviderAccount *ProviderAccount
}

// Decision classifies what the Engine must execute.
type Decision int

const (
	// DecisionReject surfaces Outcome.ErrorCode as a redirect error.
	DecisionReject Decision = iota
	// DecisionLink upserts ownership and the provider account for the caller;
	// no session, no tokens.
	DecisionLink
	// DecisionSignup creates a new user with Outcome.Role, then authenticates.
	DecisionSignup
	// DecisionLogin binds to the existing user in Outcome.UserID, then
	// authenticates.
	DecisionLogin
)

// Outcome is the decision plus the fields the Engine needs to execute it.
type Outcome struct {
	Decision  Decision
	ErrorCode string
	UserID    string
	Role      Origin
}

// ErrUnknownMode is returned for a Mode value outside the sealed set.
var ErrUnknownMode = errors.New("unknown oauth mode")

func reject(code string) Outcome {
	return Outcome{Decision: DecisionReject, ErrorCode: code}
}

// Decide maps (mode, origin, existing identity state) to an outcome. It
// implements the platform's reconciliation rules:
//
//   - one email maps to at most one identity, ever
//   - admins never authenticate through a provider
//   - the seller console rejects shopper-owned provider accounts, while the
//     storefront accepts seller-owned ones (sellers shop too)
//   - an identity established through another credential keeps that
//     credential's guarantees: login never silently attaches a provider
func Decide(in Input) (Outcome, error) {
	switch mode := in.Mode.(type) {
	case Link:
		if mode.CallerID == "" {
			return reject(CodeNoAccountWithEmail), nil
		}
		if in.EmailOwner != nil && in.EmailOwner.UserID != mode.CallerID {
			return reject(CodeEmailAlreadyOwned), nil
		}
		return Outcome{Decision: DecisionLink, UserID: mode.CallerID}, nil

	case Signup:
		if in.Origin == OriginAdmin {
			return reject(CodeWrongOrigin), nil
		}
		if in.EmailOwner != nil {
			return reject(CodeEmailAlreadyOwned), nil
		}
		return Outcome{Decision: DecisionSignup, Role: in.Origin}, nil

	case Login:
		if in.EmailOwner == nil {
			return reject(CodeNoAccountWithEmail), nil
		}
		if in.ProviderAccount == nil {
			return reject(CodeUseOriginalAuthMethod), nil
		}
		if in.Origin == OriginAdmin {
			return reject(CodeWrongOrigin), nil
		}
		if in.Origin == OriginSeller && in.ProviderAccount.OwnerRole == OriginShopper {
			return reject(CodeInvalidRole), nil
		}
		return Outcome{Decision: DecisionLogin, UserID: in.ProviderAccount.UserID}, nil

	default:
		return Outcome{}, ErrUnknownMode
	}
}
