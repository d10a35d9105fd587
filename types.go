package authcore

import (
	"github.com/velmora/authcore/internal/reconcile"
	"github.com/velmora/authcore/store"
	"github.com/velmora/authcore/token"
)

// Role is the platform role carried on users and token claims.
type Role = store.Role

const (
	RoleShopper = store.RoleShopper
	RoleSeller  = store.RoleSeller
	RoleAdmin   = store.RoleAdmin
)

// Origin is the site a request claims to originate from. It constrains which
// accounts may authenticate through it.
type Origin = reconcile.Origin

const (
	OriginShopper = reconcile.OriginShopper
	OriginSeller  = reconcile.OriginSeller
	OriginAdmin   = reconcile.OriginAdmin
)

// User and Session re-export the store models so callers of the engine do not
// import the storage package directly.
type (
	User    = store.User
	Session = store.Session
)

// Pair is an issued access+refresh token pair.
type Pair = token.Pair

// AuthResult is what a fully authenticated request resolves to: the user, the
// device session the refresh token matched, and the decoded access claims.
type AuthResult struct {
	User    *store.User
	Session *store.Session
	Claims  *token.Claims
}

// GuardOptions selects which account-status gates to apply.
type GuardOptions struct {
	CheckEmailVerification bool
	CheckBlocked           bool
}

// OAuthResult is the outcome of an OAuth callback. RedirectURL is always set;
// Pair is non-nil only when the flow authenticated (login or signup, never
// link) and the handler should install the tokens on the response.
type OAuthResult struct {
	RedirectURL string
	Pair        *token.Pair
	UserID      string
}
