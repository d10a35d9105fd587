package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnauthorized covers every terminal authentication failure: missing
	// tokens, bad signatures, broken cross-binding, revoked sessions.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRefreshRequired means the pair is otherwise valid but the access
	// token has expired. The caller should hit the refresh endpoint, not
	// re-authenticate from scratch.
	ErrRefreshRequired = errors.New("access token expired, refresh required")
	// ErrInvalidCredentials is returned on a failed local login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBadRequest covers validation and business-rule violations.
	ErrBadRequest = errors.New("bad request")
	// ErrRateLimited means a cooldown or request window was exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrUserBlocked means the subject is under a TTL-bounded lockout.
	ErrUserBlocked = errors.New("user blocked")
	// ErrEmailOwned means the email already belongs to another identity.
	ErrEmailOwned = errors.New("email already owned")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrEngineNotReady is returned when a dependency was not wired.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Error is the wire shape of a failed request. Written by the middleware as
// {isError, status, message, resCode}.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	ResCode string `json:"resCode,omitempty"`

	// RetryAfter carries the remaining lockout for blocked subjects.
	RetryAfter time.Duration `json:"-"`
}

func (e *Error) Error() string {
	if e.ResCode != "" {
		return fmt.Sprintf("%d %s (%s)", e.Status, e.Message, e.ResCode)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// ResCode values carried on the wire. Clients key off RefreshTokenExpired to
// trigger a silent refresh instead of a full re-login.
const (
	ResCodeRefreshTokenExpired = "REFRESH_TOKEN_EXPIRED"
	ResCodeUserBlocked         = "USER_BLOCKED"
)

// AsError maps a domain error to its wire shape. Unclassified errors come
// back as a generic 500 so internals never leak to the client.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, ErrRefreshRequired):
		return &Error{Status: http.StatusUnauthorized, Message: "access token expired", ResCode: ResCodeRefreshTokenExpired}
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return &Error{Status: http.StatusUnauthorized, Message: "unauthorized"}
	case errors.Is(err, ErrUserBlocked):
		return &Error{Status: http.StatusLocked, Message: "account temporarily locked", ResCode: ResCodeUserBlocked}
	case errors.Is(err, ErrRateLimited):
		return &Error{Status: http.StatusTooManyRequests, Message: "too many requests"}
	case errors.Is(err, ErrEmailOwned):
		return &Error{Status: http.StatusConflict, Message: "email already in use"}
	case errors.Is(err, ErrUserNotFound):
		return &Error{Status: http.StatusNotFound, Message: "user not found"}
	case errors.Is(err, ErrBadRequest):
		return &Error{Status: http.StatusBadRequest, Message: "bad request"}
	default:
		return &Error{Status: http.StatusInternalServerError, Message: "internal error"}
	}
}

func blockedError(remaining time.Duration) error {
	return fmt.Errorf("%w for %s", ErrUserBlocked, remaining.Round(time.Second))
}
