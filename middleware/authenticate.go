// Package middleware adapts the engine's gate sequence to net/http handlers.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	authcore "github.com/velmora/authcore"
	"github.com/velmora/authcore/transport"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result attached by Authenticate.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// Authenticate extracts the token pair via the transport, runs the engine's
// full gate sequence, and injects the result into the request context. Every
// failure is written as a structured JSON error; an expired access token
// carries the refresh-now resCode so clients rotate instead of re-logging-in.
func Authenticate(engine *authcore.Engine, tr transport.Transport) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || tr == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			creds := tr.Read(r)
			res, err := engine.Authenticate(r.Context(), creds.AccessToken, creds.RefreshToken)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError maps a domain error onto the wire shape
// {isError, status, message, resCode}.
func WriteError(w http.ResponseWriter, err error) {
	e := authcore.AsError(err)

	body := struct {
		IsError bool   `json:"isError"`
		Status  int    `json:"status"`
		Message string `json:"message"`
		ResCode string `json:"resCode,omitempty"`
	}{
		IsError: true,
		Status:  e.Status,
		Message: e.Message,
		ResCode: e.ResCode,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}
