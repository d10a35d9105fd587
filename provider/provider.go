// Package provider wraps outbound OAuth 2.0 authorization-code flows behind a
// small interface so the engine never touches provider-specific endpoints.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrProviderDenied means the provider rejected the authorization code.
	// Retrying the same code will not help.
	ErrProviderDenied = errors.New("provider denied the authorization")

	// ErrProviderUnavailable means the provider could not be reached or
	// answered with a server error. The flow may be retried.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Profile is the identity a provider vouches for after a successful exchange.
type Profile struct {
	Email         string
	Name          string
	EmailVerified bool
	AccessToken   string
	RefreshToken  string
	TokenExpiry   time.Time
}

// Provider runs the outbound leg of an OAuth flow.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

const defaultExchangeTimeout = 10 * time.Second

// GoogleConfig configures the Google provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// ExchangeTimeout bounds the code exchange plus the userinfo call.
	// Defaults to 10s.
	ExchangeTimeout time.Duration
}

// Google talks to Google's OAuth endpoints via golang.org/x/oauth2.
type Google struct {
	config  *oauth2.Config
	timeout time.Duration

	// userinfoURL is overridable in tests.
	userinfoURL string
}

// NewGoogle builds a Google provider requesting the openid email and profile
// scopes with offline access, so the exchange also yields a refresh token.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("provider: google client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("provider: google redirect url is required")
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaultExchangeTimeout
	}

	return &Google{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		timeout:     cfg.ExchangeTimeout,
		userinfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}, nil
}

func (g *Google) Name() string { return "google" }

// AuthCodeURL returns the authorization URL the caller should be redirected
// to. state must be the single-use nonce issued for this flow.
func (g *Google) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades the authorization code for the provider's tokens and fetches
// the userinfo profile. Transport failures and 5xx responses map to
// ErrProviderUnavailable; a rejected code maps to ErrProviderDenied.
func (g *Google) Exchange(ctx context.Context, code string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %v", ErrProviderDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	client := g.config.Client(ctx, token)
	resp, err := client.Get(g.userinfoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrProviderDenied, resp.StatusCode)
	}

	var info struct {
		Email         string `json:"email"`
		Name          string `json:"name"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decoding userinfo: %v", ErrProviderUnavailable, err)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("%w: userinfo has no email", ErrProviderDenied)
	}

	return &Profile{
		Email:         info.Email,
		Name:          info.Name,
		EmailVerified: info.EmailVerified,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		TokenExpiry:   token.Expiry,
	}, nil
}
