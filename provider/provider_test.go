package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestGoogle(t *testing.T, tokenStatus, userinfoStatus int, userinfoBody string) *Google {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"pat","refresh_token":"prt","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(userinfoStatus)
		_, _ = w.Write([]byte(userinfoBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g, err := NewGoogle(GoogleConfig{
		ClientID:        "cid",
		ClientSecret:    "csecret",
		RedirectURL:     "http://localhost/callback",
		ExchangeTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	g.config.Endpoint = oauth2.Endpoint{
		AuthURL:  srv.URL + "/auth",
		TokenURL: srv.URL + "/token",
	}
	g.userinfoURL = srv.URL + "/userinfo"
	return g
}

func TestExchangeSuccess(t *testing.T) {
	g := newTestGoogle(t, http.StatusOK, http.StatusOK,
		`{"email":"ada@example.com","name":"Ada","email_verified":true}`)

	profile, err := g.Exchange(context.Background(), "code")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if profile.Email != "ada@example.com" || !profile.EmailVerified {
		t.Errorf("unexpected profile: %+v", profile)
	}
	if profile.AccessToken != "pat" || profile.RefreshToken != "prt" {
		t.Errorf("provider tokens not carried: %+v", profile)
	}
}

func TestExchangeDeniedCode(t *testing.T) {
	g := newTestGoogle(t, http.StatusBadRequest, http.StatusOK, `{}`)

	_, err := g.Exchange(context.Background(), "bad-code")
	if !errors.Is(err, ErrProviderDenied) {
		t.Errorf("want ErrProviderDenied, got %v", err)
	}
}

func TestExchangeProviderDown(t *testing.T) {
	g := newTestGoogle(t, http.StatusBadGateway, http.StatusOK, `{}`)

	_, err := g.Exchange(context.Background(), "code")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("want ErrProviderUnavailable, got %v", err)
	}
}

func TestExchangeUserinfoServerError(t *testing.T) {
	g := newTestGoogle(t, http.StatusOK, http.StatusInternalServerError, ``)

	_, err := g.Exchange(context.Background(), "code")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("want ErrProviderUnavailable, got %v", err)
	}
}

func TestExchangeMissingEmail(t *testing.T) {
	g := newTestGoogle(t, http.StatusOK, http.StatusOK, `{"name":"NoEmail"}`)

	_, err := g.Exchange(context.Background(), "code")
	if !errors.Is(err, ErrProviderDenied) {
		t.Errorf("want ErrProviderDenied, got %v", err)
	}
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	g := newTestGoogle(t, http.StatusOK, http.StatusOK, `{}`)

	url := g.AuthCodeURL("nonce-123")
	if !strings.Contains(url, "state=nonce-123") {
		t.Errorf("state missing from auth url: %s", url)
	}
}
