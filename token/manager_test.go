package token

import (
	"strings"
	"testing"
	"time"
)

func testManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		AccessSecret:  []byte("access-secret-0123456789-0123456789"),
		RefreshSecret: []byte("refresh-secret-0123456789-012345678"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "authcore-test",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerRejectsSharedSecret(t *testing.T) {
	shared := []byte("shared-secret-0123456789-0123456789")
	if _, err := NewManager(Config{AccessSecret: shared, RefreshSecret: shared}); err == nil {
		t.Fatal("expected error for shared secret")
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	_, err := NewManager(Config{
		AccessSecret:  []byte("short"),
		RefreshSecret: []byte("refresh-secret-0123456789-012345678"),
	})
	if err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestGeneratePairBindsRefreshToAccess(t *testing.T) {
	m := testManager(t)

	pair, err := m.GeneratePair("u1", "acc1", "shopper")
	if err != nil {
		t.Fatalf("GeneratePair failed: %v", err)
	}

	refreshClaims, err := m.Decode(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Decode refresh failed: %v", err)
	}
	if refreshClaims.AccessTokenHash != HashToken(pair.AccessToken) {
		t.Fatal("refresh token does not carry the paired access token hash")
	}
	if refreshClaims.UserID != "u1" || refreshClaims.Role != "shopper" {
		t.Fatalf("unexpected refresh claims: %+v", refreshClaims)
	}

	accessClaims, err := m.Decode(pair.AccessToken)
	if err != nil {
		t.Fatalf("Decode access failed: %v", err)
	}
	if accessClaims.AccessTokenHash != "" {
		t.Fatal("access token must not carry a binding hash")
	}
}

func TestCrossBindFailsForForeignPair(t *testing.T) {
	m := testManager(t)

	first, err := m.GeneratePair("u1", "acc1", "shopper")
	if err != nil {
		t.Fatalf("GeneratePair failed: %v", err)
	}
	second, err := m.GeneratePair("u1", "acc1", "shopper")
	if err != nil {
		t.Fatalf("GeneratePair failed: %v", err)
	}

	// Both tokens verify individually, but the pair is mixed.
	if !m.Verify(second.AccessToken, Access, false) {
		t.Fatal("expected access token to verify")
	}
	if !m.Verify(first.RefreshToken, Refresh, false) {
		t.Fatal("expected refresh token to verify")
	}

	claims, err := m.Decode(first.RefreshToken)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if claims.AccessTokenHash == HashToken(second.AccessToken) {
		t.Fatal("mixed pair must not cross-bind")
	}
}

func TestPairsMintedSameSecondAreDistinct(t *testing.T) {
	m := testManager(t)

	// Back-to-back issuance lands in the same second; the jti nonce must
	// still make each token unique, otherwise one refresh token would match
	// two sessions.
	first, err := m.GeneratePair("u1", "acc1", "shopper")
	if err != nil {
		t.Fatalf("GeneratePair failed: %v", err)
	}
	second, err := m.GeneratePair("u1", "acc1", "shopper")
	if err != nil {
		t.Fatalf("GeneratePair failed: %v", err)
	}

	if first.AccessToken == second.AccessToken {
		t.Fatal("access tokens from separate issuances must differ")
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatal("refresh tokens from separate issuances must differ")
	}

	firstClaims, err := m.Decode(first.AccessToken)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	secondClaims, err := m.Decode(second.AccessToken)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if firstClaims.ID == "" || firstClaims.ID == secondClaims.ID {
		t.Fatal("each issuance must carry its own jti")
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	m := testManager(t)

	pair, err := m.GeneratePair("u1", "acc1", "seller")
	if err != nil {
		t.Fatalf("GeneratePair failed: %v", err)
	}

	if m.Verify(pair.AccessToken, Refresh, false) {
		t.Fatal("access token must not verify against the refresh secret")
	}
	if m.Verify(pair.RefreshToken, Access, false) {
		t.Fatal("refresh token must not verify against the access secret")
	}
}

func TestVerifyNeverPanicsOnGarbage(t *testing.T) {
	m := testManager(t)

	for _, tok := range []string{"", "garbage", "a.b.c", strings.Repeat("x", 4096)} {
		if m.Verify(tok, Access, false) {
			t.Fatalf("garbage token %q verified", tok)
		}
		if m.Verify(tok, Refresh, true) {
			t.Fatalf("garbage token %q verified", tok)
		}
	}
}

func TestExpiredAccessTokenStillVerifiesWithIgnoreExpiry(t *testing.T) {
	m := testManager(t)

	now := time.Now().Add(-time.Hour)
	access, err := m.sign(Claims{UserID: "u1"}, m.config.AccessSecret, now, time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if m.Verify(access, Access, false) {
		t.Fatal("expired token must fail normal verification")
	}
	if !m.Verify(access, Access, true) {
		t.Fatal("expired token must verify when expiry is ignored")
	}

	claims, err := m.Decode(access)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !m.Expired(claims) {
		t.Fatal("Expired should report true for a past exp")
	}
}

func TestDecodeRejectsMissingUserID(t *testing.T) {
	m := testManager(t)

	tok, err := m.sign(Claims{}, m.config.AccessSecret, time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := m.Decode(tok); err == nil {
		t.Fatal("expected error for missing userId claim")
	}
}
