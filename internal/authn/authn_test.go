package authn

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	a, err := NewJWTAuthenticator("test-secret")
	if err != nil {
		t.Fatal(err)
	}

	token, err := a.IssueToken("operator-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if err := a.Authenticate(req); err != nil {
		t.Fatalf("expected valid token to authenticate, got %v", err)
	}
}

func TestJWTAuthenticatorRejectsMissingHeader(t *testing.T) {
	a, _ := NewJWTAuthenticator("test-secret")
	req := httptest.NewRequest("GET", "/api/devices", nil)
	if err := a.Authenticate(req); err == nil {
		t.Fatal("expected error for missing Authorization header")
	}
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	a, _ := NewJWTAuthenticator("test-secret")
	token, err := a.IssueToken("operator-1", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if err := a.Authenticate(req); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	a1, _ := NewJWTAuthenticator("secret-one")
	a2, _ := NewJWTAuthenticator("secret-two")

	token, _ := a1.IssueToken("operator-1", time.Hour)
	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if err := a2.Authenticate(req); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestAllowAllAlwaysAuthenticates(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/devices", nil)
	if err := (AllowAll{}).Authenticate(req); err != nil {
		t.Fatalf("expected AllowAll to never error, got %v", err)
	}
}
