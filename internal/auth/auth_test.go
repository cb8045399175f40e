package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestSource_InterfaceCompliance(t *testing.T) {
	var _ interfaces.TokenSource = &Source{}
}

func TestSource_Precedence(t *testing.T) {
	tests := []struct {
		name         string
		customerCare string
		admin        string
		wantToken    string
		wantRole     string
	}{
		{"customer care wins", "cc-token", "admin-token", "cc-token", RoleCustomerCare},
		{"admin fallback", "", "admin-token", "admin-token", RoleAdmin},
		{"whitespace is absent", "   ", " admin-token ", "admin-token", RoleAdmin},
		{"customer care only", "cc-token", "", "cc-token", RoleCustomerCare},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSource(tt.customerCare, tt.admin, nil)
			token, err := s.AccessToken()
			if err != nil {
				t.Fatalf("AccessToken failed: %v", err)
			}
			if token != tt.wantToken || s.Role() != tt.wantRole {
				t.Errorf("got %q/%q, want %q/%q", token, s.Role(), tt.wantToken, tt.wantRole)
			}
		})
	}
}

func TestSource_NoIdentity(t *testing.T) {
	s := NewSource("", "", nil)
	_, err := s.AccessToken()
	var authErr *types.AuthenticationError
	if !errors.As(err, &authErr) || !errors.Is(err, types.ErrMissingToken) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if s.Role() != "" {
		t.Errorf("expected no role, got %q", s.Role())
	}
}

func TestSource_SignInAndOut(t *testing.T) {
	s := NewSource("", "admin-token", nil)

	s.SetCustomerCareToken("cc-token")
	if token, _ := s.AccessToken(); token != "cc-token" {
		t.Errorf("customer care sign-in should take over, got %q", token)
	}

	s.SetCustomerCareToken("")
	if token, _ := s.AccessToken(); token != "admin-token" {
		t.Errorf("customer care sign-out should fall back to admin, got %q", token)
	}

	s.SetAdminToken("")
	if _, err := s.AccessToken(); err == nil {
		t.Error("expected an error once both identities are gone")
	}
}

func TestInspect(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"id":           "agent-42",
		"email":        "ada@example.com",
		"first_name":   "Ada",
		"last_name":    "Agent",
		"logged_in_as": RoleCustomerCare,
		"exp":          exp.Unix(),
	})

	claims, err := Inspect(token)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if claims.UserID != "agent-42" || claims.LoggedInAs != RoleCustomerCare || claims.FirstName != "Ada" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Errorf("expiry = %v, want %v", claims.ExpiresAt, exp)
	}
	if claims.Expired(time.Now()) {
		t.Error("token should not be expired yet")
	}
	if !claims.Expired(exp.Add(time.Minute)) {
		t.Error("token should be expired after exp")
	}
}

func TestInspect_SubjectFallback(t *testing.T) {
	claims, err := Inspect(signedToken(t, jwt.MapClaims{"sub": "user-7"}))
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if claims.UserID != "user-7" {
		t.Errorf("expected sub fallback, got %q", claims.UserID)
	}
	if claims.Expired(time.Now()) {
		t.Error("a token without exp never expires")
	}
}

func TestInspect_NotJWT(t *testing.T) {
	if _, err := Inspect("opaque-session-token"); !errors.Is(err, ErrNotJWT) {
		t.Errorf("expected ErrNotJWT, got %v", err)
	}
}

func TestSource_Identity(t *testing.T) {
	cc := signedToken(t, jwt.MapClaims{"id": "agent-7", "logged_in_as": RoleCustomerCare})
	admin := signedToken(t, jwt.MapClaims{"id": "admin-1", "logged_in_as": RoleAdmin})

	s := NewSource(cc, admin, nil)
	if got := s.UserID(); got != "agent-7" {
		t.Errorf("expected customer-care identity, got %q", got)
	}

	s.SetCustomerCareToken("")
	claims, err := s.Identity()
	if err != nil {
		t.Fatalf("Identity failed: %v", err)
	}
	if claims.UserID != "admin-1" || claims.LoggedInAs != RoleAdmin {
		t.Errorf("expected admin identity, got %+v", claims)
	}

	s.SetAdminToken("opaque")
	if _, err := s.Identity(); !errors.Is(err, ErrNotJWT) {
		t.Errorf("expected ErrNotJWT for an opaque token, got %v", err)
	}
	if s.UserID() != "" {
		t.Error("opaque token has no user id")
	}

	s.SetAdminToken("")
	var authErr *types.AuthenticationError
	if _, err := s.Identity(); !errors.As(err, &authErr) {
		t.Errorf("expected AuthenticationError without identity, got %v", err)
	}
}
