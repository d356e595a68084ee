package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("operator-secret")

func serveWithToken(t *testing.T, auth *Authenticator, token string, scopes ...string) int {
	t.Helper()
	handler := auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Value(ContextKeySubject) != "ops" {
			t.Fatalf("subject missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/markets/x/pause", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res.Code
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	token, err := IssueToken(testSecret, "ops", []string{ScopeOperate}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code := serveWithToken(t, auth, token, ScopeOperate); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)

	if code := serveWithToken(t, auth, "", ScopeOperate); code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", code)
	}

	wrongKey, _ := IssueToken([]byte("other"), "ops", []string{ScopeOperate}, time.Minute)
	if code := serveWithToken(t, auth, wrongKey, ScopeOperate); code != http.StatusUnauthorized {
		t.Fatalf("wrong key: got %d", code)
	}

	expired, _ := IssueToken(testSecret, "ops", []string{ScopeOperate}, -time.Hour)
	if code := serveWithToken(t, auth, expired, ScopeOperate); code != http.StatusUnauthorized {
		t.Fatalf("expired token: got %d", code)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "scope": ScopeOperate}).SignedString(testSecret)
	if code := serveWithToken(t, auth, noExp, ScopeOperate); code != http.StatusUnauthorized {
		t.Fatalf("token without expiry: got %d", code)
	}

	readOnly, _ := IssueToken(testSecret, "ops", []string{"fixedterm:read"}, time.Minute)
	if code := serveWithToken(t, auth, readOnly, ScopeOperate); code != http.StatusForbidden {
		t.Fatalf("missing scope: got %d", code)
	}

	disabled := NewAuthenticator(AuthConfig{}, nil)
	if disabled.Enabled() {
		t.Fatalf("authenticator without secret must be disabled")
	}
	valid, _ := IssueToken(testSecret, "ops", []string{ScopeOperate}, time.Minute)
	if code := serveWithToken(t, disabled, valid, ScopeOperate); code != http.StatusUnauthorized {
		t.Fatalf("disabled authenticator must reject, got %d", code)
	}
}
