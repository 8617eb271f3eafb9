package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub, role string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
}

func runJWT(t *testing.T, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c)
}

func expectHTTPCode(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	expectHTTPCode(t, runJWT(t, "", okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectHTTPCode(t, runJWT(t, tt.header, okHandler), http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidTokenSetsActor(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-123", "physician"), testSigningKey)

	var got Actor
	err := runJWT(t, "Bearer "+tokenStr, func(c echo.Context) error {
		a, ok := ActorFromContext(c.Request().Context())
		if !ok {
			t.Fatal("expected actor on context")
		}
		got = a
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "user-123" || got.Role != RolePhysician {
		t.Errorf("unexpected actor: %+v", got)
	}
}

func TestJWTMiddleware_RolesListFallback(t *testing.T) {
	claims := validClaims("user-456", "")
	claims.Roles = []string{"physician", "surgeon", "admin"}
	tokenStr := createTestToken(t, claims, testSigningKey)

	err := runJWT(t, "Bearer "+tokenStr, func(c echo.Context) error {
		a, _ := ActorFromContext(c.Request().Context())
		if a.Role != RoleAdmin {
			t.Errorf("expected strongest role admin, got %q", a.Role)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_UnknownRoleForbidden(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-1", "billing"), testSigningKey)
	expectHTTPCode(t, runJWT(t, "Bearer "+tokenStr, okHandler), http.StatusForbidden)
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims("user-123", "physician")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)
	expectHTTPCode(t, runJWT(t, "Bearer "+tokenStr, okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-123", "physician"), []byte("another-key"))
	expectHTTPCode(t, runJWT(t, "Bearer "+tokenStr, okHandler), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		a, ok := ActorFromContext(c.Request().Context())
		if !ok || a.ID != "dev-user" || !a.IsSuperadmin() {
			t.Errorf("expected dev superadmin, got %+v", a)
		}
		return c.String(http.StatusOK, "ok")
	}

	strict := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	if err := DevAuthMiddleware(strict)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_TokenStillValidated(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	strict := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	expectHTTPCode(t, DevAuthMiddleware(strict)(okHandler)(c), http.StatusUnauthorized)
}
