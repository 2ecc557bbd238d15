package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	perr "example.com/territory/internal/errors"
)

var testCfg = Config{Secret: "test-secret", Issuer: "territory.test"}

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testCfg.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeRunsWrite, ScopeRunsRead},
	}
}

func TestParseValidToken(t *testing.T) {
	claims, err := Parse(sign(t, testCfg.Secret, validClaims()), testCfg)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeRunsWrite))
	require.False(t, claims.HasScope("admin"))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	c := validClaims()
	c["scopes"] = "runs:read  runs:write"
	claims, err := Parse(sign(t, testCfg.Secret, c), testCfg)
	require.NoError(t, err)
	require.Len(t, claims.Scopes, 2)
}

func TestParseRejects(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone.else"
	noSubject := validClaims()
	delete(noSubject, "sub")
	noExpiry := validClaims()
	delete(noExpiry, "exp")

	cases := map[string]string{
		"expired":      sign(t, testCfg.Secret, expired),
		"wrong issuer": sign(t, testCfg.Secret, wrongIssuer),
		"no subject":   sign(t, testCfg.Secret, noSubject),
		"no expiry":    sign(t, testCfg.Secret, noExpiry),
		"wrong secret": sign(t, "other", validClaims()),
		"garbage":      "not.a.jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(token, testCfg)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err := Parse("  ", testCfg)
	require.ErrorIs(t, err, ErrMissingToken)
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserID(r.Context())))
	})
}

func TestMiddleware(t *testing.T) {
	handler := NewMiddleware(testCfg).Wrap(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, testCfg.Secret, validClaims()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body perr.Wire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, perr.ErrorCodeUnauthorized, body.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestRequireScope(t *testing.T) {
	c := validClaims()
	c["scopes"] = []string{ScopeRunsRead}
	handler := NewMiddleware(testCfg).Wrap(RequireScope(ScopeRunsWrite)(echoUser()))

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, testCfg.Secret, c))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	RequireScope(ScopeRunsWrite)(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
