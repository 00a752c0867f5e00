package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authProbe(t *testing.T, auth *Authenticator, header string) int {
	t.Helper()
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/escrows/x/release", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	require.Equal(t, http.StatusNoContent, authProbe(t, auth, ""))
}

func TestMiddlewareValidToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "custodia"}, nil)
	token := signToken(t, testSecret, jwt.MapClaims{
		"iss": "custodia",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.Equal(t, http.StatusNoContent, authProbe(t, auth, "Bearer "+token))
}

func TestMiddlewareRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "custodia"}, nil)

	t.Run("missingHeader", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, authProbe(t, auth, ""))
	})
	t.Run("wrongSecret", func(t *testing.T) {
		token := signToken(t, "wrong-secret-wrong-secret-wrong!", jwt.MapClaims{
			"iss": "custodia",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		require.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "Bearer "+token))
	})
	t.Run("expired", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"iss": "custodia",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		require.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "Bearer "+token))
	})
	t.Run("missingExpiry", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{"iss": "custodia"})
		require.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "Bearer "+token))
	})
	t.Run("wrongIssuer", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"iss": "someone-else",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		require.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "Bearer "+token))
	})
	t.Run("notBearerScheme", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, authProbe(t, auth, "Basic abc"))
	})
}
