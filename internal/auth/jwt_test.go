package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestSecret(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	require.NoError(t, Init())
}

func TestGenerateAndValidateToken(t *testing.T) {
	initTestSecret(t)

	token, err := GenerateToken("ana", "acme", "operator")
	require.NoError(t, err)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.User)
	assert.Equal(t, "acme", claims.Tenant)
	assert.Equal(t, "operator", claims.Role)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	initTestSecret(t)
	_, err := ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestInitRequiresLongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	assert.Error(t, Init())
}

func TestJWTMiddleware(t *testing.T) {
	initTestSecret(t)

	var gotTenant string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := GetClaimsFromContext(r.Context()); ok {
			gotTenant = claims.Tenant
		}
		w.WriteHeader(http.StatusOK)
	})
	protected := JWTMiddleware(next)

	// no token
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// health is open
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// valid bearer token
	token, err := GenerateToken("ana", "acme", "operator")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/documents/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", gotTenant)
}
