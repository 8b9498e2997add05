package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/storage"
)

// stubStorage satisfies the parts of storage.Storage the auth package touches.
type stubStorage struct {
	storage.Storage
	operator *storage.Operator
}

func (s *stubStorage) ValidateOperator(username, password string) (*storage.Operator, error) {
	if s.operator == nil || username != s.operator.Username || password != "correct-password" {
		return nil, apperrors.AuthError("invalid credentials")
	}
	return s.operator, nil
}

func newTestAuth() (*Auth, *stubStorage) {
	store := &stubStorage{
		operator: &storage.Operator{
			ID:        "op-1",
			Username:  "admin",
			IsDefault: true,
		},
	}
	return New(store, "test-secret-key-for-auth-tests-32ch"), store
}

func TestLogin(t *testing.T) {
	a, _ := newTestAuth()

	token, claims, err := a.Login("admin", "correct-password")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotNil(t, claims)

	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "op-1", claims.Subject)
	assert.True(t, claims.IsDefault)

	// The token should round-trip through validation
	parsed, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", parsed.Username)
	assert.Equal(t, "op-1", parsed.Subject)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	a, _ := newTestAuth()

	token, claims, err := a.Login("admin", "wrong-password")
	assert.Error(t, err)
	assert.Empty(t, token)
	assert.Nil(t, claims)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeAuth))

	_, _, err = a.Login("nobody", "correct-password")
	assert.Error(t, err)
}

func TestValidateToken_Invalid(t *testing.T) {
	a, _ := newTestAuth()

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"wrong secret", mustSign(t, "other-secret-key-that-is-long-enough", time.Now().Add(time.Hour))},
		{"expired", mustSign(t, "test-secret-key-for-auth-tests-32ch", time.Now().Add(-time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := a.ValidateToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeAuth))
		})
	}
}

func TestValidateToken_RejectsUnexpectedAlgorithm(t *testing.T) {
	a, _ := newTestAuth()

	// alg=none tokens must never validate
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "admin"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := a.ValidateToken(signed)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestRequireAuth(t *testing.T) {
	a, _ := newTestAuth()

	var gotUserID, gotUsername, gotIsDefault string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.Header.Get("X-User-ID")
		gotUsername = r.Header.Get("X-Username")
		gotIsDefault = r.Header.Get("X-Is-Default")
		w.WriteHeader(http.StatusOK)
	})
	handler := a.RequireAuth(next)

	t.Run("valid token", func(t *testing.T) {
		token, _, err := a.Login("admin", "correct-password")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "op-1", gotUserID)
		assert.Equal(t, "admin", gotUsername)
		assert.Equal(t, "true", gotIsDefault)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Authentication required")
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
		req.Header.Set("Authorization", "Basic YWRtaW46YWRtaW4=")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func mustSign(t *testing.T, secret string, expiry time.Time) string {
	t.Helper()
	claims := &Claims{
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
