// Package auth issues and validates JWT bearer tokens for operator access to
// the routing API.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/storage"
)

type Auth struct {
	storage storage.Storage
	secret  []byte
	ttl     time.Duration
}

// Claims carries the operator identity inside a token.
type Claims struct {
	Username  string `json:"username"`
	IsDefault bool   `json:"is_default"`
	jwt.RegisteredClaims
}

func New(store storage.Storage, jwtSecret string) *Auth {
	return &Auth{
		storage: store,
		secret:  []byte(jwtSecret),
		ttl:     24 * time.Hour,
	}
}

// Login validates operator credentials and returns a signed token plus its
// claims.
func (a *Auth) Login(username, password string) (string, *Claims, error) {
	operator, err := a.storage.ValidateOperator(username, password)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	claims := &Claims{
		Username:  operator.Username,
		IsDefault: operator.IsDefault,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", nil, apperrors.InternalError("failed to sign token", err)
	}

	return signed, claims, nil
}

// ValidateToken parses and verifies a token string.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.AuthError("invalid or expired token")
	}
	return claims, nil
}

// RequireAuth guards a handler behind bearer-token authentication. The
// operator identity is forwarded in request headers for handlers.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w)
			return
		}

		claims, err := a.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			unauthorized(w)
			return
		}

		r.Header.Set("X-User-ID", claims.Subject)
		r.Header.Set("X-Username", claims.Username)
		if claims.IsDefault {
			r.Header.Set("X-Is-Default", "true")
		}

		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "Authentication required"}`))
}
