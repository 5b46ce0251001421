package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/infra/metrics"

	"github.com/golang-jwt/jwt/v5"
)

type AuthManager struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthManager returns nil when secret is empty; a nil manager rejects
// every guarded route.
func NewAuthManager(secret string, ttl time.Duration) *AuthManager {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &AuthManager{secret: []byte(secret), ttl: ttl}
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Mint issues an HS256 admin token for subject.
func (a *AuthManager) Mint(subject string) (string, error) {
	now := time.Now()
	if subject == "" {
		subject = "admin"
	}
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) ParseFromRequest(r *http.Request) (*AdminClaims, error) {
	// Authorization: Bearer <jwt>
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return nil, fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}
	return a.parse(strings.TrimSpace(hdr[7:]))
}

func (a *AuthManager) parse(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if claims.Role != "admin" {
		return nil, fmt.Errorf("%w: role %q", domain.ErrUnauthorized, claims.Role)
	}
	return claims, nil
}

// RequireAdmin guards a route group with a valid admin token.
func (a *AuthManager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			metrics.IncAdminRequest(r.URL.Path, "forbidden")
			writeError(w, http.StatusForbidden, "admin API disabled: no jwt secret configured")
			return
		}
		if _, err := a.ParseFromRequest(r); err != nil {
			metrics.IncAdminRequest(r.URL.Path, "unauthorized")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
