// Package auth issues and checks the bearer tokens that gate the node's write
// endpoints.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"healthcoach/core/audit"
)

var ErrUnauthorized = errors.New("unauthorized")

// Issuer is the issuer claim the node issues and expects.
const Issuer = "healthcoach"

type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier signs and verifies HS256 tokens with a shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
	audit  audit.AuditLogger
}

func NewTokenVerifier(secret, issuer string, auditLog audit.AuditLogger) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, audit: audit.OrNop(auditLog)}, nil
}

// Issue returns a token for subject valid for ttl.
func (v *TokenVerifier) Issue(subject string, ttl time.Duration, roles ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (v *TokenVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			v.deny(w, r, "no bearer token")
			return
		}
		claims, err := v.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			v.deny(w, r, err.Error())
			return
		}
		v.audit.LogEvent(audit.AuditEvent{
			Timestamp: time.Now(),
			EventType: "Authorization",
			EntityID:  claims.Subject,
			Result:    audit.ResultSuccess,
			Metadata:  map[string]string{"path": r.URL.Path},
		})
		next.ServeHTTP(w, r)
	})
}

func (v *TokenVerifier) deny(w http.ResponseWriter, r *http.Request, reason string) {
	v.audit.LogEvent(audit.AuditEvent{
		Timestamp: time.Now(),
		EventType: "Authorization",
		EntityID:  r.RemoteAddr,
		Result:    audit.ResultFailure,
		Reason:    reason,
		Metadata:  map[string]string{"path": r.URL.Path},
	})
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
