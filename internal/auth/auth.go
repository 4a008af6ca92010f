// Package auth verifies bearer JWTs presented to the Submission Gateway.
// Token issuance is an external collaborator (an identity provider outside
// this control plane) per spec §1's Non-goals, so this package only ever
// verifies; it never signs. Grounded on wisbric-nightowl's
// internal/auth/session.go, which uses the same github.com/go-jose/go-jose/v4
// + go-jose/go-jose/v4/jwt pair for HMAC-signed session tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

// Claims is the set of registered + custom claims the gateway relies on.
// sub identifies the user per spec §6 ("Authorization: Bearer <jwt>,
// verifies sub claim and expiry").
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

// Verifier checks bearer JWTs signed with a single shared HMAC key. The key
// is provisioned out of band (shared with whatever issues the tokens); this
// package has no opinion on how that happens.
type Verifier struct {
	key    []byte
	leeway time.Duration
	issuer string
}

var errShortSecret = errors.New("jwt signing secret must be at least 32 bytes")

// NewVerifier builds a Verifier. secret must be at least 32 bytes, matching
// the minimum HS256 key strength the teacher's SessionManager enforces.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, cperr.New("NewVerifier", cperr.KindInternal, errShortSecret)
	}
	return &Verifier{key: []byte(secret), leeway: 5 * time.Second, issuer: issuer}, nil
}

// Verify parses and validates raw (an HS256 JWT), checking signature,
// expiry, and issuer, and returns its claims. Spec §6: expired or invalid
// tokens are rejected with 401 (KindUnauthorized).
func (v *Verifier) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, cperr.New("Verify", cperr.KindUnauthorized, err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(v.key, &registered, &custom); err != nil {
		return nil, cperr.New("Verify", cperr.KindUnauthorized, err)
	}

	expected := jwt.Expected{Time: time.Now()}
	if v.issuer != "" {
		expected.Issuer = v.issuer
	}
	if err := registered.ValidateWithLeeway(expected, v.leeway); err != nil {
		return nil, cperr.New("Verify", cperr.KindUnauthorized, err)
	}
	if custom.Subject == "" {
		return nil, cperr.New("Verify", cperr.KindUnauthorized, nil)
	}
	return &custom, nil
}

type ctxKey int

const claimsKey ctxKey = 0

// Middleware authenticates every request via "Authorization: Bearer <jwt>"
// and stores the verified Claims in the request context. Spec §6's
// Submission Gateway C5 auth requirement.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":"missing bearer token","kind":"UNAUTHORIZED"}`, http.StatusUnauthorized)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			claims, err := v.Verify(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token","kind":"UNAUTHORIZED"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext retrieves the Claims a prior Middleware call stored, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}
