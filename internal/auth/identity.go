// Package auth resolves the calling identity at the transport boundary.
//
// Two modes are supported:
//   - trusted gateway: the identity is taken from the x-user-id header or
//     metadata forwarded by the Gateway;
//   - verified tokens: when a signing secret is configured, callers must
//     present an HS256 bearer token whose subject is their identity and whose
//     "kind" claim says whether a human or a program holds it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"jobmate/escrow-service/internal/escrow"
)

// Kind classifies the verified holder of an identity.
type Kind string

const (
	KindHuman   Kind = "human"
	KindProgram Kind = "program"
)

// Caller is the identity resolved for a request.
type Caller struct {
	ID   escrow.Identity
	Kind Kind
}

// ErrUnauthenticated is returned when no usable identity is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are the JWT claims expected from the Gateway.
type Claims struct {
	jwt.RegisteredClaims
	Kind Kind `json:"kind"`
}

// Verifier resolves callers from request credentials.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a Verifier. An empty secret selects trusted-gateway mode.
func NewVerifier(secret string) *Verifier {
	v := &Verifier{now: time.Now}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// VerifiesTokens reports whether bearer tokens are required.
func (v *Verifier) VerifiesTokens() bool { return v.secret != nil }

// Resolve returns the caller from either the authorization value
// ("Bearer <token>") or the forwarded user id, depending on the mode.
func (v *Verifier) Resolve(authorization, userID string) (Caller, error) {
	if !v.VerifiesTokens() {
		if userID == "" {
			return Caller{}, fmt.Errorf("%w: missing x-user-id", ErrUnauthenticated)
		}
		return Caller{ID: escrow.Identity(userID), Kind: KindHuman}, nil
	}

	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return Caller{}, fmt.Errorf("%w: expected 'Bearer <token>'", ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !token.Valid {
		return Caller{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Caller{}, fmt.Errorf("%w: token subject is required", ErrUnauthenticated)
	}

	kind := claims.Kind
	if kind != KindProgram {
		kind = KindHuman
	}
	return Caller{ID: escrow.Identity(claims.Subject), Kind: kind}, nil
}

func (v *Verifier) keyFunc(*jwt.Token) (interface{}, error) { return v.secret, nil }

// Sign issues a token for id; used by tooling and tests.
func (v *Verifier) Sign(id escrow.Identity, kind Kind, ttl time.Duration) (string, error) {
	if !v.VerifiesTokens() {
		return "", errors.New("no signing secret configured")
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type callerKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
