// Package auth implements the Auth Gate (C4) and the HTTPS-layer JWT
// issuance that backs it. Grounded on rjsadow-sortie's
// internal/plugins/auth/jwt.go for the Claims/issuance shape, and on
// original_source/nexus/src/api/jwt.rs for the exact algorithm and lifetime
// (HS512, one-year expiry) spec.md §4.4 leaves as "live in the HTTPS
// subsystem" without pinning down.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the JWT lifetime: one year, matching the original issuer.
const TokenTTL = 365 * 24 * time.Hour

// Claims is the JWT payload: subject is the user_uuid, Role mirrors the
// user's stored role at issuance time.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer mints and decodes JWTs with a single symmetric key, configured (not
// literal) per spec.md §9.
type Issuer struct {
	secret []byte
}

// NewIssuer constructs an Issuer from a configured secret. The secret must
// not be empty — callers are expected to fail startup otherwise.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret must not be empty")
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Issue mints a new token for userUUID with the given role.
func (i *Issuer) Issue(userUUID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userUUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies a token's signature and expiry and returns its claims.
// This alone is not sufficient to authenticate a session — spec.md §4.4
// requires the token to also be present in the session table, checked
// separately by Gate.Validate.
func (i *Issuer) Decode(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: decode token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("auth: token not valid")
	}
	return claims, nil
}
