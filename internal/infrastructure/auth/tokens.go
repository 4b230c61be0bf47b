// Package auth validates bearer tokens presented to the stream gateway.
// Token issuance lives elsewhere; this package only verifies signatures
// and extracts the caller's identity and per-dataset grants.
package auth

import (
	"context"
	"crypto"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datacatalyst/streamhub/internal/domain"
)

// ErrInvalidToken is returned when a token is missing, malformed,
// expired, or signed by an unknown key.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims holds the JWT claims carried by an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Teams  []string            `json:"teams,omitempty"`
	Grants map[string][]string `json:"grants,omitempty"`
}

// TokenValidator verifies RS256/ES256 access tokens against a public key
// and maps their claims onto a domain.Token.
type TokenValidator struct {
	publicKey crypto.PublicKey
	issuer    string
	audience  string
}

// NewTokenValidator returns a validator for tokens signed by the private
// counterpart of publicKey with the given issuer and audience claims.
func NewTokenValidator(publicKey crypto.PublicKey, issuer, audience string) *TokenValidator {
	return &TokenValidator{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
	}
}

// ParsePublicKey decodes a PEM-encoded RSA or ECDSA public key.
func ParsePublicKey(pemBytes []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
		return key, nil
	}
	return nil, errors.New("auth: public key is neither RSA nor ECDSA PEM")
}

// Validate parses and validates the bearer token (signature, exp, iss,
// aud) and returns the caller's Token. Implements domain.TokenValidator.
func (v *TokenValidator) Validate(ctx context.Context, bearer string) (*domain.Token, error) {
	if bearer == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(bearer, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return v.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return v.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != v.issuer {
		return nil, ErrInvalidToken
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == v.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrInvalidToken
	}

	grants := make(map[string][]domain.Permission, len(claims.Grants))
	for dataset, perms := range claims.Grants {
		converted := make([]domain.Permission, 0, len(perms))
		for _, p := range perms {
			converted = append(converted, domain.Permission(p))
		}
		grants[dataset] = converted
	}
	return &domain.Token{
		UserID:  claims.Subject,
		TeamIDs: claims.Teams,
		Grants:  grants,
	}, nil
}
