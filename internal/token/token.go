package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"docedit/internal/model"
)

// ErrInvalidToken is returned by Parse for bad signatures, expired tokens and
// malformed input.
var ErrInvalidToken = errors.New("invalid token")

// DocumentClaim is the document section of the capability.
type DocumentClaim struct {
	Key         string          `json:"key"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

// Claims is the signed capability handed to the document server.
type Claims struct {
	Document DocumentClaim `json:"document"`
	User     model.User    `json:"user"`
	jwt.RegisteredClaims
}

// Issuer signs capabilities with a shared HMAC secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer returns an Issuer. An empty secret is rejected.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a capability for key and user valid for ttl.
func (i *Issuer) Issue(key string, user model.User, permissions map[string]bool, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Document: DocumentClaim{Key: key, Permissions: permissions},
		User:     user,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of a capability.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
