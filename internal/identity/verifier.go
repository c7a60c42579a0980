// Package identity verifies ID tokens issued by the Firebase identity provider.
package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every verification failure
var ErrInvalidToken = errors.New("invalid identity token")

// Token is the verified identity carried by an ID token
type Token struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Claims are the ID token claims the service reads
type Claims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// KeySource resolves the signing key for a token's kid header
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// TokenVerifier is implemented by Verifier and by test doubles
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Token, error)
}

// Verifier checks RS256 ID tokens for one project
type Verifier struct {
	projectID string
	keys      KeySource
	leeway    time.Duration
}

// NewVerifier creates a verifier for projectID using keys
func NewVerifier(projectID string, keys KeySource) *Verifier {
	return &Verifier{projectID: projectID, keys: keys, leeway: 5 * time.Second}
}

// Issuer returns the expected iss claim
func (v *Verifier) Issuer() string {
	return "https://securetoken.google.com/" + v.projectID
}

// Verify parses raw and validates signature, issuer, audience, expiry and subject
func (v *Verifier) Verify(ctx context.Context, raw string) (*Token, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return v.keys.PublicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.Issuer()),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || len(claims.Subject) > 128 {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return &Token{
		UID:           claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
