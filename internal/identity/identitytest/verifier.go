// Package identitytest provides a token verifier for handler tests.
package identitytest

import (
	"context"

	"crowdfunding/internal/identity"
)

// Verifier accepts exactly the raw tokens it maps
type Verifier map[string]*identity.Token

// Verify implements identity.TokenVerifier
func (v Verifier) Verify(_ context.Context, raw string) (*identity.Token, error) {
	if tok, ok := v[raw]; ok {
		return tok, nil
	}
	return nil, identity.ErrInvalidToken
}
