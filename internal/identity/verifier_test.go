package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const project = "crowdfund-test"

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	raw, err := tok.SignedString(key)
	require.NoError(t, err)
	return raw
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		Email: "erin@example.com",
		Name:  "Erin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://securetoken.google.com/" + project,
			Audience:  jwt.ClaimStrings{project},
			Subject:   "uid-erin",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestVerify(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	v := NewVerifier(project, StaticKeySource{"k1": &key.PublicKey})
	ctx := context.Background()

	tok, err := v.Verify(ctx, sign(t, key, "k1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "uid-erin", tok.UID)
	assert.Equal(t, "erin@example.com", tok.Email)
	assert.Equal(t, "Erin", tok.Name)

	tests := []struct {
		name   string
		mutate func(*Claims)
		kid    string
		key    *rsa.PrivateKey
	}{
		{name: "wrong audience", mutate: func(c *Claims) { c.Audience = jwt.ClaimStrings{"other"} }},
		{name: "wrong issuer", mutate: func(c *Claims) { c.Issuer = "https://evil.example" }},
		{name: "expired", mutate: func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour)) }},
		{name: "no expiry", mutate: func(c *Claims) { c.ExpiresAt = nil }},
		{name: "empty subject", mutate: func(c *Claims) { c.Subject = "" }},
		{name: "unknown kid", kid: "k2"},
		{name: "missing kid", kid: "-"},
		{name: "wrong signer", key: other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			if tt.mutate != nil {
				tt.mutate(&claims)
			}
			kid := "k1"
			switch tt.kid {
			case "":
			case "-":
				kid = ""
			default:
				kid = tt.kid
			}
			signer := key
			if tt.key != nil {
				signer = tt.key
			}
			_, err := v.Verify(ctx, sign(t, signer, kid, claims))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifyRejectsHMAC(t *testing.T) {
	key := newKey(t)
	v := NewVerifier(project, StaticKeySource{"k1": &key.PublicKey})
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func selfSignedPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestGoogleKeySourceCachesUntilMaxAge(t *testing.T) {
	key := newKey(t)
	certs := map[string]string{"k1": selfSignedPEM(t, key)}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
		_ = json.NewEncoder(w).Encode(certs)
	}))
	defer srv.Close()

	src := NewGoogleKeySource(srv.URL, srv.Client())
	now := time.Now()
	src.now = func() time.Time { return now }
	ctx := context.Background()

	got, err := src.PublicKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, got.N)

	_, err = src.PublicKey(ctx, "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	now = now.Add(11 * time.Minute)
	_, err = src.PublicKey(ctx, "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())

	_, err = src.PublicKey(ctx, "rotated")
	assert.Error(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestGoogleKeySourceLimitsForcedRefreshes(t *testing.T) {
	key := newKey(t)
	certs := map[string]string{"k1": selfSignedPEM(t, key)}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=3600")
		_ = json.NewEncoder(w).Encode(certs)
	}))
	defer srv.Close()

	src := NewGoogleKeySource(srv.URL, srv.Client())
	now := time.Now()
	src.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := src.PublicKey(ctx, "k1")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err := src.PublicKey(ctx, fmt.Sprintf("forged-%d", i))
		assert.Error(t, err)
	}
	assert.EqualValues(t, 2, hits.Load())

	// known keys are still served while forced refreshes are held back
	_, err = src.PublicKey(ctx, "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())

	now = now.Add(forcedRefreshInterval + time.Second)
	_, err = src.PublicKey(ctx, "forged-again")
	assert.Error(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestVerifyWithGoogleKeySource(t *testing.T) {
	key := newKey(t)
	certs := map[string]string{"k1": selfSignedPEM(t, key)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(certs)
	}))
	defer srv.Close()

	v := NewVerifier(project, NewGoogleKeySource(srv.URL, srv.Client()))
	tok, err := v.Verify(context.Background(), sign(t, key, "k1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "uid-erin", tok.UID)
}

func TestMaxAge(t *testing.T) {
	assert.Equal(t, 600*time.Second, maxAge("public, max-age=600"))
	assert.Equal(t, time.Hour, maxAge("no-cache"))
	assert.Equal(t, time.Hour, maxAge("max-age=abc"))
}
