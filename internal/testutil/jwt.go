package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestKeyID is the "kid" of the key served by CreateJWKSServer and set by SignToken.
const TestKeyID = "test-key-1"

// TestKeyPair is an RSA key pair for signing test tokens.
type TestKeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateTestKeyPair returns a fresh 2048-bit RSA key pair.
func GenerateTestKeyPair(tb testing.TB) *TestKeyPair {
	tb.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generate RSA key: %v", err)
	}
	return &TestKeyPair{PrivateKey: key, PublicKey: &key.PublicKey}
}

// CreateJWKSServer serves publicKey as a single-key JWKS document.
func CreateJWKSServer(tb testing.TB, publicKey *rsa.PublicKey) *httptest.Server {
	tb.Helper()

	b64 := base64.RawURLEncoding.EncodeToString
	doc, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": TestKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   b64(publicKey.N.Bytes()),
			"e":   b64(big.NewInt(int64(publicKey.E)).Bytes()),
		}},
	})
	if err != nil {
		tb.Fatalf("encode JWKS: %v", err)
	}

	return NewLocalHTTPServer(tb, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
}

// JWTTestSetup bundles a key pair, its JWKS server and the expected issuer and audience.
type JWTTestSetup struct {
	KeyPair    *TestKeyPair
	JWKSServer *httptest.Server
	Issuer     string
	Audience   string
}

// NewJWTTestSetup generates keys and starts their JWKS server.
func NewJWTTestSetup(tb testing.TB) *JWTTestSetup {
	tb.Helper()

	keys := GenerateTestKeyPair(tb)
	return &JWTTestSetup{
		KeyPair:    keys,
		JWKSServer: CreateJWKSServer(tb, keys.PublicKey),
		Issuer:     "https://auth.example.com",
		Audience:   "my-api",
	}
}

// JWTClaims builds the claims of a test token. The defaults expire in one hour.
type JWTClaims struct {
	claims jwt.MapClaims
}

// NewJWTClaims starts a claim set for issuer, audience and subject.
func NewJWTClaims(issuer, audience, subject string) *JWTClaims {
	now := time.Now()
	return &JWTClaims{claims: jwt.MapClaims{
		"iss": issuer,
		"aud": []string{audience},
		"sub": subject,
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}}
}

// WithExpiry sets "exp".
func (c *JWTClaims) WithExpiry(exp time.Time) *JWTClaims {
	c.claims["exp"] = exp.Unix()
	return c
}

// WithIssuer sets "iss".
func (c *JWTClaims) WithIssuer(issuer string) *JWTClaims {
	c.claims["iss"] = issuer
	return c
}

// WithAudience sets "aud".
func (c *JWTClaims) WithAudience(audience []string) *JWTClaims {
	c.claims["aud"] = audience
	return c
}

// WithoutClaim drops key.
func (c *JWTClaims) WithoutClaim(key string) *JWTClaims {
	delete(c.claims, key)
	return c
}

// SignToken returns the RS256 compact serialization with kid TestKeyID.
func (c *JWTClaims) SignToken(tb testing.TB, privateKey *rsa.PrivateKey) string {
	tb.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c.claims)
	tok.Header["kid"] = TestKeyID

	signed, err := tok.SignedString(privateKey)
	if err != nil {
		tb.Fatalf("sign token: %v", err)
	}
	return signed
}
