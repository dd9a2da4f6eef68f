// Package tokenclaims derives access token expirations from JWT claims.
//
// Callers that log in with only an access token can let an ExpiryParser fill in the expiration from the
// token's "exp" claim. UnverifiedParser reads the claim without checking the signature and treats opaque
// tokens as having no expiry. JWKSParser verifies the signature against a JWKS endpoint first, plus the
// issuer and audience when configured, and rejects tokens that fail verification. An expired
// token still verifies and reports its past expiration. IntrospectionParser asks an RFC 7662
// introspection endpoint, which also covers opaque tokens, and reports inactive ones with ErrInactive.
//
// # Quick Start
//
//	parser, err := tokenclaims.NewJWKSParser(
//	    "https://auth.example.com/.well-known/jwks.json",
//	    "https://auth.example.com",
//	    "my-api",
//	    nil, 0, nil,
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer parser.Close()
//
//	tm := tokenmanager.New(store, tokenmanager.WithExpiryParser(parser))
package tokenclaims
