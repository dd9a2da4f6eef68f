package tokenclaims

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when a token carries no usable "exp" claim.
// Opaque (non-JWT) tokens report ErrNoExpiry from UnverifiedParser.
var ErrNoExpiry = errors.New("tokenclaims: token has no expiry claim")

// Logger is an interface for optional logging.
type Logger interface {
	Printf(format string, args ...any)
}

// ExpiryParser derives the expiration of an access token.
type ExpiryParser interface {
	Expiry(ctx context.Context, token string) (time.Time, error)
}

var validMethods = []string{
	jwt.SigningMethodRS256.Name,
	jwt.SigningMethodRS384.Name,
	jwt.SigningMethodRS512.Name,
	jwt.SigningMethodES256.Name,
	jwt.SigningMethodES384.Name,
	jwt.SigningMethodES512.Name,
}

// UnverifiedParser reads the "exp" claim without verifying the signature.
// Use it only with tokens obtained directly from a trusted token endpoint.
type UnverifiedParser struct{}

// Expiry implements ExpiryParser.
func (UnverifiedParser) Expiry(_ context.Context, token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, ErrNoExpiry
	}
	return expiryFromClaims(claims)
}

// JWKSParser verifies tokens against a JWKS endpoint before reading "exp".
type JWKSParser struct {
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
	logger   Logger
}

// NewJWKSParser creates a verifying parser.
//
// Parameters:
//   - jwksURL: JWKS endpoint (required)
//   - issuer: expected "iss" claim (optional)
//   - audience: expected "aud" entry (optional)
//   - httpClient: client used to fetch keys (defaults to http.DefaultClient)
//   - cacheTTL: key refresh interval (defaults to one hour)
//   - logger: optional logger for key refresh errors
func NewJWKSParser(jwksURL, issuer, audience string, httpClient *http.Client, cacheTTL time.Duration, logger Logger) (*JWKSParser, error) {
	if jwksURL == "" {
		return nil, errors.New("tokenclaims: JWKS URL is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}

	options := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			if logger != nil {
				logger.Printf("tokenclaims: JWKS refresh error: %v", err)
			}
		},
		RefreshInterval:   cacheTTL,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
		Client:            httpClient,
	}

	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, fmt.Errorf("tokenclaims: failed to initialize JWKS: %w", err)
	}

	return &JWKSParser{
		jwks:     jwks,
		issuer:   issuer,
		audience: audience,
		logger:   logger,
	}, nil
}

// Expiry implements ExpiryParser. The signature, issuer and audience are verified;
// an expired token is accepted and reports its past expiration.
func (p *JWKSParser) Expiry(_ context.Context, token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, p.jwks.Keyfunc,
		jwt.WithValidMethods(validMethods),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("tokenclaims: token verification failed: %w", err)
	}
	if !parsed.Valid {
		return time.Time{}, errors.New("tokenclaims: token is invalid")
	}

	if err := p.checkClaims(claims); err != nil {
		return time.Time{}, err
	}

	exp, err := expiryFromClaims(claims)
	if err != nil {
		return time.Time{}, err
	}

	if p.logger != nil {
		p.logger.Printf("tokenclaims: verified token expiring at %s", exp.Format(time.RFC3339))
	}
	return exp, nil
}

func (p *JWKSParser) checkClaims(claims jwt.MapClaims) error {
	if p.issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("tokenclaims: invalid issuer claim: %w", err)
		}
		if iss != p.issuer {
			return fmt.Errorf("tokenclaims: invalid issuer: expected %s, got %s", p.issuer, iss)
		}
	}

	if p.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return fmt.Errorf("tokenclaims: invalid audience claim: %w", err)
		}
		if !slices.Contains(aud, p.audience) {
			return fmt.Errorf("tokenclaims: invalid audience: expected %s in %v", p.audience, []string(aud))
		}
	}
	return nil
}

// Close stops the background key refresh.
func (p *JWKSParser) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

func expiryFromClaims(claims jwt.MapClaims) (time.Time, error) {
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("tokenclaims: invalid expiry claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}
