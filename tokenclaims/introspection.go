package tokenclaims

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrInactive is returned when the introspection endpoint reports the token as inactive.
var ErrInactive = errors.New("tokenclaims: token is inactive")

// maxIntrospectionBody bounds the introspection response read into memory.
const maxIntrospectionBody = 1 << 20

// IntrospectionParser asks an RFC 7662 introspection endpoint for the expiration of
// a token. It serves opaque tokens that carry no readable claims.
type IntrospectionParser struct {
	introspectionURL string
	clientID         string
	clientSecret     string
	audience         string
	httpClient       *http.Client
	logger           Logger
}

// NewIntrospectionParser creates a parser using introspectionURL.
//
// Parameters:
//   - introspectionURL: introspection endpoint (required)
//   - clientID, clientSecret: HTTP basic credentials for the endpoint (clientID required)
//   - audience: expected "aud" entry when the response carries one (optional)
//   - httpClient: client used for introspection (defaults to http.DefaultClient)
//   - logger: optional logger
func NewIntrospectionParser(introspectionURL, clientID, clientSecret, audience string, httpClient *http.Client, logger Logger) (*IntrospectionParser, error) {
	if introspectionURL == "" {
		return nil, errors.New("tokenclaims: introspection URL is required")
	}
	if clientID == "" {
		return nil, errors.New("tokenclaims: introspection client ID is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &IntrospectionParser{
		introspectionURL: introspectionURL,
		clientID:         clientID,
		clientSecret:     clientSecret,
		audience:         audience,
		httpClient:       httpClient,
		logger:           logger,
	}, nil
}

// introspectionResponse holds the members of the response the parser reads.
type introspectionResponse struct {
	Active bool            `json:"active"`
	Exp    json.RawMessage `json:"exp"`
	Aud    json.RawMessage `json:"aud"`
}

// Expiry implements ExpiryParser. An inactive token reports ErrInactive and an
// active token without "exp" reports ErrNoExpiry. A past "exp" is returned as is.
func (p *IntrospectionParser) Expiry(ctx context.Context, token string) (time.Time, error) {
	if strings.TrimSpace(token) == "" {
		return time.Time{}, errors.New("tokenclaims: token is empty")
	}

	resp, err := p.introspect(ctx, token)
	if err != nil {
		return time.Time{}, err
	}
	if !resp.Active {
		return time.Time{}, ErrInactive
	}

	if p.audience != "" {
		audience, err := decodeAudience(resp.Aud)
		if err != nil {
			return time.Time{}, err
		}
		if len(audience) > 0 && !slices.Contains(audience, p.audience) {
			return time.Time{}, fmt.Errorf("tokenclaims: invalid audience: expected %s in %v", p.audience, audience)
		}
	}

	if len(resp.Exp) == 0 || string(resp.Exp) == "null" {
		return time.Time{}, ErrNoExpiry
	}
	exp, err := decodeUnixTime(resp.Exp)
	if err != nil {
		return time.Time{}, fmt.Errorf("tokenclaims: invalid expiry claim: %w", err)
	}

	if p.logger != nil {
		p.logger.Printf("tokenclaims: introspected token expiring at %s", exp.Format(time.RFC3339))
	}
	return exp, nil
}

func (p *IntrospectionParser) introspect(ctx context.Context, token string) (*introspectionResponse, error) {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("tokenclaims: failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.clientID, p.clientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokenclaims: introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntrospectionBody))
	if err != nil {
		return nil, fmt.Errorf("tokenclaims: failed to read introspection response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokenclaims: introspection endpoint returned status %d", resp.StatusCode)
	}

	var out introspectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("tokenclaims: invalid introspection response: %w", err)
	}
	return &out, nil
}

// decodeUnixTime accepts a JSON number or a numeric string of Unix seconds.
func decodeUnixTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		raw = []byte(s)
	}

	seconds, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(seconds), 0), nil
}

// decodeAudience accepts a single string or an array of strings.
func decodeAudience(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("tokenclaims: invalid audience claim: %w", err)
	}
	return many, nil
}
