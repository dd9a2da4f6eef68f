package session

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// StorageKey is the key under which a session Record is persisted.
const StorageKey = "auth.session"

// millisecondThreshold separates Unix seconds from Unix milliseconds.
// 1e11 seconds is in the year 5138.
const millisecondThreshold = 1e11

// Record is the persisted session schema.
// A nil field is written as JSON null.
type Record struct {
	AccessToken           *string     `json:"accessToken"`
	AccessTokenExpiration *Expiration `json:"accessTokenExpiration"`
}

// Complete reports whether both the token and the expiration are present.
func (r Record) Complete() bool {
	return r.AccessToken != nil && r.AccessTokenExpiration != nil
}

// Expiration is an access token expiration as persisted in a Record.
// It is written as Unix seconds and read from numbers or strings.
type Expiration struct {
	time.Time
}

// MarshalJSON encodes the expiration as Unix seconds.
func (e Expiration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(e.Unix(), 10)), nil
}

// UnmarshalJSON decodes a JSON number or string.
func (e *Expiration) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		e.Time = time.Time{}
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("session: invalid expiration: %w", err)
		}
		t, err := ParseExpiration(s)
		if err != nil {
			return err
		}
		e.Time = t
		return nil
	}

	t, err := ParseExpiration(raw)
	if err != nil {
		return err
	}
	e.Time = t
	return nil
}

// ParseExpiration parses Unix seconds, Unix milliseconds or an RFC 3339 timestamp.
func ParseExpiration(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("session: empty expiration")
	}

	if n, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, fmt.Errorf("session: invalid expiration %q", value)
		}
		if math.Abs(n) >= millisecondThreshold {
			return time.UnixMilli(int64(n)), nil
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("session: invalid expiration %q: %w", value, err)
	}
	return t, nil
}
