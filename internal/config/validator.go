package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RegisterCustomValidators registers the rules used by Config's struct tags.
func RegisterCustomValidators(v *validator.Validate) error {
	// alphanum_underscore: SQL identifiers interpolated into statements
	if err := v.RegisterValidation("alphanum_underscore", validateIdentifier); err != nil {
		return fmt.Errorf("failed to register alphanum_underscore validator: %w", err)
	}
	return nil
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}

// Validate checks struct tags and the rules spanning several fields.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if err := c.validateOAuth2(); err != nil {
		return err
	}

	return c.validateExpiry()
}

// validateStore checks that the selected backend has its connection settings.
func (c *Config) validateStore() error {
	s := c.Store
	switch s.Backend {
	case BackendFile, BackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", s.Backend)
		}
	case BackendRedis:
		if s.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	case BackendPostgres:
		if s.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres backend")
		}
	}
	return nil
}

// validateOAuth2 ensures at most one token endpoint source and a client ID.
func (c *Config) validateOAuth2() error {
	o := c.OAuth2
	if o.TokenURL != "" && o.IssuerURL != "" {
		return errors.New("oauth2: specify token_url OR issuer_url, not both")
	}
	if o.Enabled() && o.ClientID == "" {
		return errors.New("oauth2.client_id is required when a token endpoint is configured")
	}
	return nil
}

// validateExpiry ensures a single token verification source.
func (c *Config) validateExpiry() error {
	if c.JWKS.URL != "" && c.Introspection.URL != "" {
		return errors.New("specify jwks.url OR introspection.url, not both")
	}
	if c.Introspection.URL != "" && c.Introspection.ClientID == "" {
		return errors.New("introspection.client_id is required when introspection.url is set")
	}
	return nil
}

// formatValidationErrors joins validator errors into one readable error.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	case "alphanum_underscore":
		return fmt.Sprintf("%s must be a SQL identifier", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
