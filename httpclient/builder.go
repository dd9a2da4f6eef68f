package httpclient

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/AmmannChristian/go-authsession/internal/tlsconfig"
	"github.com/AmmannChristian/go-authsession/tokenmanager"
)

// DefaultTimeout is the request timeout used when WithTimeout is not called.
const DefaultTimeout = 30 * time.Second

// Builder provides a fluent interface for constructing HTTP clients whose
// requests pass through a tokenmanager interceptor, with optional TLS/mTLS.
type Builder struct {
	manager *tokenmanager.Manager

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsSkipVerify bool

	// HTTP client configuration
	timeout         time.Duration
	baseTransport   http.RoundTripper
	followRedirects bool
}

// NewBuilder creates a new HTTP client builder.
func NewBuilder() *Builder {
	return &Builder{
		timeout:         DefaultTimeout,
		followRedirects: true,
	}
}

// WithTokenManager routes every request through tm's interceptor, which attaches
// the session headers and refreshes the token on 401.
func (b *Builder) WithTokenManager(tm *tokenmanager.Manager) *Builder {
	b.manager = tm
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
func (b *Builder) WithTLS(caFile, certFile, keyFile string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	return b
}

// WithInsecureSkipVerify disables TLS certificate verification (NOT RECOMMENDED for production).
// This should only be used for testing or development purposes.
func (b *Builder) WithInsecureSkipVerify() *Builder {
	b.tlsSkipVerify = true
	return b
}

// WithTimeout sets the overall request timeout. Zero disables it.
//
// The timeout covers a request while it waits for a token refresh, so it should
// exceed the expected refresh latency.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithBaseTransport sets the transport the interceptor sends requests with.
// TLS options are ignored when a base transport is set.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.baseTransport = transport
	return b
}

// WithoutRedirects disables automatic redirect following.
func (b *Builder) WithoutRedirects() *Builder {
	b.followRedirects = false
	return b
}

// Build constructs the HTTP client with the configured options.
func (b *Builder) Build() (*http.Client, error) {
	transport, err := b.buildBaseTransport()
	if err != nil {
		return nil, err
	}

	if b.manager != nil {
		transport = b.manager.Transport(transport)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   b.timeout,
	}

	if !b.followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

func (b *Builder) buildBaseTransport() (http.RoundTripper, error) {
	if b.baseTransport != nil {
		return b.baseTransport, nil
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		// http.DefaultTransport was replaced, e.g. by a test stub; use it as is.
		return http.DefaultTransport, nil
	}

	cloned := base.Clone()
	if b.tlsEnabled || b.tlsSkipVerify {
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
		}
		cloned.TLSClientConfig = tlsConfig
	} else {
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cloned, nil
}

// buildTLSConfig constructs the TLS configuration for the HTTP client.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	return tlsconfig.Files{
		CAFile:             b.tlsCAFile,
		CertFile:           b.tlsCertFile,
		KeyFile:            b.tlsKeyFile,
		InsecureSkipVerify: b.tlsSkipVerify,
	}.Client()
}

// NewHTTPClient is a convenience function that creates an HTTP client intercepted by tm.
// For more configuration options, use Builder instead.
//
// Example:
//
//	tm := tokenmanager.New(store)
//	client := httpclient.NewHTTPClient(tm)
//	resp, err := client.Get("https://api.example.com/data")
func NewHTTPClient(tm *tokenmanager.Manager) *http.Client {
	return &http.Client{
		Transport: tm.Transport(nil),
		Timeout:   DefaultTimeout,
	}
}
