package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-authsession/events"
	"github.com/AmmannChristian/go-authsession/httpclient"
	"github.com/AmmannChristian/go-authsession/internal/config"
	"github.com/AmmannChristian/go-authsession/metrics"
	"github.com/AmmannChristian/go-authsession/oauth2client"
	"github.com/AmmannChristian/go-authsession/redisstore"
	"github.com/AmmannChristian/go-authsession/session"
	"github.com/AmmannChristian/go-authsession/sqlstore"
	"github.com/AmmannChristian/go-authsession/tokenclaims"
	"github.com/AmmannChristian/go-authsession/tokenmanager"
)

var errNoRefresher = errors.New("no OAuth2 token endpoint configured (set oauth2.token_url or oauth2.issuer_url)")

// sessionEnv is an initialized manager together with the resources it holds.
type sessionEnv struct {
	manager *tokenmanager.Manager

	// refresh is nil when no token endpoint is configured.
	refresh events.RefreshFunc

	closers []func()
}

// Close releases the resources in reverse order of acquisition.
func (e *sessionEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// openSession builds the store, parser, metrics and refresher from the
// configuration and initializes a manager with the persisted session.
func (a *app) openSession(ctx context.Context) (env *sessionEnv, err error) {
	env = &sessionEnv{}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	store, closeStore, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, closeStore)

	opts := []tokenmanager.Option{tokenmanager.WithLogger(&a.logger)}

	switch {
	case a.cfg.JWKS.URL != "":
		parser, err := tokenclaims.NewJWKSParser(a.cfg.JWKS.URL, a.cfg.JWKS.Issuer, a.cfg.JWKS.Audience, nil, a.cfg.JWKS.CacheTTL, &a.logger)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, parser.Close)
		opts = append(opts, tokenmanager.WithExpiryParser(parser))
	case a.cfg.Introspection.URL != "":
		in := a.cfg.Introspection
		parser, err := tokenclaims.NewIntrospectionParser(in.URL, in.ClientID, in.ClientSecret, in.Audience, nil, &a.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tokenmanager.WithExpiryParser(parser))
	default:
		opts = append(opts, tokenmanager.WithExpiryParser(tokenclaims.UnverifiedParser{}))
	}

	if a.cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			return nil, fmt.Errorf("metrics listener: %w", err)
		}
		env.closers = append(env.closers, serveMetrics(ln, reg, a))
		opts = append(opts, tokenmanager.WithMetrics(metrics.NewMetrics(reg)))
	}

	if a.cfg.OAuth2.Enabled() {
		refresh, err := a.newRefresh(ctx)
		if err != nil {
			return nil, err
		}
		env.refresh = refresh
	}

	env.manager = tokenmanager.New(store, opts...)
	err = env.manager.Initialize(ctx, tokenmanager.Config{
		CSRFToken: a.cfg.CSRFToken,
		Events: events.Handlers{
			Login:           func() { a.logger.Debug().Msg("session active") },
			Logout:          func() { a.logger.Info().Msg("session logged out") },
			TokenExpiration: env.refresh,
		},
	})
	if err != nil {
		return nil, err
	}

	return env, nil
}

// newRefresh builds the refresh-token grant for the tokenExpiration event.
func (a *app) newRefresh(ctx context.Context) (events.RefreshFunc, error) {
	o := a.cfg.OAuth2
	clientOpts := []oauth2client.Option{oauth2client.WithLogger(&a.logger)}

	var r *oauth2client.Refresher
	if o.IssuerURL != "" {
		var err error
		r, err = oauth2client.NewOIDCRefresher(ctx, o.IssuerURL, o.ClientID, o.ClientSecret, o.RefreshToken, clientOpts...)
		if err != nil {
			return nil, err
		}
	} else {
		r = oauth2client.NewRefresher(&oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.TokenURL},
			Scopes:       o.Scopes,
		}, o.RefreshToken, clientOpts...)
	}

	return func(ctx context.Context) (*session.Token, error) {
		before := r.RefreshToken()
		tok, err := r.Refresh(ctx)
		if err == nil && r.RefreshToken() != before {
			a.logger.Warn().Msg("refresh token rotated; update oauth2.refresh_token before the old one expires")
		}
		return tok, err
	}, nil
}

// httpClient returns a client whose requests go through m.
func (a *app) httpClient(m *tokenmanager.Manager) (*http.Client, error) {
	h := a.cfg.HTTP
	b := httpclient.NewBuilder().
		WithTokenManager(m).
		WithTimeout(h.Timeout)
	if h.CAFile != "" || h.CertFile != "" || h.KeyFile != "" {
		b = b.WithTLS(h.CAFile, h.CertFile, h.KeyFile)
	}
	if h.InsecureSkipVerify {
		a.logger.Warn().Msg("TLS certificate verification disabled")
		b = b.WithInsecureSkipVerify()
	}
	return b.Build()
}

func noop() {}

// openStore returns the configured session store and its close function.
func openStore(ctx context.Context, cfg config.StoreConfig) (session.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return session.NewMemoryStore(), noop, nil

	case config.BackendFile:
		fs := session.NewFileStore(cfg.Path)
		if cfg.Key != "" {
			fs = fs.WithKey(cfg.Key)
		}
		return fs, noop, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		var opts []redisstore.Option
		if cfg.RedisPrefix != "" {
			opts = append(opts, redisstore.WithPrefix(cfg.RedisPrefix))
		}
		if cfg.RedisTTL > 0 {
			opts = append(opts, redisstore.WithTTL(cfg.RedisTTL))
		}
		return redisstore.New(client, opts...), func() { _ = client.Close() }, nil

	case config.BackendSQLite, config.BackendPostgres:
		var (
			db  *sql.DB
			err error
		)
		if cfg.Backend == config.BackendSQLite {
			db, err = sqlstore.OpenSQLite(ctx, cfg.Path)
		} else {
			db, err = sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
		}
		if err != nil {
			return nil, nil, err
		}

		var opts []sqlstore.Option
		if cfg.Table != "" {
			opts = append(opts, sqlstore.WithTable(cfg.Table))
		}
		if cfg.Key != "" {
			opts = append(opts, sqlstore.WithKey(cfg.Key))
		}
		store := sqlstore.New(db, opts...)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// serveMetrics exposes reg on ln until the returned function is called.
func serveMetrics(ln net.Listener, reg *prometheus.Registry, a *app) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	a.logger.Debug().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
