// Package cmd provides the CLI commands for authsession.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-authsession/internal/config"
)

// app carries the state shared by the commands of one invocation.
type app struct {
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCmd builds the authsession command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "authsession",
		Short: "authsession - persisted bearer sessions for HTTP clients",
		Long: `authsession keeps an access token between invocations and sends
authenticated requests with it.

A request rejected with 401 triggers one token refresh through the configured
OAuth2 token endpoint; the request is then replayed. When the refresh fails the
session is logged out.

Configuration:
  Config is loaded from authsession.yaml in the current directory or
  $HOME/.authsession/. Create one with "authsession config init".

  Environment variables override config values with the AUTHSESSION_ prefix.
  Example: AUTHSESSION_STORE_BACKEND=redis

Library log lines are written at debug level; use --log-level debug to see them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./authsession.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newGetCmd(a),
		newRefreshCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)

	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the configuration and sets up the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(config.NewViper(a.cfgFile))
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	return a.setLogger(cmd.ErrOrStderr(), level)
}

func (a *app) setLogger(w io.Writer, level string) error {
	logger, err := newLogger(w, level)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// newLogger returns a console logger. zerolog.Logger.Printf writes at debug level.
func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	if level == "" {
		level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
