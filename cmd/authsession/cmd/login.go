package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-authsession/oauth2client"
	"github.com/AmmannChristian/go-authsession/session"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		token     string
		expires   string
		useOAuth2 bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start a session with an access token",
		Long: `Start a session and persist it in the configured store.

The token is given with --token, or obtained from the configured OAuth2 token
endpoint with --oauth2. --expires accepts a duration (1h), Unix seconds or an
RFC 3339 timestamp. Without --expires the JWT "exp" claim is used when present.

Example:
  authsession login --token "$ACCESS_TOKEN" --expires 1h
  authsession login --oauth2

Security note: --token will appear in shell history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if useOAuth2 == (token != "") {
				return errors.New("login: specify exactly one of --token or --oauth2")
			}

			var expiry time.Time
			if expires != "" {
				var err error
				if expiry, err = parseExpires(expires, time.Now()); err != nil {
					return fmt.Errorf("login: %w", err)
				}
			}

			ctx := cmd.Context()
			env, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if useOAuth2 {
				if env.refresh == nil {
					return fmt.Errorf("login: %w", errNoRefresher)
				}
				err = oauth2client.Login(ctx, env.manager, env.refresh)
			} else {
				err = env.manager.Login(ctx, token, expiry)
			}
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			a.logger.Info().Msg("logged in")
			if !env.manager.HasAccessTokenExpiration() {
				a.logger.Warn().Msg("token expiration unknown; later commands will not restore this session (pass --expires)")
			}
			return writeStatus(cmd.OutOrStdout(), newStatus(env), false)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token")
	cmd.Flags().StringVar(&expires, "expires", "", "token expiration (duration, Unix seconds or RFC 3339)")
	cmd.Flags().BoolVar(&useOAuth2, "oauth2", false, "obtain the token from the configured OAuth2 token endpoint")

	return cmd
}

// parseExpires accepts a duration relative to now or an absolute expiration.
func parseExpires(value string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(value); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("expiration %q is not in the future", value)
		}
		return now.Add(d), nil
	}
	return session.ParseExpiration(value)
}
