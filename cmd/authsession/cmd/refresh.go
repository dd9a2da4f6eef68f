package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-authsession/oauth2client"
)

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch a new access token from the OAuth2 token endpoint",
		Long: `Exchange the configured refresh token for a new access token and store it,
without waiting for a request to be rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if env.refresh == nil {
				return fmt.Errorf("refresh: %w", errNoRefresher)
			}
			if err := oauth2client.Login(ctx, env.manager, env.refresh); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}

			a.logger.Info().Msg("access token refreshed")
			return writeStatus(cmd.OutOrStdout(), newStatus(env), false)
		},
	}
}
