package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-authsession/tokenmanager"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		headers []string
		include bool
	)

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Send an authenticated GET request",
		Long: `Send a GET request carrying the session's Authorization and X-CSRF-Token
headers and print the response body.

A 401 response refreshes the token once through the configured OAuth2 token
endpoint and replays the request. A failed refresh logs the session out.

Example:
  authsession get https://api.example.com/me -H "Accept: application/json"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, args[0], nil)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok || strings.TrimSpace(name) == "" {
					return fmt.Errorf("get: invalid header %q, want \"Name: value\"", h)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			env, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			client, err := a.httpClient(env.manager)
			if err != nil {
				return err
			}

			resp, err := client.Do(req)
			if err != nil {
				if errors.Is(err, tokenmanager.ErrRefreshFailed) {
					return fmt.Errorf("get: session expired, run \"authsession login\": %w", err)
				}
				return fmt.Errorf("get: %w", err)
			}
			defer resp.Body.Close()

			out := cmd.OutOrStdout()
			if include {
				fmt.Fprintf(out, "%s %s\n", resp.Proto, resp.Status)
				if err := resp.Header.Write(out); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
			if _, err := io.Copy(out, resp.Body); err != nil {
				return fmt.Errorf("get: read body: %w", err)
			}

			if resp.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("get: %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header \"Name: value\" (repeatable)")
	cmd.Flags().BoolVarP(&include, "include", "i", false, "print the status line and response headers")

	return cmd
}
