package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// status is the session summary printed by status, login and refresh.
type status struct {
	LoggedIn    bool       `json:"loggedIn"`
	Token       string     `json:"token,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Expired     bool       `json:"expired"`
	CSRF        bool       `json:"csrfConfigured"`
	Refreshable bool       `json:"refreshable"`
}

func newStatus(env *sessionEnv) status {
	m := env.manager
	s := status{
		LoggedIn:    m.Active(),
		CSRF:        m.CSRFToken() != "",
		Refreshable: env.refresh != nil,
	}
	if token, ok := m.AccessToken(); ok {
		s.Token = maskToken(token)
	}
	if exp, ok := m.AccessTokenExpiration(); ok {
		s.ExpiresAt = &exp
		s.Expired = !exp.After(time.Now())
	}
	return s
}

// maskToken keeps the first and last four characters of long tokens.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func writeStatus(w io.Writer, s status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}

	fmt.Fprintf(w, "Logged in:    %s\n", yesNo(s.LoggedIn))
	if s.Token != "" {
		fmt.Fprintf(w, "Access token: %s\n", s.Token)
	}
	if s.ExpiresAt != nil {
		state := "in " + time.Until(*s.ExpiresAt).Round(time.Second).String()
		if s.Expired {
			state = "expired"
		}
		fmt.Fprintf(w, "Expires:      %s (%s)\n", s.ExpiresAt.Format(time.RFC3339), state)
	}
	fmt.Fprintf(w, "CSRF token:   %s\n", yesNo(s.CSRF))
	fmt.Fprintf(w, "Refreshable:  %s\n", yesNo(s.Refreshable))
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			return writeStatus(cmd.OutOrStdout(), newStatus(env), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
