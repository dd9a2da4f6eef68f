package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AmmannChristian/go-authsession/internal/config"
)

const configHeader = `# authsession configuration.
# Environment variables override these values, e.g. AUTHSESSION_OAUTH2_REFRESH_TOKEN.
`

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		// The file may not exist yet.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setLogger(cmd.ErrOrStderr(), a.logLevel)
		},
	}

	var (
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := writeSampleConfig(path, force); err != nil {
				return err
			}
			a.logger.Info().Str("path", path).Msg("configuration written")
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", config.FileName+".yaml", "destination file")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func writeSampleConfig(path string, force bool) error {
	data, err := yaml.Marshal(config.Sample())
	if err != nil {
		return fmt.Errorf("config init: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("config init: %s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return fmt.Errorf("config init: %w", err)
	}

	_, err = f.WriteString(configHeader + string(data))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("config init: %w", err)
	}
	return nil
}
