package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func getCmdConfig(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved browser settings",
		Long: `Print the browser settings resolved from the defaults, the config file,
the BROWSER_SESSION_* environment variables and the command line flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := gs.settings()
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding settings: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}
