package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/gosandbox/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "gosandbox %s\n", version.String())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
