package cmd

import (
	"github.com/spf13/cobra"

	"github.com/itsmostafa/gosandbox/internal/render"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the effective allowlist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loaded.BuildPolicy()
		if err != nil {
			return err
		}
		render.FormatPolicy(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
}
