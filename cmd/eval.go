package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/gosandbox/internal/host"
	"github.com/itsmostafa/gosandbox/internal/render"
)

var errEvalFailed = errors.New("evaluation failed")

var evalCode string

var evalCmd = &cobra.Command{
	Use:   "eval [file]",
	Short: "Evaluate code once and print the reply",
	Long: `Evaluate code from -e, a file, or stdin ("-") in a fresh console
subprocess and print its output. Exits non-zero when the reply is an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := evalSource(cmd, args)
		if err != nil {
			return err
		}

		client, err := host.Start(cmd.Context(), host.Options{Args: consoleArgs(cmd)})
		if err != nil {
			return err
		}
		reply, sendErr := client.Send(code)
		closeErr := client.Close()
		if sendErr != nil {
			return sendErr
		}
		if closeErr != nil {
			return closeErr
		}

		render.FormatReply(cmd.OutOrStdout(), reply, false)
		if render.IsError(reply.Output) {
			return errEvalFailed
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVarP(&evalCode, "exec", "e", "", "Code to evaluate")
	rootCmd.AddCommand(evalCmd)
}

// evalSource picks the code from -e or the file argument.
func evalSource(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case cmd.Flags().Changed("exec") && len(args) > 0:
		return "", fmt.Errorf("use either -e or a file, not both")
	case cmd.Flags().Changed("exec"):
		return evalCode, nil
	case len(args) == 0:
		return "", fmt.Errorf("nothing to evaluate: pass -e or a file")
	case args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", args[0], err)
		}
		return string(data), nil
	}
}
