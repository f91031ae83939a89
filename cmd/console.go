package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/itsmostafa/gosandbox/internal/appconfig"
	"github.com/itsmostafa/gosandbox/internal/console"
	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/engine/jsengine"
	"github.com/itsmostafa/gosandbox/internal/engine/tengoengine"
)

var engines = map[string]engine.Engine{
	jsengine.Name:    jsengine.New(),
	tengoengine.Name: tengoengine.New(),
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Serve the framed console protocol on stdin/stdout",
	Long: `Serve one persistent namespace on stdin/stdout until stdin closes.

Diagnostics go to stderr; stdout carries only evaluation output and the
0x04 acknowledgments.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, closeFn, err := newNamespace(loaded)
		if err != nil {
			return err
		}
		defer closeFn()

		c := console.New(ns, console.Options{
			In:             cmd.InOrStdin(),
			Out:            cmd.OutOrStdout(),
			Logger:         pslog.Ctx(cmd.Context()),
			Name:           loaded.Name,
			MaxOutputChars: loaded.Limits.MaxOutputChars,
		})
		return c.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

// newNamespace creates a namespace for the configured engine.
func newNamespace(cfg appconfig.Config) (engine.Namespace, func() error, error) {
	eng, ok := engines[cfg.Engine]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown engine %q", appconfig.ErrConfiguration, cfg.Engine)
	}
	opts, closeFn, err := cfg.EngineOptions()
	if err != nil {
		return nil, nil, err
	}
	ns, err := eng.NewNamespace(opts)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating %s namespace: %w", eng.Name(), err)
	}
	return ns, closeFn, nil
}
