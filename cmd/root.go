package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/itsmostafa/gosandbox/internal/appconfig"
	"github.com/itsmostafa/gosandbox/internal/version"
)

var configPath string
var engineName string
var policyPath string

// loaded is the configuration resolved before any subcommand runs.
var loaded appconfig.Config

var rootCmd = &cobra.Command{
	Use:   "gosandbox",
	Short: "Sandboxed line-oriented code evaluation console",
	Long: `gosandbox serves a persistent evaluation namespace over stdin/stdout.

Submitted code is framed with control bytes: 0x04 ends a message and is echoed
back once its output is written, 0x03 discards the buffered input. Imports and
builtins are limited to an allowlist.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		loaded = cfg
		logger := pslog.NewWithOptions(os.Stderr, cfg.Logging.LoggerOptions(pslog.Options{Mode: pslog.ModeConsole}))
		cmd.SetContext(pslog.ContextWithLogger(cmd.Context(), logger))
		return nil
	},
}

func init() {
	rootCmd.Version = version.Get().Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("gosandbox %s\n", version.String()))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "Evaluation engine (js, tengo)")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to a JSONC allowlist policy")
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("gosandbox command failed")
		return 1
	}
	return 0
}

// loadConfig reads the config file and applies the global flags on top.
func loadConfig(cmd *cobra.Command) (appconfig.Config, error) {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engine = engineName
	}
	if flags.Changed("policy") {
		cfg.Policy.File = policyPath
	}
	if err := cfg.Validate(); err != nil {
		return appconfig.Config{}, err
	}
	return cfg, nil
}

// consoleArgs forwards the global flags to a spawned console.
func consoleArgs(cmd *cobra.Command) []string {
	args := []string{"console"}
	flags := cmd.Flags()
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if flags.Changed("engine") {
		args = append(args, "--engine", engineName)
	}
	if flags.Changed("policy") {
		args = append(args, "--policy", policyPath)
	}
	return args
}
