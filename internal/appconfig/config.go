package appconfig

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/itsmostafa/gosandbox/internal/capability"
	"github.com/itsmostafa/gosandbox/internal/engine"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

// ErrConfiguration matches every configuration problem.
var ErrConfiguration = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. GOSANDBOX_ENGINE or
// GOSANDBOX_LIMITS_MAX_CALL_STACK.
const EnvPrefix = "GOSANDBOX"

// Engines lists the accepted values of the engine key.
var Engines = []string{"js", "tengo"}

// Config is the top-level application configuration.
type Config struct {
	Engine  string        `mapstructure:"engine" yaml:"engine"`
	Name    string        `mapstructure:"name" yaml:"name"`
	Policy  PolicyConfig  `mapstructure:"policy" yaml:"policy"`
	Limits  LimitsConfig  `mapstructure:"limits" yaml:"limits"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	FS      FSConfig      `mapstructure:"fs" yaml:"fs"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// PolicyConfig holds the allowlists. A policy file replaces both lists.
type PolicyConfig struct {
	File     string   `mapstructure:"file" yaml:"file"`
	Modules  []string `mapstructure:"modules" yaml:"modules"`
	Builtins []string `mapstructure:"builtins" yaml:"builtins"`
}

// LimitsConfig bounds evaluation.
type LimitsConfig struct {
	MaxCallStack   int   `mapstructure:"max_call_stack" yaml:"max_call_stack"`
	MaxAllocs      int64 `mapstructure:"max_allocs" yaml:"max_allocs"`
	MaxOutputChars int   `mapstructure:"max_output_chars" yaml:"max_output_chars"`
}

// FetchConfig controls the fetch builtin. It is off unless enabled.
type FetchConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	AllowedHosts []string      `mapstructure:"allowed_hosts" yaml:"allowed_hosts"`
}

// FSConfig exposes a read-only directory as the fs module when Root is set.
type FSConfig struct {
	Root        string `mapstructure:"root" yaml:"root"`
	MaxFileSize int64  `mapstructure:"max_file_size" yaml:"max_file_size"`
}

// LoggingConfig controls the diagnostic logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Engine: "js",
		Name:   "Sandbox Console",
		Policy: PolicyConfig{
			Modules:  slices.Clone(policy.DefaultModules),
			Builtins: slices.Clone(policy.DefaultBuiltins),
		},
		Limits: LimitsConfig{
			MaxCallStack: 500,
			MaxAllocs:    5_000_000,
		},
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			AllowedHosts: []string{},
		},
		FS: FSConfig{
			MaxFileSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports every problem in one error wrapping ErrConfiguration.
func (c Config) Validate() error {
	var problems []string
	if !slices.Contains(Engines, c.Engine) {
		problems = append(problems, fmt.Sprintf("engine must be one of %s, got %q", strings.Join(Engines, ", "), c.Engine))
	}
	if c.Limits.MaxCallStack < 0 {
		problems = append(problems, "limits.max_call_stack must not be negative")
	}
	if c.Limits.MaxOutputChars < 0 {
		problems = append(problems, "limits.max_output_chars must not be negative")
	}
	if c.Fetch.Timeout < 0 {
		problems = append(problems, "fetch.timeout must not be negative")
	}
	if c.FS.MaxFileSize <= 0 {
		problems = append(problems, "fs.max_file_size must be positive")
	}
	if _, ok := levels[strings.ToLower(c.Logging.Level)]; !ok {
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of trace, debug, info, warn, error", c.Logging.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// BuildPolicy returns the effective allowlist. An enabled fetch adds the
// fetch builtin and a configured fs root adds the fs module; both are the
// operator's sign-off.
func (c Config) BuildPolicy() (*policy.Policy, error) {
	var p *policy.Policy
	if c.Policy.File != "" {
		parsed, err := policy.ParseFile(c.Policy.File)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		p = parsed
	} else {
		p = policy.New(c.Policy.Modules, c.Policy.Builtins)
	}

	var modules, builtins []string
	if c.Fetch.Enabled {
		builtins = append(builtins, "fetch")
	}
	if c.FS.Root != "" {
		modules = append(modules, "fs")
	}
	if len(modules) > 0 || len(builtins) > 0 {
		p = p.With(modules, builtins)
	}
	return p, nil
}

// EngineOptions builds the namespace options. The returned close function
// releases the fs root and is always safe to call.
func (c Config) EngineOptions() (engine.Options, func() error, error) {
	p, err := c.BuildPolicy()
	if err != nil {
		return engine.Options{}, nil, err
	}

	opts := engine.Options{
		Policy:       p,
		MaxCallStack: c.Limits.MaxCallStack,
		MaxAllocs:    c.Limits.MaxAllocs,
	}
	if c.Fetch.Enabled {
		opts.Fetcher = capability.NewFetcher(c.Fetch.Timeout, c.Fetch.AllowedHosts)
	}

	closeFn := func() error { return nil }
	if c.FS.Root != "" {
		fsys, err := capability.OpenFS(c.FS.Root)
		if err != nil {
			return engine.Options{}, nil, fmt.Errorf("%w: fs.root: %w", ErrConfiguration, err)
		}
		fsys.MaxFileSize = c.FS.MaxFileSize
		opts.FS = fsys
		closeFn = fsys.Close
	}
	return opts, closeFn, nil
}

var levels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {},
}

// LoggerOptions applies the configured level to base.
func (c LoggingConfig) LoggerOptions(base pslog.Options) pslog.Options {
	switch strings.ToLower(c.Level) {
	case "trace":
		base.MinLevel = pslog.TraceLevel
	case "debug":
		base.MinLevel = pslog.DebugLevel
	case "warn":
		base.MinLevel = pslog.WarnLevel
	case "error":
		base.MinLevel = pslog.ErrorLevel
	default:
		base.MinLevel = pslog.InfoLevel
	}
	return base
}
