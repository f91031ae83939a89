package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from path, layered over the defaults and under
// GOSANDBOX_ environment overrides. An empty path or a missing file leaves
// the defaults in place.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("engine", cfg.Engine)
	v.SetDefault("name", cfg.Name)
	v.SetDefault("policy.file", cfg.Policy.File)
	v.SetDefault("policy.modules", cfg.Policy.Modules)
	v.SetDefault("policy.builtins", cfg.Policy.Builtins)
	v.SetDefault("limits.max_call_stack", cfg.Limits.MaxCallStack)
	v.SetDefault("limits.max_allocs", cfg.Limits.MaxAllocs)
	v.SetDefault("limits.max_output_chars", cfg.Limits.MaxOutputChars)
	v.SetDefault("fetch.enabled", cfg.Fetch.Enabled)
	v.SetDefault("fetch.timeout", cfg.Fetch.Timeout)
	v.SetDefault("fetch.allowed_hosts", cfg.Fetch.AllowedHosts)
	v.SetDefault("fs.root", cfg.FS.Root)
	v.SetDefault("fs.max_file_size", cfg.FS.MaxFileSize)
	v.SetDefault("logging.level", cfg.Logging.Level)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("%w: reading %s: %w", ErrConfiguration, path, err)
			}
		}
	}

	// Decode into a zero value: decoding over the defaults would merge
	// lists instead of replacing them.
	cfg = Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes the default config to path.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
