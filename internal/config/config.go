// Package config loads the agent configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "USERSTORE_AGENT"

// Config holds the agent configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// UserStore carries the raw user-store properties. Key case is not
	// preserved by viper; userstore.ParseConfig matches keys without case.
	UserStore map[string]any `mapstructure:"userstore"`
}

// LogLevelFlag is the command line flag bound to log_level.
const LogLevelFlag = "log-level"

// Load reads the configuration from cfgFile, or from the default search
// paths when cfgFile is empty. A missing default file is not an error.
// A changed LogLevelFlag in flags takes precedence over the environment
// and the file.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if flags != nil {
		if f := flags.Lookup(LogLevelFlag); f != nil {
			if err := v.BindPFlag("log_level", f); err != nil {
				return nil, fmt.Errorf("binding %s flag: %w", LogLevelFlag, err)
			}
		}
	}

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("userstore-agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "userstore-agent"))
		}
		v.AddConfigPath("/etc/userstore-agent")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.UserStore == nil {
		cfg.UserStore = map[string]any{}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Level returns the configured log level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
}

func validate(cfg *Config) error {
	if hclog.LevelFromString(cfg.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, error or off)", cfg.LogLevel)
	}
	return nil
}
