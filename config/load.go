package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/listkeeper/listkeeper/errors"
)

// DefaultConfigDir is the directory searched for listkeeper.toml,
// relative to the user's home directory.
const DefaultConfigDir = ".listkeeper"

// Load reads the listkeeper configuration using viper.
// Search order: $LISTKEEPER_CONFIG, ./listkeeper.toml, ~/.listkeeper/listkeeper.toml.
// Environment variables override file values (LISTKEEPER_WORKER_WORKERS etc.).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("listkeeper")
	v.SetConfigType("toml")

	if path := os.Getenv("LISTKEEPER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
		}
	}

	v.SetEnvPrefix("LISTKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine - defaults plus env carry the daemon
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
