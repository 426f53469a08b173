package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/listkeeper/listkeeper/errors"
)

// Save writes the configuration to the given path as TOML, keeping one
// rotating backup of the previous file.
func Save(cfg *Config, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create config directory for %s", configPath)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write config to %s", configPath)
	}

	return nil
}

// createBackup copies the current config to <path>.bak before modifying it
func createBackup(configPath string) error {
	content, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil // No file to backup
	}
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(configPath+".bak", content, 0644); err != nil {
		return errors.Wrap(err, "failed to write config backup")
	}

	return nil
}
