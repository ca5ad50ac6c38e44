package config

import (
	"os"
	"path/filepath"
)

// ConfigEnvVar names the environment variable overriding the config path.
const ConfigEnvVar = "HOSTBRIDGE_CONFIG"

// GetConfigPath returns the configuration file path. It first checks the
// HOSTBRIDGE_CONFIG environment variable, then falls back to
// ~/.hostbridge/config.
func GetConfigPath() (string, error) {
	if configPath := os.Getenv(ConfigEnvVar); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".hostbridge", "config"), nil
}
