package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration with separate secrets file support.
// Precedence: ENV > secrets file > config file > defaults
//
// The secrets file is optional and automatically discovered:
// - Can be explicitly set via <ENV_PREFIX>_SECRETS_FILE (defaults to APP_SECRETS_FILE)
// - If configFile is "config.yaml", looks for "secrets.yaml" in same directory
// - Otherwise looks for secrets.{yaml,yml,json,toml} in the working directory
//
// The second return value holds only what the secrets file set, for Redacted.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	return l.load(true)
}

func (l *ViperLoader) readSecrets() (*viper.Viper, error) {
	secretsFile, _, err := l.discoverSecretsFile()
	if err != nil {
		return nil, err
	}
	if secretsFile == "" {
		return nil, nil
	}
	secretsViper := viper.New()
	secretsViper.SetConfigFile(secretsFile)
	if err := secretsViper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
	}
	return secretsViper, nil
}

// discoverSecretsFile finds the secrets file.
// Returns the path, whether it came from explicit env var, and an error for invalid explicit env values.
func (l *ViperLoader) discoverSecretsFile() (string, bool, error) {
	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if rawSecretsFile, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(rawSecretsFile)
		if secretsFile == "" {
			return "", true, fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(secretsFile)
		if err != nil {
			return "", true, fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, secretsFile, err)
		}
		if info.IsDir() {
			return "", true, fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, secretsFile)
		}
		return secretsFile, true, nil
	}

	if l.configFile != "" {
		secretsFile := filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile))
		if fileExists(secretsFile) {
			return secretsFile, false, nil
		}
	}

	for _, ext := range []string{".yaml", ".yml", ".json", ".toml"} {
		if secretsFile := "secrets" + ext; fileExists(secretsFile) {
			return secretsFile, false, nil
		}
	}
	return "", false, nil
}
