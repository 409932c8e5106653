package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no explicit path is given.
var DefaultConfigPaths = []string{
	"worldbackup.yaml",
	"worldbackup.yml",
	"/etc/worldbackup/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "WBACKUP_CONFIG"

// EnvPrefix marks environment variables that map onto config keys.
// WBACKUP_RETENTION__REMOTE_KEEP sets retention.remote_keep.
const EnvPrefix = "WBACKUP_"

// legacyEnv maps variable names from older deployments of the backup script.
var legacyEnv = map[string]string{
	"DISCORD_WEBHOOK_URL":    "notify.discord.webhook_url",
	"EMAIL_USER":             "notify.email.username",
	"EMAIL_PASS":             "notify.email.password",
	"EMAIL_TO":               "notify.email.to",
	"COMPRESSION_LEVEL":      "backup.compression_level",
	"GOOGLE_DRIVE_FOLDER_ID": "remote.bucket",
}

var sliceConfigPaths = []string{
	"sources.dirs",
	"sources.optional",
	"notify.email.to",
}

// Load builds a Config from defaults, the YAML file at path (or the first
// default path that exists), and the environment. The result is validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc turns an environment variable name into a koanf path.
// Unrecognised variables return "" so koanf skips them.
func envTransformFunc(key string) string {
	if mapped, ok := legacyEnv[key]; ok {
		return mapped
	}
	if key == ConfigPathEnvVar || !strings.HasPrefix(key, EnvPrefix) {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// processSliceFields splits comma-separated env values for list settings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// resolvePaths places bare state file names inside the backup directory.
func (c *Config) resolvePaths() {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) || strings.ContainsRune(p, filepath.Separator) {
			return p
		}
		return filepath.Join(c.Backup.Dir, p)
	}
	c.Backup.RecordFile = join(c.Backup.RecordFile)
	c.Backup.LogFile = join(c.Backup.LogFile)
	c.Backup.HistoryDB = join(c.Backup.HistoryDB)

	if c.Notify.Email.From == "" {
		c.Notify.Email.From = c.Notify.Email.Username
	}
}
