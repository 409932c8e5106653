// Package config loads worldbackup settings. Values are layered: built-in
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"time"
)

// Config is the full set of operational parameters for one backup run.
type Config struct {
	Sources   SourcesConfig   `koanf:"sources"`
	Backup    BackupConfig    `koanf:"backup"`
	Retention RetentionConfig `koanf:"retention"`
	Remote    RemoteConfig    `koanf:"remote"`
	Notify    NotifyConfig    `koanf:"notify"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SourcesConfig lists the world directories to fingerprint and archive.
type SourcesConfig struct {
	Dirs []string `koanf:"dirs" validate:"required,min=1,dive,required"`
	// Optional roots may be missing on disk without failing the run.
	Optional  []string `koanf:"optional"`
	Recursive bool     `koanf:"recursive"`
}

// BackupConfig controls where archives and state files live.
type BackupConfig struct {
	Dir              string `koanf:"dir" validate:"required"`
	Prefix           string `koanf:"prefix" validate:"required,excludesall=/\\"`
	CompressionLevel int    `koanf:"compression_level" validate:"min=1,max=9"`
	RecordFile       string `koanf:"record_file" validate:"required"`
	LogFile          string `koanf:"log_file" validate:"required"`
	HistoryDB        string `koanf:"history_db"`
}

// RetentionConfig holds the local age policy and the remote count policy.
type RetentionConfig struct {
	LocalMaxAge  time.Duration `koanf:"local_max_age" validate:"gt=0"`
	RemoteKeep   int           `koanf:"remote_keep" validate:"min=1"`
	RemoteFilter string        `koanf:"remote_filter"`
}

// RemoteConfig selects and configures the object store.
type RemoteConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend" validate:"oneof=minio gcs"`
	Bucket          string        `koanf:"bucket"`
	Folder          string        `koanf:"folder"`
	Endpoint        string        `koanf:"endpoint"`
	AccessKey       string        `koanf:"access_key"`
	SecretKey       string        `koanf:"secret_key"`
	Region          string        `koanf:"region"`
	UseSSL          bool          `koanf:"use_ssl"`
	CredentialsFile string        `koanf:"credentials_file"`
	Timeout         time.Duration `koanf:"timeout" validate:"gte=0"`
}

// Problem explains why uploads cannot be attempted, or returns nil when the
// remote store is usable. A disabled remote is not a problem.
func (r RemoteConfig) Problem() error {
	if !r.Enabled {
		return nil
	}
	if r.Bucket == "" {
		return errors.New("remote.bucket is not set")
	}
	if r.Backend == "minio" && r.Endpoint == "" {
		return errors.New("remote.endpoint is required for the minio backend")
	}
	return nil
}

// Configured reports whether uploads can be attempted at all.
func (r RemoteConfig) Configured() bool {
	return r.Enabled && r.Problem() == nil
}

// NotifyConfig groups the notification channels.
type NotifyConfig struct {
	Discord DiscordConfig `koanf:"discord"`
	Email   EmailConfig   `koanf:"email"`
}

// DiscordConfig configures the chat webhook.
type DiscordConfig struct {
	WebhookURL string        `koanf:"webhook_url" validate:"omitempty,url"`
	Username   string        `koanf:"username"`
	Timeout    time.Duration `koanf:"timeout" validate:"gte=0"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string   `koanf:"host"`
	Port     int      `koanf:"port" validate:"min=1,max=65535"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
	From     string   `koanf:"from" validate:"omitempty,email"`
	To       []string `koanf:"to" validate:"dive,email"`
	UseTLS   bool     `koanf:"use_tls"`
	// Timeout bounds the whole SMTP conversation, not just the dial.
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// LoggingConfig is passed through to internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SourceOptional reports whether dir was listed under sources.optional.
func (c *Config) SourceOptional(dir string) bool {
	for _, o := range c.Sources.Optional {
		if o == dir {
			return true
		}
	}
	return false
}

// RemoteFilter returns the name filter for remote pruning, falling back to the
// archive prefix.
func (c *Config) RemoteFilter() string {
	if c.Retention.RemoteFilter != "" {
		return c.Retention.RemoteFilter
	}
	return c.Backup.Prefix
}
