package config

import "time"

const (
	DefaultPrefix      = "mc_"
	DefaultRecordFile  = "last_hash.txt"
	DefaultLogFile     = "backup_log.txt"
	DefaultHistoryDB   = "history.db"
	DefaultLocalMaxAge = 7 * 24 * time.Hour
	DefaultRemoteKeep  = 5
)

func defaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			Dirs:      []string{"world", "world_nether", "world_the_end"},
			Optional:  []string{},
			Recursive: false,
		},
		Backup: BackupConfig{
			Dir:              "backups",
			Prefix:           DefaultPrefix,
			CompressionLevel: 9,
			RecordFile:       DefaultRecordFile,
			LogFile:          DefaultLogFile,
			HistoryDB:        DefaultHistoryDB,
		},
		Retention: RetentionConfig{
			LocalMaxAge: DefaultLocalMaxAge,
			RemoteKeep:  DefaultRemoteKeep,
		},
		Remote: RemoteConfig{
			Enabled: true,
			Backend: "minio",
			UseSSL:  true,
			Timeout: 10 * time.Minute,
		},
		Notify: NotifyConfig{
			Discord: DiscordConfig{
				Username: "World Backup",
				Timeout:  15 * time.Second,
			},
			Email: EmailConfig{
				Host:    "smtp.gmail.com",
				Port:    587,
				To:      []string{},
				UseTLS:  true,
				Timeout: 30 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
