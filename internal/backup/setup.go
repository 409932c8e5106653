package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/chmdznr/worldbackup/internal/archive"
	"github.com/chmdznr/worldbackup/internal/config"
	"github.com/chmdznr/worldbackup/internal/db"
	"github.com/chmdznr/worldbackup/internal/fingerprint"
	"github.com/chmdznr/worldbackup/internal/gate"
	"github.com/chmdznr/worldbackup/internal/logging"
	"github.com/chmdznr/worldbackup/internal/notify"
	"github.com/chmdznr/worldbackup/internal/storage"
)

// SetupOptions tweak how Setup builds collaborators.
type SetupOptions struct {
	Progress bool
	// NoRemote skips creating the storage client.
	NoRemote bool
	// NoHistory skips opening the history database.
	NoHistory bool
}

// Service is a Runner plus the resources it owns.
type Service struct {
	*Runner
	History *db.DB
	store   storage.Store
}

// Close releases the store client and history database.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.History != nil {
		errs = append(errs, s.History.Close())
	}
	return errors.Join(errs...)
}

// Setup wires the production collaborators described by cfg.
func Setup(ctx context.Context, cfg *config.Config, opts SetupOptions) (*Service, error) {
	fpOpts := fingerprint.Options{
		Recursive: cfg.Sources.Recursive,
		Optional:  cfg.SourceOptional,
	}

	arch, err := archive.New(cfg.Backup.Dir, archive.Options{
		Prefix:   cfg.Backup.Prefix,
		Level:    cfg.Backup.CompressionLevel,
		Progress: opts.Progress,
		Optional: cfg.SourceOptional,
	})
	if err != nil {
		return nil, &ConfigError{Op: "archive", Err: err}
	}

	svc := &Service{}
	deps := Deps{
		Fingerprinter: FingerprintFunc(func(dirs []string) (string, error) {
			return fingerprint.FingerprintDirs(dirs, fpOpts)
		}),
		Gate:     gate.New(cfg.Backup.RecordFile),
		Archiver: arch,
		Chat:     notify.NewDiscord(cfg.Notify.Discord, nil),
		Email:    notify.NewEmail(cfg.Notify.Email),
		Log:      NewAppendLog(cfg.Backup.LogFile),
	}

	if cfg.Remote.Enabled && !opts.NoRemote {
		store, err := storage.New(ctx, cfg.Remote, storage.Options{Progress: opts.Progress})
		if err != nil {
			deps.StoreErr = err
		} else {
			deps.Store = store
			svc.store = store
		}
	}

	if !opts.NoHistory && cfg.Backup.HistoryDB != "" {
		history, err := db.New(cfg.Backup.HistoryDB)
		if err != nil {
			logging.Warn().Err(err).Msg("Run history disabled")
		} else {
			deps.History = history
			svc.History = history
		}
	}

	runner, err := NewRunner(cfg, deps)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("creating runner: %w", err)
	}
	svc.Runner = runner
	return svc, nil
}
