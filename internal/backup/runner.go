package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chmdznr/worldbackup/internal/archive"
	"github.com/chmdznr/worldbackup/internal/config"
	"github.com/chmdznr/worldbackup/internal/logging"
	"github.com/chmdznr/worldbackup/internal/notify"
	"github.com/chmdznr/worldbackup/internal/retention"
	"github.com/chmdznr/worldbackup/internal/storage"
	"github.com/chmdznr/worldbackup/pkg/models"
	"github.com/chmdznr/worldbackup/pkg/utils"
)

// Fingerprinter digests the source directories.
type Fingerprinter interface {
	Compute(dirs []string) (string, error)
}

// FingerprintFunc adapts a function to Fingerprinter.
type FingerprintFunc func(dirs []string) (string, error)

func (f FingerprintFunc) Compute(dirs []string) (string, error) { return f(dirs) }

// ChangeGate decides whether a fingerprint needs a backup and records it.
type ChangeGate interface {
	ShouldBackup(current string) (bool, error)
	Commit(ctx context.Context, fp string) error
}

// Archiver builds the local archive.
type Archiver interface {
	Create(ctx context.Context, sources []string) (models.BackupArtifact, error)
}

// BackupLog records completed backups.
type BackupLog interface {
	Append(name string, at time.Time) error
}

// HistoryStore persists run records.
type HistoryStore interface {
	SaveRun(run *models.RunRecord) error
}

// Deps are the collaborators of a Runner. Store, Chat, Email, Log and History
// may be nil; the matching steps are then skipped.
type Deps struct {
	Fingerprinter Fingerprinter
	Gate          ChangeGate
	Archiver      Archiver
	Store         storage.Store
	// StoreErr explains why Store is nil although remote storage is enabled.
	StoreErr     error
	Chat         notify.Notifier
	Email        notify.Notifier
	LocalDeleter retention.LocalDeleter
	Log          BackupLog
	History      HistoryStore
	Now          func() time.Time
}

// Runner executes backup runs for one configuration.
type Runner struct {
	cfg  *config.Config
	deps Deps
	now  func() time.Time
}

// NewRunner returns a Runner. Fingerprinter, Gate and Archiver are required.
func NewRunner(cfg *config.Config, deps Deps) (*Runner, error) {
	if deps.Fingerprinter == nil || deps.Gate == nil || deps.Archiver == nil {
		return nil, errors.New("backup: fingerprinter, gate and archiver are required")
	}
	if deps.LocalDeleter == nil {
		deps.LocalDeleter = retention.FileDeleter{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{cfg: cfg, deps: deps, now: now}, nil
}

func (r *Runner) newSummary(dryRun bool) *Summary {
	return &Summary{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
		DryRun:    dryRun,
	}
}

func (r *Runner) retention() *retention.Manager {
	var remote retention.RemoteDeleter
	if r.deps.Store != nil {
		remote = r.deps.Store
	}
	m := retention.NewManager(retention.Policy{
		MaxAge: r.cfg.Retention.LocalMaxAge,
		Keep:   r.cfg.Retention.RemoteKeep,
		Filter: r.cfg.RemoteFilter(),
	}, r.deps.LocalDeleter, remote)
	m.SetClock(r.now)
	return m
}

// Check computes the current fingerprint and reports whether it differs from
// the record. Nothing is written.
func (r *Runner) Check() (fp string, changed bool, err error) {
	fp, err = r.deps.Fingerprinter.Compute(r.cfg.Sources.Dirs)
	if err != nil {
		return "", false, &IOError{Op: "fingerprint", Err: err}
	}
	changed, err = r.deps.Gate.ShouldBackup(fp)
	if err != nil {
		return fp, false, &IOError{Op: "read fingerprint record", Err: err}
	}
	return fp, changed, nil
}

// Run performs one backup. The returned error is non-nil only for fatal
// failures (fingerprint, archive, upload); the Summary is always returned.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	return r.run(ctx, false)
}

// DryRun fingerprints and reports whether a backup would be made, without
// archiving, uploading or deleting anything.
func (r *Runner) DryRun(ctx context.Context) (*Summary, error) {
	return r.run(ctx, true)
}

func (r *Runner) run(ctx context.Context, dryRun bool) (*Summary, error) {
	s := r.newSummary(dryRun)
	log := logging.With().Str("run_id", s.RunID).Logger()
	log.Info().Strs("sources", r.cfg.Sources.Dirs).Bool("dry_run", dryRun).Msg("Backup run started")

	// FINGERPRINT
	start := r.now()
	fp, changed, err := r.Check()
	if err != nil {
		s.add(StepResult{Step: StepFingerprint, Status: StatusFailed, Err: err, Duration: r.now().Sub(start)})
		return r.fail(s, err)
	}
	s.Fingerprint = fp
	if !changed {
		s.add(StepResult{Step: StepFingerprint, Status: StatusOK, Detail: "unchanged since last backup", Duration: r.now().Sub(start)})
		s.Outcome = models.OutcomeSkipped
		log.Info().Str("fingerprint", fp).Msg("World unchanged, skipping backup")
		return r.end(s), nil
	}
	s.add(StepResult{Step: StepFingerprint, Status: StatusOK, Detail: "changed", Duration: r.now().Sub(start)})

	if dryRun {
		s.Outcome = models.OutcomeSkipped
		log.Info().Str("fingerprint", fp).Msg("World changed, a backup would be created")
		s.FinishedAt = r.now()
		return s, nil
	}

	// ARCHIVE
	start = r.now()
	art, err := r.deps.Archiver.Create(ctx, r.cfg.Sources.Dirs)
	if err != nil {
		err = &IOError{Op: "archive", Err: err}
		s.add(StepResult{Step: StepArchive, Status: StatusFailed, Err: err, Duration: r.now().Sub(start)})
		return r.fail(s, err)
	}
	s.Artifact = &art
	s.add(StepResult{Step: StepArchive, Status: StatusOK, Detail: fmt.Sprintf("%s (%s)", art.Name, utils.FormatSize(art.Size)), Duration: r.now().Sub(start)})
	log.Info().Str("archive", art.Name).Int64("size", art.Size).Msg("Archive created")

	// UPLOAD
	uploaded, err := r.upload(ctx, s)
	if err != nil {
		return r.fail(s, err)
	}

	// COMMIT
	start = r.now()
	if err := r.deps.Gate.Commit(ctx, fp); err != nil {
		err = &IOError{Op: "commit fingerprint", Err: err}
		s.add(StepResult{Step: StepCommit, Status: StatusFailed, Err: err, Duration: r.now().Sub(start)})
		log.Error().Err(err).Msg("Failed to record fingerprint; next run will back up again")
	} else {
		s.add(StepResult{Step: StepCommit, Status: StatusOK, Duration: r.now().Sub(start)})
	}

	mgr := r.retention()
	mgr.Protect(art.Name)

	r.appendLog(s, art)
	r.pruneRemote(ctx, s, mgr, uploaded)

	msg := notify.Message{BackupName: art.Name, Size: art.Size, CreatedAt: art.CreatedAt}
	if s.Remote != nil {
		msg.Location = r.deps.Store.Location()
	}
	r.notify(ctx, s, StepNotifyChat, r.deps.Chat, msg)
	r.notify(ctx, s, StepNotifyEmail, r.deps.Email, msg)

	r.pruneLocal(ctx, s, mgr, false)

	r.end(s)
	ev := log.Info()
	if s.Outcome == models.OutcomePartial {
		ev = log.Warn().Int("failed_steps", len(s.Failures()))
	}
	ev.Str("outcome", s.Outcome).Str("archive", art.Name).Msg("Backup run finished")
	return s, nil
}

// upload returns whether the archive reached remote storage. A non-nil error
// is fatal.
func (r *Runner) upload(ctx context.Context, s *Summary) (bool, error) {
	start := r.now()
	if r.deps.Store == nil {
		detail := "remote storage disabled"
		if r.deps.StoreErr != nil {
			cerr := &ConfigError{Op: "upload", Err: r.deps.StoreErr}
			logging.Error().Err(cerr).Msg("Remote storage unavailable, keeping local archive only")
			s.add(StepResult{Step: StepUpload, Status: StatusSkipped, Err: cerr, Duration: r.now().Sub(start)})
			return false, nil
		}
		s.add(StepResult{Step: StepUpload, Status: StatusSkipped, Detail: detail})
		return false, nil
	}

	uctx, cancel := r.remoteCtx(ctx)
	remote, err := r.deps.Store.Upload(uctx, *s.Artifact)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrContainerNotFound) {
			cerr := &ConfigError{Op: "upload", Err: err}
			logging.Error().Err(cerr).Msg("Remote container missing, keeping local archive only")
			s.add(StepResult{Step: StepUpload, Status: StatusSkipped, Err: cerr, Duration: r.now().Sub(start)})
			return false, nil
		}
		err = &RemoteStoreError{Op: "upload", Err: err}
		s.add(StepResult{Step: StepUpload, Status: StatusFailed, Err: err, Duration: r.now().Sub(start)})
		return false, err
	}

	s.Remote = &remote
	s.add(StepResult{Step: StepUpload, Status: StatusOK, Detail: r.deps.Store.Location() + "/" + remote.Name, Duration: r.now().Sub(start)})
	logging.Info().Str("id", remote.ID).Str("location", r.deps.Store.Location()).Msg("Archive uploaded")
	return true, nil
}

func (r *Runner) appendLog(s *Summary, art models.BackupArtifact) {
	if r.deps.Log == nil {
		s.add(StepResult{Step: StepLog, Status: StatusSkipped})
		return
	}
	if err := r.deps.Log.Append(art.Name, r.now()); err != nil {
		err = &IOError{Op: "append log", Err: err}
		logging.Warn().Err(err).Msg("Failed to append backup log")
		s.add(StepResult{Step: StepLog, Status: StatusFailed, Err: err})
		return
	}
	s.add(StepResult{Step: StepLog, Status: StatusOK})
}

// pruneRemote runs remote retention when the store is reachable. reachable is
// false when the upload was skipped.
func (r *Runner) pruneRemote(ctx context.Context, s *Summary, mgr *retention.Manager, reachable bool) {
	start := r.now()
	if r.deps.Store == nil || !reachable {
		s.add(StepResult{Step: StepPruneRemote, Status: StatusSkipped, Detail: "remote storage unavailable"})
		return
	}

	lctx, cancel := r.remoteCtx(ctx)
	listed, err := r.deps.Store.List(lctx, r.cfg.RemoteFilter())
	cancel()
	if err != nil {
		r.remoteFailed(s, "list", err, start)
		return
	}

	var victim *models.RemoteArtifact
	if s.DryRun {
		victim = mgr.PlanRemote(listed)
	} else {
		dctx, cancel := r.remoteCtx(ctx)
		victim, err = mgr.PruneRemote(dctx, listed)
		cancel()
		if err != nil {
			r.remoteFailed(s, "delete", err, start)
			return
		}
	}

	detail := fmt.Sprintf("%d archives, keep %d, nothing to delete", len(listed), r.cfg.Retention.RemoteKeep)
	if victim != nil {
		detail = "deleted " + victim.Name
		if s.DryRun {
			detail = "would delete " + victim.Name
		}
		logging.Info().Str("name", victim.Name).Bool("dry_run", s.DryRun).Msg("Pruned oldest remote archive")
	}
	s.add(StepResult{Step: StepPruneRemote, Status: StatusOK, Detail: detail, Duration: r.now().Sub(start)})
}

// remoteCtx bounds a single store call by remote.timeout.
func (r *Runner) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Remote.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.Remote.Timeout)
}

func (r *Runner) remoteFailed(s *Summary, op string, err error, start time.Time) {
	err = &RemoteStoreError{Op: op, Err: err}
	logging.Warn().Err(err).Msg("Remote retention failed")
	s.add(StepResult{Step: StepPruneRemote, Status: StatusFailed, Err: err, Duration: r.now().Sub(start)})
}

func (r *Runner) notify(ctx context.Context, s *Summary, step Step, n notify.Notifier, msg notify.Message) {
	start := r.now()
	if n == nil {
		s.add(StepResult{Step: step, Status: StatusSkipped, Detail: "not configured"})
		return
	}
	err := n.Notify(ctx, msg)
	switch {
	case errors.Is(err, notify.ErrNotConfigured):
		logging.Debug().Str("channel", n.Name()).Msg("Notifier not configured, skipping")
		s.add(StepResult{Step: step, Status: StatusSkipped, Detail: "not configured"})
	case err != nil:
		err = &NotificationError{Op: string(step), Channel: n.Name(), Err: err}
		logging.Warn().Err(err).Msg("Notification failed")
		s.add(StepResult{Step: step, Status: StatusFailed, Err: err, Duration: r.now().Sub(start)})
	default:
		s.add(StepResult{Step: step, Status: StatusOK, Detail: n.Name(), Duration: r.now().Sub(start)})
	}
}

func (r *Runner) pruneLocal(ctx context.Context, s *Summary, mgr *retention.Manager, dryRun bool) {
	start := r.now()
	artifacts, err := retention.ScanLocal(r.cfg.Backup.Dir, r.cfg.Backup.Prefix, archive.Ext)
	if err != nil {
		err = &IOError{Op: "scan backups", Err: err}
		logging.Warn().Err(err).Msg("Local retention failed")
		s.add(StepResult{Step: StepPruneLocal, Status: StatusFailed, Err: err})
		return
	}

	var deleted []models.BackupArtifact
	if dryRun {
		deleted = mgr.PlanLocal(artifacts)
	} else {
		deleted, err = mgr.PruneLocal(ctx, artifacts)
	}
	for _, a := range deleted {
		logging.Info().Str("name", a.Name).Bool("dry_run", dryRun).Msg("Pruned expired local archive")
	}

	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	detail := fmt.Sprintf("%s %d of %d archives", verb, len(deleted), len(artifacts))
	if err != nil {
		err = &IOError{Op: "delete backups", Err: err}
		logging.Warn().Err(err).Msg("Local retention failed")
		s.add(StepResult{Step: StepPruneLocal, Status: StatusFailed, Err: err, Detail: detail, Duration: r.now().Sub(start)})
		return
	}
	s.add(StepResult{Step: StepPruneLocal, Status: StatusOK, Detail: detail, Duration: r.now().Sub(start)})
}

// Prune applies both retention policies without making a backup.
func (r *Runner) Prune(ctx context.Context, dryRun bool) (*Summary, error) {
	s := r.newSummary(dryRun)
	mgr := r.retention()

	if r.deps.Store == nil {
		if r.deps.StoreErr != nil {
			s.add(StepResult{Step: StepPruneRemote, Status: StatusSkipped, Err: &ConfigError{Op: "prune remote", Err: r.deps.StoreErr}})
		} else {
			s.add(StepResult{Step: StepPruneRemote, Status: StatusSkipped, Detail: "remote storage disabled"})
		}
	} else {
		r.pruneRemote(ctx, s, mgr, true)
	}
	r.pruneLocal(ctx, s, mgr, dryRun)

	s.finish(r.now())
	return s, nil
}

func (r *Runner) fail(s *Summary, err error) (*Summary, error) {
	s.Outcome = models.OutcomeFailed
	r.end(s)
	logging.Error().Err(err).Str("run_id", s.RunID).Msg("Backup run failed")
	return s, err
}

// end closes the summary and saves it to history, best effort.
func (r *Runner) end(s *Summary) *Summary {
	s.finish(r.now())
	if r.deps.History == nil || s.DryRun {
		return s
	}
	if err := r.deps.History.SaveRun(s.Record()); err != nil {
		logging.Warn().Err(err).Str("run_id", s.RunID).Msg("Failed to save run history")
	}
	return s
}
