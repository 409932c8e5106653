package backup

import (
	"time"

	"github.com/chmdznr/worldbackup/pkg/models"
)

// Step names a stage of a run.
type Step string

const (
	StepFingerprint Step = "fingerprint"
	StepArchive     Step = "archive"
	StepUpload      Step = "upload"
	StepCommit      Step = "commit"
	StepLog         Step = "log"
	StepPruneRemote Step = "prune_remote"
	StepNotifyChat  Step = "notify_chat"
	StepNotifyEmail Step = "notify_email"
	StepPruneLocal  Step = "prune_local"
)

// Status is the result of a single step.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// StepResult records what one step did.
type StepResult struct {
	Step     Step          `json:"step"`
	Status   Status        `json:"status"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary is the structured outcome of a run.
type Summary struct {
	RunID       string                 `json:"run_id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Outcome     string                 `json:"outcome"`
	DryRun      bool                   `json:"dry_run,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Artifact    *models.BackupArtifact `json:"artifact,omitempty"`
	Remote      *models.RemoteArtifact `json:"remote,omitempty"`
	Steps       []StepResult           `json:"steps"`
}

func (s *Summary) add(r StepResult) {
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	s.Steps = append(s.Steps, r)
}

// Step returns the result for step, if it ran.
func (s *Summary) Step(step Step) (StepResult, bool) {
	for _, r := range s.Steps {
		if r.Step == step {
			return r, true
		}
	}
	return StepResult{}, false
}

// Failures returns the failed steps in order.
func (s *Summary) Failures() []StepResult {
	var out []StepResult
	for _, r := range s.Steps {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// finish sets the outcome from the recorded steps unless one is already set.
func (s *Summary) finish(now time.Time) {
	s.FinishedAt = now
	if s.Outcome != "" {
		return
	}
	if len(s.Failures()) > 0 {
		s.Outcome = models.OutcomePartial
		return
	}
	s.Outcome = models.OutcomeSuccess
}

// Record converts the summary into a history row.
func (s *Summary) Record() *models.RunRecord {
	rec := &models.RunRecord{
		ID:          s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Outcome:     s.Outcome,
		Fingerprint: s.Fingerprint,
	}
	if s.Artifact != nil {
		rec.ArtifactName = s.Artifact.Name
		rec.ArtifactSize = s.Artifact.Size
	}
	if s.Remote != nil {
		rec.RemoteID = s.Remote.ID
	}
	for _, f := range s.Failures() {
		rec.Errors = append(rec.Errors, string(f.Step)+": "+f.Error)
	}
	return rec
}
