package models

import "time"

// Run outcomes stored in the history database.
const (
	OutcomeSkipped = "skipped"
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// RunRecord is one row of backup run history
type RunRecord struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      string
	Fingerprint  string
	ArtifactName string
	ArtifactSize int64
	RemoteID     string
	Errors       []string
}
