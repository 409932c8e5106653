package models

import "time"

// Stats represents backup history statistics
type Stats struct {
	TotalRuns     int64
	SuccessRuns   int64
	PartialRuns   int64
	FailedRuns    int64
	SkippedRuns   int64
	UploadedSize  int64
	LastRun       *time.Time
	LastBackup    *time.Time
	LastBackupRef string // artifact name of the newest produced backup
}
