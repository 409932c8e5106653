package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/worldbackup/pkg/models"
)

// DB is the run history database.
type DB struct {
	*sql.DB
}

// New opens (creating if needed) the history database at path.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("initializing history db: %w", err)
	}
	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			outcome TEXT NOT NULL,
			fingerprint TEXT,
			artifact_name TEXT,
			artifact_size INTEGER DEFAULT 0,
			remote_id TEXT,
			errors TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`)
	return err
}

// SaveRun inserts or replaces one run.
func (db *DB) SaveRun(run *models.RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}

	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encoding run errors: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO runs (id, started_at, finished_at, outcome, fingerprint, artifact_name, artifact_size, remote_id, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Outcome,
		run.Fingerprint,
		run.ArtifactName,
		run.ArtifactSize,
		run.RemoteID,
		string(errJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, started_at, finished_at, outcome, fingerprint, artifact_name, artifact_size, remote_id, errors
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var (
			run     models.RunRecord
			errText sql.NullString
			fp      sql.NullString
			name    sql.NullString
			remote  sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Outcome, &fp, &name, &run.ArtifactSize, &remote, &errText); err != nil {
			return nil, err
		}
		run.Fingerprint, run.ArtifactName, run.RemoteID = fp.String, name.String, remote.String
		if errText.Valid && errText.String != "" {
			if err := json.Unmarshal([]byte(errText.String), &run.Errors); err != nil {
				return nil, fmt.Errorf("decoding errors of run %s: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate statistics over all runs.
func (db *DB) GetStats() (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRow(`
		SELECT
			COUNT(*) as total_runs,
			COUNT(CASE WHEN outcome = 'success' THEN 1 END) as success_runs,
			COUNT(CASE WHEN outcome = 'partial' THEN 1 END) as partial_runs,
			COUNT(CASE WHEN outcome = 'failed' THEN 1 END) as failed_runs,
			COUNT(CASE WHEN outcome = 'skipped' THEN 1 END) as skipped_runs,
			COALESCE(SUM(CASE WHEN remote_id != '' THEN artifact_size ELSE 0 END), 0) as uploaded_size
		FROM runs
	`).Scan(
		&stats.TotalRuns,
		&stats.SuccessRuns,
		&stats.PartialRuns,
		&stats.FailedRuns,
		&stats.SkippedRuns,
		&stats.UploadedSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	var lastRun time.Time
	err = db.QueryRow(`SELECT started_at FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&lastRun)
	switch {
	case err == nil:
		stats.LastRun = &lastRun
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}

	var lastBackup time.Time
	err = db.QueryRow(`
		SELECT finished_at, artifact_name FROM runs
		WHERE artifact_name != '' AND outcome IN ('success', 'partial')
		ORDER BY started_at DESC LIMIT 1
	`).Scan(&lastBackup, &stats.LastBackupRef)
	switch {
	case err == nil:
		stats.LastBackup = &lastBackup
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to get last backup: %w", err)
	}

	return &stats, nil
}
