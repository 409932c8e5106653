package models

import "time"

// BackupArtifact describes a single archive on local disk
type BackupArtifact struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
	ModTime   time.Time
}

// RemoteArtifact is an archive copy held by a remote object store
type RemoteArtifact struct {
	ID        string // provider key or object id
	Name      string
	Size      int64
	CreatedAt time.Time
}
