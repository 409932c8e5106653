// Package notify tells operators about finished backups over a chat webhook
// and email.
package notify

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned by a notifier that has nothing to send to.
var ErrNotConfigured = errors.New("notifier not configured")

// Message describes one completed backup.
type Message struct {
	BackupName string
	Size       int64
	// Location is where the archive was stored, e.g. "gs://bucket/mc".
	Location  string
	CreatedAt time.Time
}

// Notifier delivers a Message over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, m Message) error
}

// StorageText renders Location for human readers.
func (m Message) StorageText() string {
	if m.Location == "" {
		return "Stored locally only"
	}
	return "Uploaded to " + m.Location
}
