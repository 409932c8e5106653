package backup

import (
	"time"

	"github.com/chmdznr/worldbackup/internal/fsutil"
)

// AppendLog is the human-readable list of completed backups, one
// "RFC3339 - name" line each.
type AppendLog struct {
	path string
}

// NewAppendLog returns a log writing to path.
func NewAppendLog(path string) *AppendLog {
	return &AppendLog{path: path}
}

// Append adds a line for name.
func (l *AppendLog) Append(name string, at time.Time) error {
	return fsutil.AppendLine(l.path, at.Format(time.RFC3339)+" - "+name)
}
