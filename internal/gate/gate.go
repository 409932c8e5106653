// Package gate decides whether a run needs a new backup by comparing the
// current world fingerprint with the one recorded by the last backup.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/chmdznr/worldbackup/internal/fsutil"
)

// Gate is bound to one record file. It does no locking.
type Gate struct {
	path string
}

// New returns a Gate that keeps its record at path.
func New(path string) *Gate {
	return &Gate{path: path}
}

// Last returns the recorded fingerprint. ok is false when no record exists.
func (g *Gate) Last() (fp string, ok bool, err error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading fingerprint record: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// ShouldBackup reports whether current differs from the record. A missing
// record always means proceed.
func (g *Gate) ShouldBackup(current string) (bool, error) {
	last, ok, err := g.Last()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return last != strings.TrimSpace(current), nil
}

// Commit replaces the record with fp.
func (g *Gate) Commit(ctx context.Context, fp string) error {
	fp = strings.TrimSpace(fp)
	if fp == "" {
		return errors.New("refusing to commit empty fingerprint")
	}
	if err := fsutil.WriteFileAtomic(ctx, g.path, []byte(fp), 0o644); err != nil {
		return fmt.Errorf("writing fingerprint record: %w", err)
	}
	return nil
}
