// Package fsutil holds the small filesystem helpers worldbackup needs to keep
// its state files consistent: atomic replace, append-only logs and retries on
// transient errors.
package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place, so readers see either the old or the new content.
func WriteFileAtomic(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := Rename(ctx, tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// AppendLine appends line plus a newline to path, creating it if needed.
func AppendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Rename wraps os.Rename with retry on transient errors.
func Rename(ctx context.Context, oldPath, newPath string) error {
	return Retry(ctx, "rename", func() error {
		return os.Rename(oldPath, newPath)
	})
}

// Remove deletes path with retry; a missing file is not an error.
func Remove(ctx context.Context, path string) error {
	return Retry(ctx, "remove", func() error {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	})
}
