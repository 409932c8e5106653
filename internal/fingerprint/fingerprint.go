// Package fingerprint computes a content digest over world directories so a
// run can tell whether anything changed since the last backup.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrMissingRoot is returned when a tracked directory does not exist.
var ErrMissingRoot = errors.New("directory does not exist")

// Options tunes how directories are walked.
type Options struct {
	// Recursive includes regular files in subdirectories.
	Recursive bool
	// Optional reports whether a missing root may be skipped.
	Optional func(dir string) bool
}

// Fingerprint returns the lowercase hex SHA-256 of the regular files directly
// inside dir. Each file contributes its relative path, a NUL byte and the
// fixed-width SHA-256 of its content, in byte-wise path order.
func Fingerprint(dir string) (string, error) {
	return FingerprintDirs([]string{dir}, Options{})
}

// FingerprintDirs digests several roots in the given order. Paths are taken
// relative to each root and prefixed with the root's base name, so moving a
// file between roots changes the result.
func FingerprintDirs(dirs []string, opts Options) (string, error) {
	h := sha256.New()
	for _, dir := range dirs {
		if err := hashRoot(h, dir, opts); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashRoot(h hash.Hash, dir string, opts Options) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if opts.Optional != nil && opts.Optional(dir) {
				return nil
			}
			return fmt.Errorf("%s: %w", dir, ErrMissingRoot)
		}
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	files, err := listFiles(dir, opts.Recursive)
	if err != nil {
		return err
	}

	base := filepath.Base(filepath.Clean(dir))
	for _, rel := range files {
		name := filepath.ToSlash(filepath.Join(base, rel))
		sum, err := hashFile(filepath.Join(dir, rel))
		if err != nil {
			return err
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(sum)
	}
	return nil
}

// listFiles returns relative paths of regular files under dir, sorted.
func listFiles(dir string, recursive bool) ([]string, error) {
	var files []string

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, e.Name())
			}
		}
	} else {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", dir, err)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return filepath.ToSlash(files[i]) < filepath.ToSlash(files[j])
	})
	return files, nil
}

// hashFile returns the raw SHA-256 of the file at path. Feeding the digest
// rather than the content keeps one file's bytes from running into the next
// record.
func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return h.Sum(nil), nil
}
