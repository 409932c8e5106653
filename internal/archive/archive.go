// Package archive writes world directories into a single timestamped zip.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/chmdznr/worldbackup/internal/fsutil"
	"github.com/chmdznr/worldbackup/pkg/models"
)

// Ext is the archive file extension.
const Ext = ".zip"

// nameLayout renders as DD_Month_YYYY_HHMMSS.
const nameLayout = "02_January_2006_150405"

// Name returns the archive file name for t, e.g. mc_07_March_2025_142233.zip.
func Name(prefix string, t time.Time) string {
	return prefix + t.Format(nameLayout) + Ext
}

// ParseName extracts the timestamp embedded by Name.
func ParseName(prefix, name string) (time.Time, bool) {
	if len(name) <= len(prefix)+len(Ext) || name[:len(prefix)] != prefix || name[len(name)-len(Ext):] != Ext {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(nameLayout, name[len(prefix):len(name)-len(Ext)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Options configures an Archiver.
type Options struct {
	Prefix string
	// Level is the deflate level, 1 (fastest) to 9 (smallest).
	Level int
	// Progress shows a byte progress bar on stderr.
	Progress bool
	// Optional reports whether a missing source may be skipped.
	Optional func(dir string) bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Archiver creates archives in a fixed output directory.
type Archiver struct {
	dir  string
	opts Options
}

// New returns an Archiver writing to dir.
func New(dir string, opts Options) (*Archiver, error) {
	if opts.Level < flate.BestSpeed || opts.Level > flate.BestCompression {
		return nil, fmt.Errorf("compression level %d out of range 1-9", opts.Level)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Archiver{dir: dir, opts: opts}, nil
}

type entry struct {
	path string
	name string
	info fs.FileInfo
}

// Create zips every source directory recursively. Each source is stored under
// its base name. The archive is written to a hidden temp file and renamed
// into place once complete.
func (a *Archiver) Create(ctx context.Context, sources []string) (models.BackupArtifact, error) {
	created := a.opts.Now()
	name := Name(a.opts.Prefix, created)
	final := filepath.Join(a.dir, name)

	entries, total, err := a.collect(sources)
	if err != nil {
		return models.BackupArtifact{}, err
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return models.BackupArtifact{}, fmt.Errorf("creating backup dir: %w", err)
	}
	tmp, err := os.CreateTemp(a.dir, "."+name+".partial-*")
	if err != nil {
		return models.BackupArtifact{}, fmt.Errorf("creating archive: %w", err)
	}
	tmpName := tmp.Name()

	var bar *pb.ProgressBar
	if a.opts.Progress {
		bar = pb.Full.Start64(total)
		bar.Set(pb.Bytes, true)
		bar.Set("prefix", "archive ")
	}

	werr := a.write(ctx, tmp, entries, bar)
	if bar != nil {
		bar.Finish()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return models.BackupArtifact{}, werr
	}

	if err := fsutil.Rename(ctx, tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return models.BackupArtifact{}, err
	}

	info, err := os.Stat(final)
	if err != nil {
		return models.BackupArtifact{}, fmt.Errorf("stat archive: %w", err)
	}
	return models.BackupArtifact{
		Name:      name,
		Path:      final,
		Size:      info.Size(),
		CreatedAt: created,
		ModTime:   info.ModTime(),
	}, nil
}

func (a *Archiver) collect(sources []string) ([]entry, int64, error) {
	var (
		entries []entry
		total   int64
	)
	for _, src := range sources {
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, fs.ErrNotExist) && a.opts.Optional != nil && a.opts.Optional(src) {
				continue
			}
			return nil, 0, fmt.Errorf("source %s: %w", src, err)
		}

		base := filepath.Base(filepath.Clean(src))
		err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			name := filepath.ToSlash(filepath.Join(base, rel))
			if d.IsDir() {
				name += "/"
			} else {
				total += info.Size()
			}
			entries = append(entries, entry{path: path, name: name, info: info})
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("walking %s: %w", src, err)
		}
	}
	return entries, total, nil
}

func (a *Archiver) write(ctx context.Context, out io.Writer, entries []entry, bar *pb.ProgressBar) error {
	zw := zip.NewWriter(out)
	level := a.opts.Level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return fmt.Errorf("zip header %s: %w", e.name, err)
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			if _, err := zw.CreateHeader(hdr); err != nil {
				return fmt.Errorf("zip dir %s: %w", e.name, err)
			}
			continue
		}
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", e.name, err)
		}
		if err := copyFile(w, e.path, bar); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

func copyFile(w io.Writer, path string, bar *pb.ProgressBar) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if bar != nil {
		r = bar.NewProxyReader(f)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	return nil
}
