package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chmdznr/worldbackup/internal/archive"
	"github.com/chmdznr/worldbackup/internal/config"
	"github.com/chmdznr/worldbackup/internal/gate"
	"github.com/chmdznr/worldbackup/internal/notify"
	"github.com/chmdznr/worldbackup/pkg/models"
)

var testNow = time.Date(2025, time.March, 20, 12, 0, 0, 0, time.Local)

type fakeFingerprinter struct {
	fp  string
	err error
}

func (f *fakeFingerprinter) Compute([]string) (string, error) { return f.fp, f.err }

// fakeArchiver writes a small file named like a real archive.
type fakeArchiver struct {
	dir   string
	err   error
	calls int
}

func (a *fakeArchiver) Create(_ context.Context, _ []string) (models.BackupArtifact, error) {
	a.calls++
	if a.err != nil {
		return models.BackupArtifact{}, a.err
	}
	name := archive.Name("mc_", testNow)
	path := filepath.Join(a.dir, name)
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return models.BackupArtifact{}, err
	}
	if err := os.WriteFile(path, []byte("zip"), 0o644); err != nil {
		return models.BackupArtifact{}, err
	}
	return models.BackupArtifact{Name: name, Path: path, Size: 3, CreatedAt: testNow, ModTime: testNow}, nil
}

type fakeStore struct {
	objects   []models.RemoteArtifact
	uploadErr error
	listErr   error
	deleteErr error
	uploads   int
	deleted   []string

	// blockUpload and blockList make the call wait for its context.
	blockUpload bool
	blockList   bool
}

func (s *fakeStore) Upload(ctx context.Context, a models.BackupArtifact) (models.RemoteArtifact, error) {
	s.uploads++
	if s.blockUpload {
		<-ctx.Done()
		return models.RemoteArtifact{}, ctx.Err()
	}
	if s.uploadErr != nil {
		return models.RemoteArtifact{}, s.uploadErr
	}
	r := models.RemoteArtifact{ID: "mc/" + a.Name, Name: a.Name, Size: a.Size, CreatedAt: testNow}
	s.objects = append(s.objects, r)
	return r, nil
}

func (s *fakeStore) List(ctx context.Context, filter string) ([]models.RemoteArtifact, error) {
	if s.blockList {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.RemoteArtifact
	for _, o := range s.objects {
		if strings.Contains(o.Name, filter) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	for i, o := range s.objects {
		if o.ID == id {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) Location() string { return "s3://backups/mc" }
func (s *fakeStore) Close() error     { return nil }

type fakeNotifier struct {
	name  string
	err   error
	calls []notify.Message
}

func (n *fakeNotifier) Name() string { return n.name }

func (n *fakeNotifier) Notify(_ context.Context, m notify.Message) error {
	n.calls = append(n.calls, m)
	return n.err
}

type fakeHistory struct {
	runs []*models.RunRecord
	err  error
}

func (h *fakeHistory) SaveRun(r *models.RunRecord) error {
	h.runs = append(h.runs, r)
	return h.err
}

type testEnv struct {
	cfg     *config.Config
	fp      *fakeFingerprinter
	gate    *gate.Gate
	arch    *fakeArchiver
	store   *fakeStore
	chat    *fakeNotifier
	email   *fakeNotifier
	history *fakeHistory
	deps    Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")

	cfg := &config.Config{
		Sources: config.SourcesConfig{Dirs: []string{filepath.Join(dir, "world")}},
		Backup: config.BackupConfig{
			Dir:              backupDir,
			Prefix:           "mc_",
			CompressionLevel: 9,
			RecordFile:       filepath.Join(backupDir, "last_hash.txt"),
			LogFile:          filepath.Join(backupDir, "backup_log.txt"),
		},
		Retention: config.RetentionConfig{LocalMaxAge: 7 * 24 * time.Hour, RemoteKeep: 5},
	}

	env := &testEnv{
		cfg:     cfg,
		fp:      &fakeFingerprinter{fp: "aaaa"},
		gate:    gate.New(cfg.Backup.RecordFile),
		arch:    &fakeArchiver{dir: backupDir},
		store:   &fakeStore{},
		chat:    &fakeNotifier{name: "discord"},
		email:   &fakeNotifier{name: "email"},
		history: &fakeHistory{},
	}
	env.deps = Deps{
		Fingerprinter: env.fp,
		Gate:          env.gate,
		Archiver:      env.arch,
		Store:         env.store,
		Chat:          env.chat,
		Email:         env.email,
		Log:           NewAppendLog(cfg.Backup.LogFile),
		History:       env.history,
		Now:           func() time.Time { return testNow },
	}
	return env
}

func (e *testEnv) runner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(e.cfg, e.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func (e *testEnv) commitRecord(t *testing.T, fp string) {
	t.Helper()
	if err := e.gate.Commit(context.Background(), fp); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) record(t *testing.T) string {
	t.Helper()
	fp, _, err := e.gate.Last()
	if err != nil {
		t.Fatal(err)
	}
	return fp
}

// writeLocalArchive creates an archive file aged by age.
func (e *testEnv) writeLocalArchive(t *testing.T, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(e.cfg.Backup.Dir, name)
	if err := os.MkdirAll(e.cfg.Backup.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	mt := testNow.Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
	return path
}

func stepStatus(t *testing.T, s *Summary, step Step) Status {
	t.Helper()
	r, ok := s.Step(step)
	if !ok {
		t.Fatalf("step %s did not run; steps: %+v", step, s.Steps)
	}
	return r.Status
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
