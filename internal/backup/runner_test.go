package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chmdznr/worldbackup/internal/notify"
	"github.com/chmdznr/worldbackup/internal/storage"
	"github.com/chmdznr/worldbackup/pkg/models"
)

const day = 24 * time.Hour

func TestRunUnchangedWorldIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.commitRecord(t, "aaaa")
	old := env.writeLocalArchive(t, "mc_old.zip", 30*day)

	s, err := env.runner(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Outcome != models.OutcomeSkipped {
		t.Errorf("Outcome = %s, want skipped", s.Outcome)
	}
	if env.arch.calls != 0 || env.store.uploads != 0 {
		t.Errorf("archive calls %d, uploads %d; want none", env.arch.calls, env.store.uploads)
	}
	if len(env.chat.calls) != 0 || len(env.email.calls) != 0 {
		t.Error("no notifications expected")
	}
	if !exists(old) {
		t.Error("local pruning must not run on the no-change path")
	}
	if len(s.Steps) != 1 {
		t.Errorf("only the fingerprint step should run, got %+v", s.Steps)
	}
	if len(env.history.runs) != 1 || env.history.runs[0].Outcome != models.OutcomeSkipped {
		t.Errorf("history = %+v", env.history.runs)
	}
}

func TestRunChatFailureIsPartial(t *testing.T) {
	env := newTestEnv(t)
	env.chat.err = errors.New("webhook returned 500")
	old := env.writeLocalArchive(t, "mc_old.zip", 8*day)

	s, err := env.runner(t).Run(context.Background())
	if err != nil {
		t.Fatalf("tail failure must not be fatal: %v", err)
	}
	if s.Outcome != models.OutcomePartial {
		t.Errorf("Outcome = %s, want partial", s.Outcome)
	}
	if stepStatus(t, s, StepNotifyChat) != StatusFailed {
		t.Error("chat step should be failed")
	}
	if len(env.email.calls) != 1 || stepStatus(t, s, StepNotifyEmail) != StatusOK {
		t.Error("email notification should still be sent")
	}
	if stepStatus(t, s, StepPruneLocal) != StatusOK || exists(old) {
		t.Error("local pruning should still run")
	}

	r, _ := s.Step(StepNotifyChat)
	var nerr *NotificationError
	if !errors.As(r.Err, &nerr) || nerr.Channel != "discord" {
		t.Errorf("chat error = %v, want NotificationError", r.Err)
	}
	if env.record(t) != "aaaa" {
		t.Error("fingerprint should be committed after successful upload")
	}
	if rec := env.history.runs[0]; len(rec.Errors) != 1 || !strings.HasPrefix(rec.Errors[0], "notify_chat") {
		t.Errorf("history errors = %v", rec.Errors)
	}
}

func TestRunHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.commitRecord(t, "old-fingerprint")

	s, err := env.runner(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Outcome != models.OutcomeSuccess {
		t.Fatalf("Outcome = %s, steps %+v", s.Outcome, s.Steps)
	}

	var order []string
	for _, st := range s.Steps {
		order = append(order, string(st.Step))
	}
	want := "fingerprint,archive,upload,commit,log,prune_remote,notify_chat,notify_email,prune_local"
	if strings.Join(order, ",") != want {
		t.Errorf("step order = %s\nwant %s", strings.Join(order, ","), want)
	}

	if s.Artifact == nil || s.Remote == nil || s.Remote.Name != s.Artifact.Name {
		t.Fatalf("artifact %+v remote %+v", s.Artifact, s.Remote)
	}
	if env.record(t) != "aaaa" {
		t.Errorf("record = %q, want new fingerprint", env.record(t))
	}
	if m := env.chat.calls[0]; m.BackupName != s.Artifact.Name || m.Location != "s3://backups/mc" {
		t.Errorf("chat message = %+v", m)
	}

	data, err := os.ReadFile(env.cfg.Backup.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	wantLine := testNow.Format(time.RFC3339) + " - " + s.Artifact.Name + "\n"
	if string(data) != wantLine {
		t.Errorf("backup log = %q, want %q", data, wantLine)
	}
}

func TestRunUploadFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.commitRecord(t, "old-fingerprint")
	env.store.uploadErr = errors.New("connection reset")

	s, err := env.runner(t).Run(context.Background())
	var rerr *RemoteStoreError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want RemoteStoreError", err)
	}
	if s.Outcome != models.OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", s.Outcome)
	}
	if env.record(t) != "old-fingerprint" {
		t.Error("record must not advance when upload fails")
	}
	if len(env.chat.calls)+len(env.email.calls) != 0 {
		t.Error("no notifications after fatal failure")
	}
	if _, ok := s.Step(StepPruneLocal); ok {
		t.Error("tail steps must not run after fatal failure")
	}
}

func TestRunArchiveFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.arch.err = errors.New("disk full")

	s, err := env.runner(t).Run(context.Background())
	var ioerr *IOError
	if !errors.As(err, &ioerr) || ioerr.Op != "archive" {
		t.Fatalf("err = %v, want IOError(archive)", err)
	}
	if s.Outcome != models.OutcomeFailed || env.store.uploads != 0 {
		t.Errorf("outcome %s uploads %d", s.Outcome, env.store.uploads)
	}
	if _, ok, _ := env.gate.Last(); ok {
		t.Error("no record should be written")
	}
}

func TestRunFingerprintFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.fp.err = fmt.Errorf("world: %w", os.ErrNotExist)

	s, err := env.runner(t).Run(context.Background())
	var ioerr *IOError
	if !errors.As(err, &ioerr) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want IOError wrapping ErrNotExist", err)
	}
	if s.Outcome != models.OutcomeFailed || env.arch.calls != 0 {
		t.Errorf("outcome %s archive calls %d", s.Outcome, env.arch.calls)
	}
}

func TestRunWithoutRemote(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*testEnv)
		wantCErr bool
	}{
		{"remote disabled", func(e *testEnv) { e.deps.Store = nil }, false},
		{"remote misconfigured", func(e *testEnv) {
			e.deps.Store = nil
			e.deps.StoreErr = errors.New("remote.bucket is not set")
		}, true},
		{"container missing", func(e *testEnv) {
			e.store.uploadErr = fmt.Errorf("bucket x: %w", storage.ErrContainerNotFound)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.mutate(env)

			s, err := env.runner(t).Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if s.Outcome != models.OutcomeSuccess {
				t.Errorf("Outcome = %s, want success", s.Outcome)
			}
			up, _ := s.Step(StepUpload)
			if up.Status != StatusSkipped {
				t.Errorf("upload status = %s, want skipped", up.Status)
			}
			var cerr *ConfigError
			if got := errors.As(up.Err, &cerr); got != tt.wantCErr {
				t.Errorf("upload ConfigError = %v, want %v (%v)", got, tt.wantCErr, up.Err)
			}
			if stepStatus(t, s, StepPruneRemote) != StatusSkipped {
				t.Error("remote pruning should be skipped")
			}
			if env.record(t) != "aaaa" {
				t.Error("record should be committed after archive when upload is skipped")
			}
			if m := env.chat.calls[0]; m.Location != "" {
				t.Errorf("location = %q, want local only", m.Location)
			}
		})
	}
}

func TestRunNotifierNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.chat.err = notify.ErrNotConfigured
	env.deps.Email = nil

	s, err := env.runner(t).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stepStatus(t, s, StepNotifyChat) != StatusSkipped || stepStatus(t, s, StepNotifyEmail) != StatusSkipped {
		t.Errorf("steps = %+v", s.Steps)
	}
	if s.Outcome != models.OutcomeSuccess {
		t.Errorf("Outcome = %s, want success", s.Outcome)
	}
}

func TestRunRemoteRetention(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.store.objects = append(env.store.objects, models.RemoteArtifact{
			ID:        fmt.Sprintf("mc/mc_%d.zip", i),
			Name:      fmt.Sprintf("mc_%d.zip", i),
			CreatedAt: testNow.Add(-time.Duration(10-i) * day),
		})
	}
	env.store.objects = append(env.store.objects, models.RemoteArtifact{
		ID: "other/readme.txt", Name: "readme.txt", CreatedAt: testNow.Add(-100 * day),
	})

	s, err := env.runner(t).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(env.store.deleted) != 1 || env.store.deleted[0] != "mc/mc_0.zip" {
		t.Errorf("deleted = %v, want only the oldest matching archive", env.store.deleted)
	}
	if r, _ := s.Step(StepPruneRemote); r.Detail != "deleted mc_0.zip" {
		t.Errorf("detail = %q", r.Detail)
	}
}

func TestRunRemoteRetentionFailureIsPartial(t *testing.T) {
	env := newTestEnv(t)
	env.store.listErr = errors.New("403 forbidden")

	s, err := env.runner(t).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r, _ := s.Step(StepPruneRemote)
	var rerr *RemoteStoreError
	if r.Status != StatusFailed || !errors.As(r.Err, &rerr) {
		t.Errorf("prune_remote = %+v", r)
	}
	if s.Outcome != models.OutcomePartial {
		t.Errorf("Outcome = %s, want partial", s.Outcome)
	}
	if len(env.chat.calls) != 1 || len(env.email.calls) != 1 {
		t.Error("notifications must still run")
	}
}

func TestRunLocalRetention(t *testing.T) {
	env := newTestEnv(t)
	fresh := env.writeLocalArchive(t, "mc_fresh.zip", 1*day)
	old8 := env.writeLocalArchive(t, "mc_old8.zip", 8*day)
	old10 := env.writeLocalArchive(t, "mc_old10.zip", 10*day)
	state := env.writeLocalArchive(t, "notes.txt", 30*day)

	s, err := env.runner(t).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if exists(old8) || exists(old10) {
		t.Error("archives older than seven days should be deleted")
	}
	if !exists(fresh) || !exists(state) || !exists(s.Artifact.Path) {
		t.Error("fresh archive, non-archive files and the new archive must remain")
	}
	if r, _ := s.Step(StepPruneLocal); r.Detail != "deleted 2 of 4 archives" {
		t.Errorf("detail = %q", r.Detail)
	}
}

func TestRunHistoryFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.history.err = errors.New("database is locked")

	s, err := env.runner(t).Run(context.Background())
	if err != nil || s.Outcome != models.OutcomeSuccess {
		t.Errorf("Run = %v, %v", s.Outcome, err)
	}
}

func TestDryRun(t *testing.T) {
	env := newTestEnv(t)

	s, err := env.runner(t).DryRun(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !s.DryRun || env.arch.calls != 0 || env.store.uploads != 0 {
		t.Errorf("dry run did work: %+v", s)
	}
	if r, _ := s.Step(StepFingerprint); r.Detail != "changed" {
		t.Errorf("fingerprint detail = %q", r.Detail)
	}
	if _, ok, _ := env.gate.Last(); ok {
		t.Error("dry run must not write the record")
	}
	if len(env.history.runs) != 0 {
		t.Error("dry runs are not saved to history")
	}
}

func TestPrune(t *testing.T) {
	for _, dryRun := range []bool{true, false} {
		t.Run(fmt.Sprintf("dry_run=%v", dryRun), func(t *testing.T) {
			env := newTestEnv(t)
			old := env.writeLocalArchive(t, "mc_old.zip", 9*day)
			for i := 0; i < 6; i++ {
				env.store.objects = append(env.store.objects, models.RemoteArtifact{
					ID:        fmt.Sprintf("id%d", i),
					Name:      fmt.Sprintf("mc_%d.zip", i),
					CreatedAt: testNow.Add(-time.Duration(10-i) * day),
				})
			}

			s, err := env.runner(t).Prune(context.Background(), dryRun)
			if err != nil {
				t.Fatal(err)
			}
			if exists(old) == !dryRun {
				t.Errorf("local archive exists=%v with dryRun=%v", exists(old), dryRun)
			}
			wantDeleted := 1
			if dryRun {
				wantDeleted = 0
			}
			if len(env.store.deleted) != wantDeleted {
				t.Errorf("remote deletes = %v", env.store.deleted)
			}
			r, _ := s.Step(StepPruneRemote)
			if !strings.Contains(r.Detail, "mc_0.zip") {
				t.Errorf("prune_remote detail = %q", r.Detail)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner(t)

	fp, changed, err := r.Check()
	if err != nil || fp != "aaaa" || !changed {
		t.Errorf("Check() = %q, %v, %v", fp, changed, err)
	}
	env.commitRecord(t, "aaaa")
	if _, changed, _ := r.Check(); changed {
		t.Error("Check should report unchanged after commit")
	}
}

func TestNewRunnerRequiresCore(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Archiver = nil
	if _, err := NewRunner(env.cfg, env.deps); err == nil {
		t.Error("expected error without archiver")
	}
}

func TestRunRemoteTimeout(t *testing.T) {
	t.Run("stalled upload fails the run", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.Remote.Timeout = 50 * time.Millisecond
		env.store.blockUpload = true

		_, err := env.runner(t).Run(context.Background())
		var rerr *RemoteStoreError
		if !errors.As(err, &rerr) || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want RemoteStoreError wrapping DeadlineExceeded", err)
		}
		if _, ok, _ := env.gate.Last(); ok {
			t.Error("record must not be written after a timed out upload")
		}
	})

	t.Run("stalled listing does not block the tail", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.Remote.Timeout = 50 * time.Millisecond
		env.store.blockList = true
		old := env.writeLocalArchive(t, "mc_old.zip", 8*day)

		s, err := env.runner(t).Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if stepStatus(t, s, StepPruneRemote) != StatusFailed || s.Outcome != models.OutcomePartial {
			t.Errorf("prune_remote %s, outcome %s", stepStatus(t, s, StepPruneRemote), s.Outcome)
		}
		if len(env.chat.calls) != 1 || len(env.email.calls) != 1 || exists(old) {
			t.Error("notifications and local pruning must still run")
		}
	})
}
