package backup

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorTypes(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"io", &IOError{Op: "archive", Err: cause}, "io error during archive: boom"},
		{"remote", &RemoteStoreError{Op: "upload", Err: cause}, "remote store error during upload: boom"},
		{"notify", &NotificationError{Op: "notify_chat", Channel: "discord", Err: cause}, "notification error during notify_chat (discord): boom"},
		{"config", &ConfigError{Op: "upload", Err: cause}, "config error for upload: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.want {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.want)
			}
			if !errors.Is(tt.err, cause) {
				t.Error("cause not unwrapped")
			}
		})
	}
}

func TestSummaryRecord(t *testing.T) {
	s := &Summary{RunID: "r1", Fingerprint: "fp"}
	s.add(StepResult{Step: StepArchive, Status: StatusOK})
	s.add(StepResult{Step: StepNotifyEmail, Status: StatusFailed, Err: errors.New("smtp down")})
	s.add(StepResult{Step: StepUpload, Status: StatusSkipped, Err: errors.New("no bucket")})
	s.finish(testNow)

	if s.Outcome != "partial" {
		t.Errorf("Outcome = %s, want partial", s.Outcome)
	}
	rec := s.Record()
	if len(rec.Errors) != 1 || !strings.Contains(rec.Errors[0], "notify_email: smtp down") {
		t.Errorf("Errors = %v", rec.Errors)
	}
}
