package version

import (
	"strings"
	"testing"
)

func TestVersionVariables(t *testing.T) {
	// Test Version
	if Version == "" {
		t.Error("Version should not be empty")
	}

	// Test GitCommit
	if GitCommit == "" {
		t.Error("GitCommit should not be empty")
	}
	if GitCommit != "unknown" && len(GitCommit) < 7 {
		t.Errorf("GitCommit '%s' seems invalid, should be 'unknown' or a git hash", GitCommit)
	}

	// Test BuildTime
	if BuildTime == "" {
		t.Error("BuildTime should not be empty")
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "worldbackup/") {
		t.Errorf("UserAgent() = %q; want worldbackup/ prefix", ua)
	}
	if !strings.HasSuffix(ua, Version) {
		t.Errorf("UserAgent() = %q; want suffix %q", ua, Version)
	}
}
