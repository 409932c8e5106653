// Package version holds build metadata injected with -ldflags.
package version

// Set via -ldflags "-X github.com/chmdznr/worldbackup/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// UserAgent is sent with webhook and storage requests.
func UserAgent() string {
	return "worldbackup/" + Version
}
