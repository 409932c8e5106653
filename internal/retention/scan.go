package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chmdznr/worldbackup/pkg/models"
)

// ScanLocal lists archives in dir named <prefix>...<ext>. State files and
// anything else in the directory are ignored. A missing dir yields no
// artifacts.
func ScanLocal(dir, prefix, ext string) ([]models.BackupArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}

	var artifacts []models.BackupArtifact
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		if len(name) <= len(prefix)+len(ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		artifacts = append(artifacts, models.BackupArtifact{
			Name:      name,
			Path:      filepath.Join(dir, name),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			ModTime:   info.ModTime(),
		})
	}
	return artifacts, nil
}
