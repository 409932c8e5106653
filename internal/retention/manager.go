package retention

import (
	"context"
	"time"

	"github.com/chmdznr/worldbackup/internal/fsutil"
	"github.com/chmdznr/worldbackup/pkg/models"
)

// Policy holds both retention rules.
type Policy struct {
	MaxAge time.Duration
	Keep   int
	Filter string
}

// Manager applies a Policy while guarding protected names, normally the
// archive created by the current run.
type Manager struct {
	policy    Policy
	local     LocalDeleter
	remote    RemoteDeleter
	protected map[string]struct{}
	now       func() time.Time
}

// NewManager wires a Policy to its deleters. A nil local deleter removes
// files from disk.
func NewManager(policy Policy, local LocalDeleter, remote RemoteDeleter) *Manager {
	if local == nil {
		local = FileDeleter{}
	}
	return &Manager{
		policy:    policy,
		local:     local,
		remote:    remote,
		protected: make(map[string]struct{}),
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Protect excludes name from every future selection.
func (m *Manager) Protect(name string) {
	m.protected[name] = struct{}{}
}

// Protected reports whether name is protected.
func (m *Manager) Protected(name string) bool {
	_, ok := m.protected[name]
	return ok
}

func (m *Manager) unprotectedLocal(artifacts []models.BackupArtifact) []models.BackupArtifact {
	out := make([]models.BackupArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		if !m.Protected(a.Name) {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) skipRemote(a models.RemoteArtifact) bool {
	return m.Protected(a.Name)
}

// PlanLocal returns what PruneLocal would delete.
func (m *Manager) PlanLocal(artifacts []models.BackupArtifact) []models.BackupArtifact {
	return SelectExpired(m.unprotectedLocal(artifacts), m.now(), m.policy.MaxAge)
}

// PruneLocal deletes expired, unprotected local archives.
func (m *Manager) PruneLocal(ctx context.Context, artifacts []models.BackupArtifact) ([]models.BackupArtifact, error) {
	return PruneLocal(ctx, m.unprotectedLocal(artifacts), m.now(), m.policy.MaxAge, m.local)
}

// PlanRemote returns what PruneRemote would delete.
func (m *Manager) PlanRemote(artifacts []models.RemoteArtifact) *models.RemoteArtifact {
	return SelectOldestExcess(artifacts, m.policy.Keep, m.policy.Filter, m.skipRemote)
}

// PruneRemote deletes the oldest unprotected excess remote archive, if any.
func (m *Manager) PruneRemote(ctx context.Context, artifacts []models.RemoteArtifact) (*models.RemoteArtifact, error) {
	return pruneRemote(ctx, artifacts, m.policy.Keep, m.policy.Filter, m.skipRemote, m.remote)
}

// FileDeleter removes local archives from disk.
type FileDeleter struct{}

func (FileDeleter) DeleteLocal(ctx context.Context, a models.BackupArtifact) error {
	return fsutil.Remove(ctx, a.Path)
}
