// Package retention selects and deletes old backups. Local archives expire by
// age; remote archives are capped by count, one deletion per run.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chmdznr/worldbackup/pkg/models"
)

// LocalDeleter removes one local archive.
type LocalDeleter interface {
	DeleteLocal(ctx context.Context, a models.BackupArtifact) error
}

// RemoteDeleter removes one remote object by id.
type RemoteDeleter interface {
	Delete(ctx context.Context, id string) error
}

// LocalDeleterFunc adapts a function to LocalDeleter.
type LocalDeleterFunc func(ctx context.Context, a models.BackupArtifact) error

func (f LocalDeleterFunc) DeleteLocal(ctx context.Context, a models.BackupArtifact) error {
	return f(ctx, a)
}

// RemoteDeleterFunc adapts a function to RemoteDeleter.
type RemoteDeleterFunc func(ctx context.Context, id string) error

func (f RemoteDeleterFunc) Delete(ctx context.Context, id string) error {
	return f(ctx, id)
}

// SelectExpired returns the artifacts whose age at now is at least maxAge.
func SelectExpired(artifacts []models.BackupArtifact, now time.Time, maxAge time.Duration) []models.BackupArtifact {
	var expired []models.BackupArtifact
	for _, a := range artifacts {
		if now.Sub(a.ModTime) >= maxAge {
			expired = append(expired, a)
		}
	}
	return expired
}

// PruneLocal deletes every expired artifact. A failed deletion does not stop
// the others; failures are joined into the returned error and the deleted
// slice holds only artifacts that were actually removed.
func PruneLocal(ctx context.Context, artifacts []models.BackupArtifact, now time.Time, maxAge time.Duration, del LocalDeleter) ([]models.BackupArtifact, error) {
	var (
		deleted []models.BackupArtifact
		errs    []error
	)
	for _, a := range SelectExpired(artifacts, now, maxAge) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := del.DeleteLocal(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", a.Name, err))
			continue
		}
		deleted = append(deleted, a)
	}
	return deleted, errors.Join(errs...)
}

// FilterByName keeps artifacts whose name contains substr. An empty substr
// keeps everything.
func FilterByName(artifacts []models.RemoteArtifact, substr string) []models.RemoteArtifact {
	out := make([]models.RemoteArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		if strings.Contains(a.Name, substr) {
			out = append(out, a)
		}
	}
	return out
}

// SortOldestFirst orders by CreatedAt, then by name for equal times.
func SortOldestFirst(artifacts []models.RemoteArtifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		if !artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
		}
		return artifacts[i].Name < artifacts[j].Name
	})
}

// SelectOldestExcess returns the single artifact to delete under a keep
// count, or nil when the filtered set is within the limit. skip, if not
// nil, excludes artifacts from selection but not from the count.
func SelectOldestExcess(artifacts []models.RemoteArtifact, keep int, filter string, skip func(models.RemoteArtifact) bool) *models.RemoteArtifact {
	matched := FilterByName(artifacts, filter)
	if len(matched) <= keep {
		return nil
	}
	SortOldestFirst(matched)
	for _, a := range matched {
		if skip != nil && skip(a) {
			continue
		}
		victim := a
		return &victim
	}
	return nil
}

// PruneRemote deletes at most one artifact: the oldest matching one, and only
// when more than keep match. Convergence to keep takes one run per excess
// artifact.
func PruneRemote(ctx context.Context, artifacts []models.RemoteArtifact, keep int, filter string, del RemoteDeleter) (*models.RemoteArtifact, error) {
	return pruneRemote(ctx, artifacts, keep, filter, nil, del)
}

func pruneRemote(ctx context.Context, artifacts []models.RemoteArtifact, keep int, filter string, skip func(models.RemoteArtifact) bool, del RemoteDeleter) (*models.RemoteArtifact, error) {
	victim := SelectOldestExcess(artifacts, keep, filter, skip)
	if victim == nil {
		return nil, nil
	}
	if err := del.Delete(ctx, victim.ID); err != nil {
		return nil, fmt.Errorf("deleting remote %s: %w", victim.Name, err)
	}
	return victim, nil
}
