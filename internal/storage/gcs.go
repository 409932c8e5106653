package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/chmdznr/worldbackup/pkg/models"
	"github.com/chmdznr/worldbackup/pkg/version"
)

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket string
	Folder string
	// CredentialsFile is a service account JSON key. Empty means
	// application default credentials.
	CredentialsFile string
	// Endpoint overrides the JSON API endpoint, e.g. an emulator. Requests
	// to it are sent without authentication.
	Endpoint string
	Progress bool
}

// GCSStore keeps archives in a Google Cloud Storage bucket.
type GCSStore struct {
	client   *storage.Client
	bucket   string
	folder   string
	progress bool
}

// NewGCS creates the client.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	opts := []option.ClientOption{option.WithUserAgent(version.UserAgent())}
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client:   client,
		bucket:   cfg.Bucket,
		folder:   cfg.Folder,
		progress: cfg.Progress,
	}, nil
}

// mapGCSErr reports a missing bucket as ErrContainerNotFound. Writes and
// listings return a plain 404 rather than storage.ErrBucketNotExist. Object
// level 404s are already storage.ErrObjectNotExist and are left alone.
func mapGCSErr(bucket string, err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("bucket %s: %w", bucket, ErrContainerNotFound)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("bucket %s: %w: %v", bucket, ErrContainerNotFound, err)
	}
	return err
}

// Upload writes the archive under <folder>/<name>.
func (s *GCSStore) Upload(ctx context.Context, a models.BackupArtifact) (models.RemoteArtifact, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return models.RemoteArtifact{}, fmt.Errorf("failed to open %s: %w", a.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.RemoteArtifact{}, fmt.Errorf("failed to stat %s: %w", a.Path, err)
	}

	// Close commits whatever was written, so a failed copy cancels the
	// writer's context instead.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	key := objectKey(s.folder, a.Name)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(wctx)
	w.ContentType = "application/zip"
	w.Metadata = map[string]string{"created-at": a.CreatedAt.UTC().Format(time.RFC3339)}

	r, done := progressReader(f, info.Size(), "upload", s.progress)
	_, err = io.Copy(w, r)
	done()
	if err != nil {
		cancel()
		return models.RemoteArtifact{}, fmt.Errorf("gcs write failed: %w", mapGCSErr(s.bucket, err))
	}
	if err := w.Close(); err != nil {
		return models.RemoteArtifact{}, fmt.Errorf("gcs close failed: %w", mapGCSErr(s.bucket, err))
	}

	attrs := w.Attrs()
	return models.RemoteArtifact{
		ID:        attrs.Name,
		Name:      a.Name,
		Size:      attrs.Size,
		CreatedAt: attrs.Created,
	}, nil
}

// List returns objects directly under the folder whose name contains filter.
func (s *GCSStore) List(ctx context.Context, filter string) ([]models.RemoteArtifact, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix:    listPrefix(s.folder),
		Delimiter: "/",
	})

	var out []models.RemoteArtifact
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed: %w", mapGCSErr(s.bucket, err))
		}
		if a, ok := gcsArtifact(attrs, filter); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// gcsArtifact converts a listing entry. Synthetic directory entries and
// names not containing filter are dropped.
func gcsArtifact(attrs *storage.ObjectAttrs, filter string) (models.RemoteArtifact, bool) {
	if attrs.Prefix != "" || strings.HasSuffix(attrs.Name, "/") {
		return models.RemoteArtifact{}, false
	}
	name := baseName(attrs.Name)
	if !strings.Contains(name, filter) {
		return models.RemoteArtifact{}, false
	}
	return models.RemoteArtifact{
		ID:        attrs.Name,
		Name:      name,
		Size:      attrs.Size,
		CreatedAt: attrs.Created,
	}, true
}

// Delete removes the object with name id.
func (s *GCSStore) Delete(ctx context.Context, id string) error {
	err := s.client.Bucket(s.bucket).Object(id).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", id, mapGCSErr(s.bucket, err))
	}
	return nil
}

// Location describes the destination, e.g. "gs://backups/mc".
func (s *GCSStore) Location() string {
	loc := "gs://" + s.bucket
	if p := objectKey(s.folder, ""); p != "" {
		loc += "/" + p
	}
	return loc
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
