package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/worldbackup/pkg/models"
	"github.com/chmdznr/worldbackup/pkg/version"
)

// MinioConfig holds connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Folder    string
	Progress  bool
}

// MinioStore keeps archives in an S3-compatible bucket via minio-go.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	folder   string
	endpoint string
	progress bool
}

// NewMinio creates the client. No request is made until first use.
func NewMinio(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio: endpoint and bucket are required")
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
		ExpectContinueTimeout: 1 * time.Second,
	}

	endpoint, secure := cfg.Endpoint, cfg.UseSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "http://"), false
	}

	opts := minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Transport:    tr,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupAuto,
	}

	client, err := minio.New(endpoint, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	client.SetAppInfo("worldbackup", version.Version)

	return &MinioStore{
		client:   client,
		bucket:   cfg.Bucket,
		folder:   cfg.Folder,
		endpoint: cfg.Endpoint,
		progress: cfg.Progress,
	}, nil
}

func (s *MinioStore) checkBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s: %w", s.bucket, ErrContainerNotFound)
	}
	return nil
}

// Upload puts the archive under <folder>/<name>.
func (s *MinioStore) Upload(ctx context.Context, a models.BackupArtifact) (models.RemoteArtifact, error) {
	if err := s.checkBucket(ctx); err != nil {
		return models.RemoteArtifact{}, err
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return models.RemoteArtifact{}, fmt.Errorf("failed to open %s: %w", a.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.RemoteArtifact{}, fmt.Errorf("failed to stat %s: %w", a.Path, err)
	}

	key := objectKey(s.folder, a.Name)
	r, done := progressReader(f, info.Size(), "upload", s.progress)
	up, err := s.client.PutObject(ctx, s.bucket, key, r, info.Size(), minio.PutObjectOptions{
		ContentType: "application/zip",
		UserMetadata: map[string]string{
			"created-at": a.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
	done()
	if err != nil {
		return models.RemoteArtifact{}, fmt.Errorf("failed to upload %s: %w", a.Name, mapMinioErr(err))
	}

	created := up.LastModified
	if created.IsZero() {
		created = time.Now()
	}
	return models.RemoteArtifact{
		ID:        up.Key,
		Name:      a.Name,
		Size:      up.Size,
		CreatedAt: created,
	}, nil
}

// List returns objects directly under the folder whose name contains filter.
func (s *MinioStore) List(ctx context.Context, filter string) ([]models.RemoteArtifact, error) {
	if err := s.checkBucket(ctx); err != nil {
		return nil, err
	}

	// stops the listing goroutine on early return
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []models.RemoteArtifact
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix(s.folder),
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", s.bucket, mapMinioErr(obj.Err))
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		name := baseName(obj.Key)
		if !strings.Contains(name, filter) {
			continue
		}
		out = append(out, models.RemoteArtifact{
			ID:        obj.Key,
			Name:      name,
			Size:      obj.Size,
			CreatedAt: obj.LastModified,
		})
	}
	return out, nil
}

// Delete removes the object with key id.
func (s *MinioStore) Delete(ctx context.Context, id string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, mapMinioErr(err))
	}
	return nil
}

// Location describes the destination, e.g. "s3://backups/mc (play.example:9000)".
func (s *MinioStore) Location() string {
	loc := "s3://" + s.bucket
	if p := objectKey(s.folder, ""); p != "" {
		loc += "/" + p
	}
	return fmt.Sprintf("%s (%s)", loc, s.endpoint)
}

func (s *MinioStore) Close() error { return nil }

// mapMinioErr turns a NoSuchBucket response into ErrContainerNotFound. The
// bucket can vanish between checkBucket and the request.
func mapMinioErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return fmt.Errorf("%w: %v", ErrContainerNotFound, err)
	}
	return err
}
