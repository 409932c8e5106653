// Package storage uploads archives to remote object stores and manages the
// remote copies for retention.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"github.com/chmdznr/worldbackup/internal/config"
	"github.com/chmdznr/worldbackup/pkg/models"
)

// ErrContainerNotFound means the configured bucket does not exist.
var ErrContainerNotFound = errors.New("storage container not found")

// Store is a remote archive container.
type Store interface {
	// Upload copies the local archive and returns its remote identity.
	Upload(ctx context.Context, a models.BackupArtifact) (models.RemoteArtifact, error)
	// List returns archives whose base name contains filter.
	List(ctx context.Context, filter string) ([]models.RemoteArtifact, error)
	// Delete removes the object with the given id. Missing objects are ignored.
	Delete(ctx context.Context, id string) error
	// Location is a human-readable description used in notifications.
	Location() string
	Close() error
}

// Options are settings shared by every backend.
type Options struct {
	Progress bool
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.RemoteConfig, opts Options) (Store, error) {
	if err := cfg.Problem(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "minio":
		return NewMinio(MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Folder:    cfg.Folder,
			Progress:  opts.Progress,
		})
	case "gcs":
		return NewGCS(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Folder:          cfg.Folder,
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
			Progress:        opts.Progress,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// objectKey joins folder and name into a clean slash-separated key. Dot
// segments and empty segments are dropped.
func objectKey(folder, name string) string {
	joined := strings.ReplaceAll(folder+"/"+name, "\\", "/")
	segments := strings.Split(joined, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, "/")
}

// listPrefix returns the key prefix that scopes List to folder.
func listPrefix(folder string) string {
	if p := objectKey(folder, ""); p != "" {
		return p + "/"
	}
	return ""
}

// baseName is the archive name part of a key.
func baseName(key string) string {
	return path.Base(key)
}

// progressReader wraps r in a byte progress bar when enabled. The returned
// func finishes the bar.
func progressReader(r io.Reader, size int64, label string, enabled bool) (io.Reader, func()) {
	if !enabled {
		return r, func() {}
	}
	bar := pb.Full.Start64(size)
	bar.Set(pb.Bytes, true)
	bar.Set("prefix", label+" ")
	return bar.NewProxyReader(r), func() { bar.Finish() }
}
