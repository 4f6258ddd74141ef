// Package gcs exports a session workspace to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Scheme prefixes every target handled by this package.
const Scheme = "gs://"

// Exporter uploads a local tree under a bucket prefix.
type Exporter struct {
	client   *storage.Client
	manifest string
	logger   *zap.Logger
}

// New creates an Exporter. manifest names the file uploaded last so that
// its presence marks a complete export.
func New(client *storage.Client, manifest string, logger *zap.Logger) (*Exporter, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{client: client, manifest: manifest, logger: logger}, nil
}

// IsTarget reports whether target is a gs:// URI.
func IsTarget(target string) bool {
	return strings.HasPrefix(target, Scheme)
}

// ParseTarget splits gs://bucket/prefix.
func ParseTarget(target string) (bucket, prefix string, err error) {
	if !IsTarget(target) {
		return "", "", fmt.Errorf("target %q is not a %s URI", target, Scheme)
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("parse target: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("target %q has no bucket", target)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// Export uploads every regular file under localRoot to target, manifest
// last, and returns the gs:// URI of the export root.
func (e *Exporter) Export(ctx context.Context, localRoot, target string) (string, error) {
	bucket, prefix, err := ParseTarget(target)
	if err != nil {
		return "", &scraper.PersistenceError{Op: "export", Path: target, Err: err}
	}
	files, err := listFiles(localRoot)
	if err != nil {
		return "", &scraper.PersistenceError{Op: "export", Path: localRoot, Err: err}
	}

	var manifest string
	for _, rel := range files {
		if rel == e.manifest {
			manifest = rel
			continue
		}
		if err := e.upload(ctx, bucket, prefix, localRoot, rel); err != nil {
			return "", err
		}
	}
	if manifest != "" {
		if err := e.upload(ctx, bucket, prefix, localRoot, manifest); err != nil {
			return "", err
		}
	}
	e.logger.Info("workspace exported",
		zap.String("bucket", bucket),
		zap.String("prefix", prefix),
		zap.Int("objects", len(files)),
	)
	return fmt.Sprintf("%s%s/%s", Scheme, bucket, prefix), nil
}

func (e *Exporter) upload(ctx context.Context, bucket, prefix, root, rel string) error {
	name := path.Join(prefix, rel)
	// #nosec G304 -- rel comes from walking the workspace root.
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return &scraper.PersistenceError{Op: "export", Path: rel, Err: err}
	}
	defer func() { _ = f.Close() }()
	if _, err := e.PutObject(ctx, bucket, name, mime.TypeByExtension(path.Ext(rel)), f); err != nil {
		return &scraper.PersistenceError{Op: "export", Path: name, Err: err}
	}
	return nil
}

// PutObject uploads r as bucket/name and returns its gs:// URI.
func (e *Exporter) PutObject(ctx context.Context, bucket, name, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := e.client.Bucket(bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("%s%s/%s", Scheme, bucket, name), nil
}

// listFiles returns slash-separated paths of regular files in walk order,
// skipping temporary files.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		if !d.Type().IsRegular() {
			return errors.New("unsupported file type at " + p)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	return files, nil
}
