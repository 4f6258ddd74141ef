// Package local implements the on-disk session workspace: one directory per
// category plus the manifest at the root.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// ManifestName is the manifest filename at the workspace root.
const ManifestName = "scraped_data.json"

// Dirs are the category directories created in every workspace.
var Dirs = []string{"images", "videos", "text", "metadata", "links", "tables"}

// Workspace is a session-scoped directory tree. Object writes may run
// concurrently with each other; SaveAll, View and Reset see a quiescent
// tree.
type Workspace struct {
	root  string
	owned bool
	mu    sync.RWMutex
}

// NewWorkspace prepares root, or a fresh temporary directory when root is
// empty.
func NewWorkspace(root string) (*Workspace, error) {
	owned := false
	if strings.TrimSpace(root) == "" {
		dir, err := os.MkdirTemp("", "webscraper-")
		if err != nil {
			return nil, &scraper.PersistenceError{Op: "create workspace", Path: os.TempDir(), Err: err}
		}
		root, owned = dir, true
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &scraper.PersistenceError{Op: "create workspace", Path: root, Err: err}
	}
	info, err := os.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		return nil, &scraper.PersistenceError{Op: "create workspace", Path: abs, Err: errors.New("not a directory")}
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, &scraper.PersistenceError{Op: "create workspace", Path: abs, Err: err}
	}
	w := &Workspace{root: abs, owned: owned}
	if err := w.makeDirs(); err != nil {
		return nil, err
	}
	return w, nil
}

// Root is the absolute workspace path.
func (w *Workspace) Root() string {
	return w.root
}

// Path joins rel onto the workspace root.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// PutObject writes data to rel through a temporary file and a rename, so a
// reader never observes a partial file. It returns the absolute path.
func (w *Workspace) PutObject(ctx context.Context, rel string, data io.Reader) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.put(ctx, rel, data)
}

// WriteJSON stores v as indented JSON at rel.
func (w *Workspace) WriteJSON(ctx context.Context, rel string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", &scraper.PersistenceError{Op: "encode json", Path: rel, Err: err}
	}
	return w.PutObject(ctx, rel, bytes.NewReader(append(data, '\n')))
}

// WriteManifest serialises the scrape result to ManifestName.
func (w *Workspace) WriteManifest(ctx context.Context, result scraper.ScrapeResult) (string, error) {
	return w.WriteJSON(ctx, ManifestName, result)
}

// RemoveManifest deletes ManifestName if present, so the tree never carries
// a manifest from an earlier scrape.
func (w *Workspace) RemoveManifest() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := os.Remove(filepath.Join(w.root, ManifestName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &scraper.PersistenceError{Op: "remove manifest", Path: ManifestName, Err: err}
	}
	return nil
}

// View runs fn with the tree held still.
func (w *Workspace) View(fn func(root string) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.root)
}

// SaveAll copies the whole workspace to target. The copy is assembled in a
// staging directory next to target and renamed into place; on failure the
// staging directory is removed and any previous target is left as it was.
func (w *Workspace) SaveAll(ctx context.Context, target string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dest, err := filepath.Abs(target)
	if err != nil {
		return &scraper.PersistenceError{Op: "save", Path: target, Err: err}
	}
	if dest == w.root || strings.HasPrefix(dest, w.root+string(filepath.Separator)) {
		return &scraper.PersistenceError{Op: "save", Path: dest, Err: errors.New("target is inside the workspace")}
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return &scraper.PersistenceError{Op: "save", Path: parent, Err: err}
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".staging-")
	if err != nil {
		return &scraper.PersistenceError{Op: "save", Path: parent, Err: err}
	}
	if err := copyTree(ctx, w.root, staging); err != nil {
		_ = os.RemoveAll(staging)
		return &scraper.PersistenceError{Op: "save", Path: dest, Err: err}
	}
	if err := swap(staging, dest); err != nil {
		_ = os.RemoveAll(staging)
		return &scraper.PersistenceError{Op: "save", Path: dest, Err: err}
	}
	return nil
}

// Reset empties every category directory and removes the manifest.
func (w *Workspace) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dir := range Dirs {
		if err := os.RemoveAll(filepath.Join(w.root, dir)); err != nil {
			return &scraper.PersistenceError{Op: "reset", Path: dir, Err: err}
		}
	}
	if err := os.Remove(filepath.Join(w.root, ManifestName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &scraper.PersistenceError{Op: "reset", Path: ManifestName, Err: err}
	}
	return w.makeDirs()
}

// Close removes the workspace when it was created as a temporary directory.
func (w *Workspace) Close() error {
	if !w.owned {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.RemoveAll(w.root); err != nil {
		return &scraper.PersistenceError{Op: "remove workspace", Path: w.root, Err: err}
	}
	return nil
}

func (w *Workspace) makeDirs() error {
	for _, dir := range Dirs {
		if err := os.MkdirAll(filepath.Join(w.root, dir), 0o750); err != nil {
			return &scraper.PersistenceError{Op: "create workspace", Path: dir, Err: err}
		}
	}
	return nil
}

func (w *Workspace) put(ctx context.Context, rel string, data io.Reader) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", &scraper.PersistenceError{Op: "put", Path: rel, Err: errors.New("path is required")}
	}
	full := filepath.Clean(w.Path(rel))
	if !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", &scraper.PersistenceError{Op: "put", Path: rel, Err: errors.New("path traversal detected")}
	}
	if err := ctx.Err(); err != nil {
		return "", &scraper.PersistenceError{Op: "put", Path: rel, Err: err}
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", &scraper.PersistenceError{Op: "put", Path: rel, Err: err}
	}
	if err := writeAtomic(dir, full, data); err != nil {
		return "", &scraper.PersistenceError{Op: "put", Path: rel, Err: err}
	}
	return full, nil
}

func writeAtomic(dir, full string, data io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(full)+"-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(name, full); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
