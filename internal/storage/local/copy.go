package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// copyTree mirrors every regular file under src into dst. Temporary files
// left by in-progress writes are skipped.
func copyTree(ctx context.Context, src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			return nil
		case strings.HasPrefix(d.Name(), ".tmp-"):
			return nil
		case !d.Type().IsRegular():
			return fmt.Errorf("unsupported file type at %s", rel)
		}
		return copyFile(path, target)
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	// #nosec G304 -- src comes from walking the workspace root.
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy bytes: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}

// swap moves staging to dest. An existing dest is moved aside first and
// restored if the final rename fails.
func swap(staging, dest string) error {
	backup := ""
	if _, err := os.Lstat(dest); err == nil {
		aside, err := os.MkdirTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".old-")
		if err != nil {
			return fmt.Errorf("reserve backup name: %w", err)
		}
		if err := os.Remove(aside); err != nil {
			return fmt.Errorf("reserve backup name: %w", err)
		}
		if err := os.Rename(dest, aside); err != nil {
			return fmt.Errorf("move previous target aside: %w", err)
		}
		backup = aside
	}
	if err := os.Rename(staging, dest); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dest)
		}
		return fmt.Errorf("rename staging into place: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}
