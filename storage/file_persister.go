package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilePersister will persist files. It abstracts away the where and how of
// writing files to the source destination.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister will persist files to the local disk.
//
// With a Root set, relative paths are resolved against it and paths that
// would land outside of it are refused.
type LocalFilePersister struct {
	Root string
}

// Persist writes the contents of data to path. The file is replaced
// atomically, so readers never see a partial write.
func (l *LocalFilePersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	cp, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(cp)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(cp)+".*")
	if err != nil {
		return fmt.Errorf("creating a local file in %q: %w", dir, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = io.Copy(f, data); err != nil {
		return fmt.Errorf("writing the local file %q: %w", cp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing the local file %q: %w", cp, err)
	}
	if err = os.Rename(f.Name(), cp); err != nil {
		return fmt.Errorf("moving the local file to %q: %w", cp, err)
	}

	return nil
}

func (l *LocalFilePersister) resolve(path string) (string, error) {
	cp := filepath.Clean(path)
	if l.Root == "" {
		return cp, nil
	}

	root := filepath.Clean(l.Root)
	if !filepath.IsAbs(cp) {
		cp = filepath.Join(root, cp)
	}
	rel, err := filepath.Rel(root, cp)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside of %q", path, root)
	}

	return cp, nil
}
