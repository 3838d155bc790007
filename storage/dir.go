// Package storage manages the files a browser session writes.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNoRoot is returned when a session directory is made without a root.
var ErrNoRoot = errors.New("storage root is not set")

// Dir is a session-unique working directory under a storage root. Nothing
// outside of it is ever written or removed.
type Dir struct {
	Root string
	Dir  string

	mu      sync.Mutex
	removed bool
}

// MakeDir creates a new directory named "<prefix>-<uuid>" under root,
// creating root first if needed.
func MakeDir(root, prefix string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ErrNoRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root %q: %w", root, err)
	}

	name := uuid.NewString()
	if prefix != "" {
		name = prefix + "-" + name
	}
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory %q: %w", dir, err)
	}

	return &Dir{Root: root, Dir: dir}, nil
}

// Path returns the path of elem inside the directory.
func (d *Dir) Path(elem ...string) string {
	return filepath.Join(append([]string{d.Dir}, elem...)...)
}

// Cleanup removes the directory and everything in it. It is safe to call
// more than once.
func (d *Dir) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed {
		return nil
	}
	if err := os.RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("removing session directory %q: %w", d.Dir, err)
	}
	d.removed = true

	return nil
}
