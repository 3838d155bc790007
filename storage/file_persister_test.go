package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFilePersister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		path         string
		existingData string
		data         string
		truncates    bool
		rooted       bool
	}{
		{
			name: "just_file",
			path: "test.txt",
			data: "some data",
		},
		{
			name: "with_dir",
			path: "path/test.txt",
			data: "some data",
		},
		{
			name:         "truncates",
			path:         "test.txt",
			data:         "some data",
			truncates:    true,
			existingData: "existing data",
		},
		{
			name:   "relative_to_root",
			path:   "screenshots/final.png",
			data:   "some data",
			rooted: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir, err := os.MkdirTemp("", "*")
			require.NoError(t, err)
			t.Cleanup(func() { _ = os.RemoveAll(dir) })
			p := filepath.Join(dir, tt.path)

			// We want to make sure that the persister truncates the existing
			// data and therefore overwrites existing data. This sets up a file
			// with some existing data that should be overwritten.
			if tt.truncates {
				err = os.WriteFile(p, []byte(tt.existingData), 0o600)
				require.NoError(t, err)
			}

			l := &LocalFilePersister{}
			if tt.rooted {
				l.Root = dir
				p = filepath.Join(dir, tt.path)
			}
			err = l.Persist(context.Background(), persistPath(tt.rooted, tt.path, p), strings.NewReader(tt.data))
			assert.NoError(t, err)

			i, err := os.Stat(p)
			require.NoError(t, err)
			assert.False(t, i.IsDir())

			f, err := os.Open(filepath.Clean(p))
			require.NoError(t, err)
			defer func() {
				err = f.Close()
				require.NoError(t, err)
			}()

			bb, err := io.ReadAll(f)
			require.NoError(t, err)

			if tt.truncates {
				assert.NotEqual(t, tt.existingData, string(bb))
			}

			assert.Equal(t, tt.data, string(bb))
		})
	}
}

func persistPath(rooted bool, rel, abs string) string {
	if rooted {
		return rel
	}
	return abs
}

func TestLocalFilePersisterOutsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l := &LocalFilePersister{Root: root}

	err := l.Persist(context.Background(), "../escape.txt", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside of")

	_, err = os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDir(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "root")
	d, err := MakeDir(root, "lightpanda")
	require.NoError(t, err)

	assert.Equal(t, root, d.Root)
	assert.Equal(t, root, filepath.Dir(d.Dir))
	assert.True(t, strings.HasPrefix(filepath.Base(d.Dir), "lightpanda-"))
	assert.Equal(t, filepath.Join(d.Dir, "a", "b"), d.Path("a", "b"))

	other, err := MakeDir(root, "lightpanda")
	require.NoError(t, err)
	assert.NotEqual(t, d.Dir, other.Dir)

	require.NoError(t, os.WriteFile(d.Path("file"), []byte("x"), 0o600))
	require.NoError(t, d.Cleanup())
	require.NoError(t, d.Cleanup())

	_, err = os.Stat(d.Dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(other.Dir)
	require.NoError(t, err, "cleanup must not touch other sessions")
	_, err = os.Stat(root)
	require.NoError(t, err, "cleanup must not remove the storage root")

	_, err = MakeDir(" ", "x")
	assert.ErrorIs(t, err, ErrNoRoot)
}
