package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/metaportal/internal/domain/asset"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("qr"), 0o644))
}

func pointerTo(t *testing.T, dir, name string) Pointer {
	t.Helper()
	fn, err := asset.ParseFileName(name)
	require.NoError(t, err)
	target := asset.NewPath(dir, fn)
	return Pointer{
		Path:   filepath.Join(dir, asset.LatestPointerName(fn.Chain, fn.Extension)),
		Target: target,
	}
}

func TestPublish(t *testing.T) {
	root := t.TempDir()
	qr := filepath.Join(root, "public", "qr")
	dataFile := filepath.Join(root, "public", "data.json")
	touch(t, filepath.Join(qr, "kusama_metadata_9.apng"))
	touch(t, filepath.Join(qr, "kusama_metadata_10.apng"))

	snap := NewSnapshot()
	snap.Set("kusama", sampleSpec("Kusama"))

	p := pointerTo(t, qr, "kusama_metadata_9.apng")
	require.NoError(t, Publish(context.Background(), snap, []Pointer{p}, dataFile))

	link, err := os.Readlink(p.Path)
	require.NoError(t, err)
	require.Equal(t, "kusama_metadata_9.apng", link)

	// an existing pointer is replaced
	p = pointerTo(t, qr, "kusama_metadata_10.apng")
	require.NoError(t, Publish(context.Background(), snap, []Pointer{p}, dataFile))
	link, err = os.Readlink(p.Path)
	require.NoError(t, err)
	require.Equal(t, "kusama_metadata_10.apng", link)

	data, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	require.Equal(t, "qr", string(data))

	got, err := ReadFile(dataFile)
	require.NoError(t, err)
	require.Equal(t, []string{"kusama"}, got.IDs())
}

func TestPublish_IsIdempotent(t *testing.T) {
	root := t.TempDir()
	qr := filepath.Join(root, "qr")
	dataFile := filepath.Join(root, "data.json")
	touch(t, filepath.Join(qr, "kusama_metadata_9.apng"))

	snap := NewSnapshot()
	snap.Set("kusama", sampleSpec("Kusama"))
	p := pointerTo(t, qr, "kusama_metadata_9.apng")

	require.NoError(t, Publish(context.Background(), snap, []Pointer{p}, dataFile))
	first, err := os.ReadFile(dataFile)
	require.NoError(t, err)
	require.NoError(t, Publish(context.Background(), snap, []Pointer{p}, dataFile))
	second, err := os.ReadFile(dataFile)
	require.NoError(t, err)
	require.Equal(t, first, second)

	entries, err := os.ReadDir(qr)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRepoint_ReplacesRegularFile(t *testing.T) {
	qr := t.TempDir()
	touch(t, filepath.Join(qr, "kusama_metadata_9.apng"))
	p := pointerTo(t, qr, "kusama_metadata_9.apng")
	touch(t, p.Path)

	require.NoError(t, Repoint(p))
	info, err := os.Lstat(p.Path)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestRepoint_RejectsForeignDirectory(t *testing.T) {
	qr := t.TempDir()
	p := pointerTo(t, qr, "kusama_metadata_9.apng")
	p.Path = filepath.Join(t.TempDir(), filepath.Base(p.Path))

	require.Error(t, Repoint(p))
}

func TestPublish_DataFileFailureAfterPointers(t *testing.T) {
	root := t.TempDir()
	qr := filepath.Join(root, "qr")
	touch(t, filepath.Join(qr, "kusama_metadata_9.apng"))
	blocker := filepath.Join(root, "blocker")
	touch(t, blocker)

	snap := NewSnapshot()
	err := Publish(context.Background(), snap, nil, filepath.Join(blocker, "data.json"))
	require.Error(t, err)
}
