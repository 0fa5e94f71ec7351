package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstack/docstack/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	store, err := NewStore(config.StorageConfig{
		ConsumeDir:   filepath.Join(root, "consume"),
		ScratchDir:   filepath.Join(root, "scratch"),
		OriginalsDir: filepath.Join(root, "originals"),
		ArchiveDir:   filepath.Join(root, "archive"),
		ThumbnailDir: filepath.Join(root, "thumbnails"),
		MediaLock:    filepath.Join(root, "media.lock"),
	})
	require.NoError(t, err)
	return store
}

func TestNewStore_CreatesDirectories(t *testing.T) {
	store := newTestStore(t)

	for _, dir := range []string{
		store.cfg.ConsumeDir,
		store.cfg.ScratchDir,
		store.cfg.OriginalsDir,
		store.cfg.ArchiveDir,
		store.cfg.ThumbnailDir,
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestMediaFilename(t *testing.T) {
	assert.Equal(t, "doc_abc.pdf", MediaFilename("doc_abc", "/scratch/scan.pdf"))
	assert.Equal(t, "doc_abc.tiff", MediaFilename("doc_abc", "upload.tiff"))
	assert.Equal(t, "doc_abc", MediaFilename("doc_abc", "noext"))
}

func TestStoreOriginal(t *testing.T) {
	store := newTestStore(t)
	src := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	filename, err := store.StoreOriginal("doc_abc", src)

	require.NoError(t, err)
	assert.Equal(t, "doc_abc.pdf", filename)

	stored, err := os.ReadFile(store.OriginalPath(filename))
	require.NoError(t, err)
	assert.Equal(t, "content", string(stored))

	// The source was moved, not copied.
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestStoreArchive_AlwaysPdf(t *testing.T) {
	store := newTestStore(t)
	src := filepath.Join(t.TempDir(), "archive.anything")
	require.NoError(t, os.WriteFile(src, []byte("pdf bytes"), 0o644))

	filename, err := store.StoreArchive("doc_abc", src)

	require.NoError(t, err)
	assert.Equal(t, "doc_abc.pdf", filename)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	require.NoError(t, CopyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	// Source stays in place.
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "sub", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))

	require.NoError(t, MoveFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = FileExists(filepath.Join(dir, "absent.txt"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWithMediaLock(t *testing.T) {
	store := newTestStore(t)

	ran := false
	err := store.WithMediaLock(context.Background(), func() error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRemoveOriginalInput_PrunesEmptyScratchDir(t *testing.T) {
	store := newTestStore(t)

	scratch, err := store.ScratchDir("split")
	require.NoError(t, err)
	first := filepath.Join(scratch, "scan_document_0.pdf")
	second := filepath.Join(scratch, "scan_document_1.pdf")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("b"), 0o644))

	// The directory survives while a sibling output is still waiting.
	require.NoError(t, store.RemoveOriginalInput(first))
	info, err := os.Stat(scratch)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// The last consumed output takes the directory with it.
	require.NoError(t, store.RemoveOriginalInput(second))
	_, err = os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveOriginalInput_LeavesConsumeDirAlone(t *testing.T) {
	store := newTestStore(t)

	path := filepath.Join(store.cfg.ConsumeDir, "only.pdf")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	require.NoError(t, store.RemoveOriginalInput(path))
	info, err := os.Stat(store.cfg.ConsumeDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
