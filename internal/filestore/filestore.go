package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/internal/tracing"
)

// Store owns the media directory layout. Originals, archive versions and
// thumbnails are kept in separate trees, each file named after its document
// id, and every mutation of the media tree runs under the media lock.
type Store struct {
	cfg  config.StorageConfig
	lock *flock.Flock
}

func NewStore(cfg config.StorageConfig) (*Store, error) {
	for _, dir := range []string{cfg.ConsumeDir, cfg.ScratchDir, cfg.OriginalsDir, cfg.ArchiveDir, cfg.ThumbnailDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.MediaLock), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create media lock directory")
	}
	return &Store{
		cfg:  cfg,
		lock: flock.New(cfg.MediaLock),
	}, nil
}

func (s *Store) ConsumeDir() string {
	return s.cfg.ConsumeDir
}

// WithMediaLock runs fn while holding the exclusive media file lock. Callers
// that also open a database transaction must begin the transaction first and
// take the lock inside it, always in that order.
func (s *Store) WithMediaLock(ctx context.Context, fn func() error) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Store.WithMediaLock")
	defer span.Finish()

	if err := s.lock.Lock(); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to acquire media lock")
	}
	defer func() {
		_ = s.lock.Unlock()
	}()
	return fn()
}

// ScratchDir creates and returns a fresh scratch directory for one
// consumption attempt.
func (s *Store) ScratchDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(s.cfg.ScratchDir, prefix+"-")
	if err != nil {
		return "", errors.Wrap(err, "failed to create scratch directory")
	}
	return dir, nil
}

func (s *Store) OriginalPath(filename string) string {
	return filepath.Join(s.cfg.OriginalsDir, filename)
}

func (s *Store) ArchivePath(filename string) string {
	return filepath.Join(s.cfg.ArchiveDir, filename)
}

func (s *Store) ThumbnailPath(filename string) string {
	return filepath.Join(s.cfg.ThumbnailDir, filename)
}

// MediaFilename builds the stored file name for a document, "{id}{ext}".
func MediaFilename(documentID, sourcePath string) string {
	return documentID + filepath.Ext(sourcePath)
}

// StoreOriginal moves a scratch file into the originals tree and returns the
// stored file name. The caller holds the media lock.
func (s *Store) StoreOriginal(documentID, sourcePath string) (string, error) {
	filename := MediaFilename(documentID, sourcePath)
	if err := MoveFile(sourcePath, s.OriginalPath(filename)); err != nil {
		return "", err
	}
	return filename, nil
}

// StoreArchive moves an archive rendition into the archive tree. Archive
// files are always PDF.
func (s *Store) StoreArchive(documentID, sourcePath string) (string, error) {
	filename := documentID + ".pdf"
	if err := MoveFile(sourcePath, s.ArchivePath(filename)); err != nil {
		return "", err
	}
	return filename, nil
}

// StoreThumbnail moves a thumbnail rendition into the thumbnail tree.
func (s *Store) StoreThumbnail(documentID, sourcePath string) (string, error) {
	filename := documentID + filepath.Ext(sourcePath)
	if err := MoveFile(sourcePath, s.ThumbnailPath(filename)); err != nil {
		return "", err
	}
	return filename, nil
}

// RemoveOriginalInput deletes the source file that produced a document, used
// after a successful store or for duplicate cleanup.
func (s *Store) RemoveOriginalInput(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	s.pruneScratch(filepath.Dir(path))
	return nil
}

// pruneScratch removes a per-attempt scratch directory once it is empty.
// Split outputs keep their scratch directory alive until the last child
// request has taken its file; anything outside the scratch tree is left
// alone.
func (s *Store) pruneScratch(dir string) {
	if filepath.Dir(dir) != filepath.Clean(s.cfg.ScratchDir) {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}

// CopyFile copies src to dst, creating parent directories as needed.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", dst)
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", src, dst)
	}
	return out.Sync()
}

// MoveFile renames src to dst, falling back to copy+remove across
// filesystems.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", dst)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	return true, nil
}
