package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"

	"go.uber.org/zap"

	"estorage/internal/storage"
)

// scratch is an uploaded archive spooled to local disk.
type scratch struct {
	path   string
	size   int64
	sha256 string
}

// spool copies r into a new scratch file for name. A non-nil scratch is
// returned whenever a file was created, even on error, so the caller can
// release it.
func (s *Store) spool(name string, r io.Reader) (*scratch, error) {
	f, err := os.CreateTemp(s.scratchDir, name+"-*.upload.zip")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	sc := &scratch{path: f.Name()}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return sc, fmt.Errorf("write scratch file: %w", err)
	}
	sc.size = n
	sc.sha256 = hex.EncodeToString(h.Sum(nil))
	return sc, nil
}

// releaseScratch removes the scratch file. Failures are logged and never
// change the outcome of the upload.
func (s *Store) releaseScratch(sc *scratch) {
	if err := os.Remove(sc.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("scratch_cleanup_failed", zap.String("path", sc.path), zap.Error(err))
	}
}

// mirrorBundle copies the accepted archive to object storage when a mirror
// is configured. The upload has already succeeded, so errors are only logged.
func (s *Store) mirrorBundle(ctx context.Context, name string, sc *scratch) {
	if s.mirror == nil {
		return
	}
	f, err := os.Open(sc.path)
	if err != nil {
		s.log.Warn("bundle_mirror_failed", zap.String("db", name), zap.Error(err))
		return
	}
	defer f.Close()

	_, err = s.mirror.Put(ctx, storage.BundleKey(name), f, storage.PutObjectOptions{
		Size:        sc.size,
		ContentType: "application/zip",
		Metadata:    map[string]string{"sha256": sc.sha256},
	})
	if err != nil {
		s.log.Warn("bundle_mirror_failed", zap.String("db", name), zap.Error(err))
	}
}

func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}
