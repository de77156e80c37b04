// Package store keeps one directory per named database under a base
// directory. Uploads replace a database wholesale; reads list directories and
// open files, always confined to the database root.
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
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"estorage/internal/archive"
	"estorage/internal/config"
	"estorage/internal/errs"
	"estorage/internal/lock"
	"estorage/internal/model"
	"estorage/internal/pathguard"
	"estorage/internal/storage"
)

const defaultPrimaryFile = "db.sqlite"

// Store is safe for concurrent use. Uploads to the same name are serialized
// by the Locker; reads never wait for uploads and may observe a database
// while it is being replaced.
type Store struct {
	baseDir    string
	scratchDir string
	primary    string
	locker     lock.Locker
	mirror     storage.Storage
	log        *zap.Logger
}

// New creates the base and scratch directories if needed. mirror may be nil.
func New(cfg config.StoreConfig, locker lock.Locker, mirror storage.Storage, log *zap.Logger) (*Store, error) {
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	scratchDir, err := filepath.Abs(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch dir: %w", err)
	}
	for _, dir := range []string{base, scratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	// Database roots are compared against the canonical base directory.
	if base, err = filepath.EvalSymlinks(base); err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	primary := cfg.PrimaryFile
	if primary == "" {
		primary = defaultPrimaryFile
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Store{
		baseDir:    base,
		scratchDir: scratchDir,
		primary:    primary,
		locker:     locker,
		mirror:     mirror,
		log:        log,
	}, nil
}

// PrimaryFile is the marker file every database root contains.
func (s *Store) PrimaryFile() string { return s.primary }

// Ping reports whether the base directory is reachable.
func (s *Store) Ping() error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.baseDir)
	}
	return nil
}

// ListDatabases returns the names of all immediate subdirectories of the base
// directory, sorted. Other entries are ignored.
func (s *Store) ListDatabases() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Upload stores the archive read from r as database name, replacing any
// previous contents.
//
// The archive is spooled to a scratch file that is removed on every exit
// path. The old database directory is removed before extraction starts, so a
// failed upload never leaves the previous contents in place; the partially
// extracted directory is removed as well.
func (s *Store) Upload(ctx context.Context, name string, r io.Reader) (*model.UploadResult, error) {
	name, err := pathguard.ValidateIdentifier(name)
	if err != nil {
		return nil, err
	}

	sc, err := s.spool(name, r)
	if sc != nil {
		defer s.releaseScratch(sc)
	}
	if err != nil {
		return nil, err
	}

	zr, err := archive.Open(sc.path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	release, err := s.locker.Acquire(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("lock %q: %w", name, err)
	}
	defer func() {
		if err := release(); err != nil {
			s.log.Warn("upload_lock_release_failed", zap.String("db", name), zap.Error(err))
		}
	}()

	root, err := s.dbRoot(name)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("remove previous %q: %w", name, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}

	res, err := s.extract(root, &zr.Reader)
	if err != nil {
		if rmErr := os.RemoveAll(root); rmErr != nil {
			s.log.Warn("partial_database_cleanup_failed", zap.String("db", name), zap.Error(rmErr))
		}
		return nil, err
	}

	s.mirrorBundle(ctx, name, sc)

	return &model.UploadResult{
		OK:            true,
		DB:            name,
		Prefix:        res.Prefix,
		Files:         res.Files,
		Dirs:          res.Dirs,
		Bytes:         res.Bytes,
		ArchiveSize:   sc.size,
		ArchiveSHA256: sc.sha256,
	}, nil
}

func (s *Store) extract(root string, zr *zip.Reader) (archive.Result, error) {
	prefix, err := archive.DetectPrefix(archive.Names(zr), s.primary)
	if err != nil {
		return archive.Result{}, err
	}
	return archive.Extract(root, zr, prefix, s.primary)
}

// ListDirectory lists the immediate children of rel inside database name:
// directories first, then case-insensitively by name. Files carry a freshly
// computed SHA-256.
func (s *Store) ListDirectory(name, rel string) ([]model.DirEntry, error) {
	node, err := s.Stat(name, rel)
	if err != nil {
		return nil, err
	}
	if !node.IsDir {
		return nil, errs.Quoted(errs.ErrNotFound, rel)
	}
	return listLevel(node.Path)
}

// ReadFile opens the file at rel inside database name. The caller closes it.
func (s *Store) ReadFile(name, rel string) (*os.File, fs.FileInfo, error) {
	node, err := s.Stat(name, rel)
	if err != nil {
		return nil, nil, err
	}
	if node.IsDir {
		return nil, nil, errs.Quoted(errs.ErrNotFound, rel)
	}
	f, err := os.Open(node.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, errs.Quoted(errs.ErrNotFound, rel)
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// Node is a resolved path inside a database.
type Node struct {
	Path  string
	IsDir bool
}

// Stat resolves rel inside database name. An empty rel is the database root.
func (s *Store) Stat(name, rel string) (Node, error) {
	root, err := s.existingRoot(name)
	if err != nil {
		return Node{}, err
	}
	target, err := pathguard.Confine(root, rel)
	if err != nil {
		return Node{}, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) || isNotDir(err) {
			return Node{}, errs.Quoted(errs.ErrNotFound, rel)
		}
		return Node{}, err
	}
	switch {
	case info.IsDir():
		return Node{Path: target, IsDir: true}, nil
	case info.Mode().IsRegular():
		return Node{Path: target}, nil
	default:
		return Node{}, errs.Quoted(errs.ErrNotFound, rel)
	}
}

func (s *Store) dbRoot(name string) (string, error) {
	root, err := pathguard.ResolveUnderRoot(s.baseDir, name)
	if err != nil {
		return "", err
	}
	if root == s.baseDir || filepath.Dir(root) != s.baseDir {
		return "", errs.Quoted(errs.ErrInvalidIdentifier, name)
	}
	return root, nil
}

func (s *Store) existingRoot(name string) (string, error) {
	name, err := pathguard.ValidateIdentifier(name)
	if err != nil {
		return "", err
	}
	root, err := s.dbRoot(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", errs.New(errs.ErrNotFound, fmt.Sprintf("database %q", name))
	}
	return root, nil
}

func listLevel(dir string) ([]model.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]model.DirEntry, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Type()&fs.ModeSymlink != 0:
			continue
		case e.IsDir():
			out = append(out, model.DirEntry{Type: model.EntryDir, Name: e.Name()})
		case e.Type().IsRegular():
			sum, err := Digest(filepath.Join(dir, e.Name()))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, err
			}
			out = append(out, model.DirEntry{Type: model.EntryFile, Name: e.Name(), SHA256: sum})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if (out[i].Type == model.EntryDir) != (out[j].Type == model.EntryDir) {
			return out[i].Type == model.EntryDir
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Digest returns the hex SHA-256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, 1<<20)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
