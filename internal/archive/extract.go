package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zip"

	"estorage/internal/errs"
	"estorage/internal/pathguard"
)

// Result counts what an extraction wrote.
type Result struct {
	Prefix  string
	Files   int
	Dirs    int
	Bytes   int64
	Skipped int // members outside the detected prefix
}

// Extract writes every member of r under targetRoot after stripping prefix.
//
// Members are processed in archive order. Any unsafe member aborts the whole
// extraction; members outside prefix are skipped. After the last member,
// primary must exist as a regular file directly under targetRoot, otherwise
// errs.ErrStructureInvalid is returned. Extract never removes what it already
// wrote; rollback is up to the caller.
func Extract(targetRoot string, r *zip.Reader, prefix, primary string) (Result, error) {
	res := Result{Prefix: prefix}

	if err := os.MkdirAll(targetRoot, 0o755); err != nil {
		return res, fmt.Errorf("create target root: %w", err)
	}
	root, err := pathguard.ResolveUnderRoot(targetRoot, "")
	if err != nil {
		return res, err
	}

	for _, f := range r.File {
		raw := normalize(f.Name)
		if !pathguard.IsSafeMemberName(raw) {
			return res, errs.Quoted(errs.ErrUnsafeEntry, f.Name)
		}

		rel := raw
		if prefix != "" {
			if !strings.HasPrefix(raw, prefix) {
				res.Skipped++
				continue
			}
			rel = raw[len(prefix):]
		}
		rel = strings.TrimLeft(rel, "/")
		if rel == "" {
			continue
		}

		dest, err := pathguard.ResolveUnderRoot(root, rel)
		if err != nil {
			if errors.Is(err, errs.ErrPathTraversal) {
				return res, errs.Quoted(errs.ErrPathTraversal, f.Name)
			}
			return res, err
		}

		if f.Mode().IsDir() || strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return res, fmt.Errorf("create directory for %q: %w", f.Name, err)
			}
			res.Dirs++
			continue
		}
		if dest == root {
			return res, errs.Quoted(errs.ErrUnsafeEntry, f.Name)
		}

		n, err := writeMember(dest, f)
		if err != nil {
			return res, fmt.Errorf("extract %q: %w", f.Name, err)
		}
		res.Files++
		res.Bytes += n
	}

	info, err := os.Stat(filepath.Join(root, primary))
	if err != nil || !info.Mode().IsRegular() {
		return res, errs.New(errs.ErrStructureInvalid, primary)
	}
	return res, nil
}

// writeMember copies the member's bytes verbatim to dest, replacing any
// existing file atomically.
func writeMember(dest string, f *zip.File) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	src, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	pf, err := renameio.TempFile(dir, dest)
	if err != nil {
		return 0, err
	}
	defer pf.Cleanup()

	n, err := io.Copy(pf, src)
	if err != nil {
		return n, err
	}
	if err := pf.Chmod(0o644); err != nil {
		return n, err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return n, err
	}
	return n, nil
}
