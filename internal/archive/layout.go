// Package archive opens uploaded bundles, works out their folder layout and
// extracts them under a database root without letting any member escape it.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zip"

	"estorage/internal/errs"
	"estorage/internal/pathguard"
)

// Open opens the zip archive at path. Anything that does not parse as a zip
// is reported as errs.ErrInvalidArchive.
func Open(path string) (*zip.ReadCloser, error) {
	rc, err := zip.OpenReader(path)
	if rc != nil {
		// A reader returned alongside an error only complains about member
		// names; Extract applies its own stricter checks to those.
		return rc, nil
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", errs.ErrInvalidArchive, err)
}

// Names returns every member name with backslashes turned into slashes, in
// the order of the archive's central directory.
func Names(r *zip.Reader) []string {
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, normalize(f.Name))
	}
	return names
}

// DetectPrefix finds the prefix to strip from member names so that primary
// ends up at the database root. First match wins:
//
//  1. primary at the top level: ""
//  2. every safe member under one folder F, and F/primary exists: "F/"
//  3. the first member ending in "/"+primary: its first segment plus "/"
//
// The third tier depends on archive order and is only a best-effort fallback.
// It does not filter unsafe names: Extract rejects them before stripping.
func DetectPrefix(names []string, primary string) (string, error) {
	norm := make([]string, len(names))
	set := make(map[string]struct{}, len(names))
	for i, n := range names {
		norm[i] = normalize(n)
		set[norm[i]] = struct{}{}
	}
	names = norm

	if _, ok := set[primary]; ok {
		return "", nil
	}

	if top, ok := singleTopLevel(names); ok {
		if _, ok := set[top+"/"+primary]; ok {
			return top + "/", nil
		}
	}

	suffix := "/" + primary
	for _, n := range names {
		if strings.HasSuffix(n, suffix) {
			return n[:strings.Index(n, "/")+1], nil
		}
	}

	return "", errs.New(errs.ErrMissingPrimaryFile, primary)
}

// singleTopLevel reports the only first path segment shared by all safe
// member names, if there is exactly one.
func singleTopLevel(names []string) (string, bool) {
	top := ""
	for _, n := range names {
		if !pathguard.IsSafeMemberName(n) {
			continue
		}
		seg, _, _ := strings.Cut(n, "/")
		if seg == "" {
			continue
		}
		if top == "" {
			top = seg
			continue
		}
		if seg != top {
			return "", false
		}
	}
	return top, top != ""
}

// Plan summarises what an extraction of r would do.
type Plan struct {
	Prefix  string
	Members int
	Unsafe  []string
}

// Inspect runs layout detection on r and lists members the extractor would
// refuse. It touches no files.
func Inspect(r *zip.Reader, primary string) (Plan, error) {
	names := Names(r)
	plan := Plan{Members: len(names)}
	for _, n := range names {
		if !pathguard.IsSafeMemberName(n) {
			plan.Unsafe = append(plan.Unsafe, n)
		}
	}
	prefix, err := DetectPrefix(names, primary)
	if err != nil {
		return plan, err
	}
	plan.Prefix = prefix
	return plan, nil
}

func normalize(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}
