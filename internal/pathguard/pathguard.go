// Package pathguard validates database names and confines filesystem paths to
// a root directory. Every read request and every archive member destination
// passes through ResolveUnderRoot.
package pathguard

import (
	"net/url"
	"path/filepath"
	"strings"

	"estorage/internal/errs"
)

// ValidateIdentifier checks a database name and returns it trimmed.
// Allowed characters are ASCII letters, digits, space, '.', '_' and '-'.
func ValidateIdentifier(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", errs.New(errs.ErrInvalidIdentifier, "name cannot be empty")
	}
	for _, r := range name {
		if !isIdentifierRune(r) {
			return "", errs.Quoted(errs.ErrInvalidIdentifier, string(r))
		}
	}
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.Contains(name, "/") || name == "." || name == ".." {
		return "", errs.Quoted(errs.ErrInvalidIdentifier, name)
	}
	return name, nil
}

func isIdentifierRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// NormalizeRelativePath URL-decodes raw once, converts backslashes to forward
// slashes and strips leading slashes. It rejects nothing; confinement is the
// job of ResolveUnderRoot.
func NormalizeRelativePath(raw string) string {
	p := raw
	if dec, err := url.PathUnescape(raw); err == nil {
		p = dec
	}
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.TrimLeft(p, "/")
}

// ResolveUnderRoot joins rel onto root and canonicalizes the result. It
// succeeds only when the canonical path is root itself or a descendant of it.
func ResolveUnderRoot(root, rel string) (string, error) {
	canonRoot, err := canonical(root)
	if err != nil {
		return "", err
	}
	rel = strings.ReplaceAll(rel, `\`, "/")
	target, err := canonical(filepath.Join(canonRoot, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	if !within(canonRoot, target) {
		return "", errs.Quoted(errs.ErrPathTraversal, rel)
	}
	return target, nil
}

// Confine normalizes a client-supplied path and resolves it under root.
func Confine(root, raw string) (string, error) {
	return ResolveUnderRoot(root, NormalizeRelativePath(raw))
}

// IsSafeMemberName is the lexical zip-slip prefilter applied to archive
// member names before any path resolution.
func IsSafeMemberName(raw string) bool {
	name := strings.ReplaceAll(raw, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, "../") {
		return false
	}
	return !strings.Contains(name, "/../")
}

func within(root, target string) bool {
	if target == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}

// canonical makes p absolute and resolves symlinks along its longest existing
// prefix. Components that do not exist yet are appended unchanged.
// Paths reaching here are already cleaned, so the tail holds no "..".
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	existing := abs
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		// Missing components and non-directories in the middle of the path
		// are both answered by walking up to the nearest resolvable parent.
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}
