package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estorage/internal/errs"
)

const primary = "db.sqlite"

type entry struct {
	name string
	body string
}

// buildZip writes entries in order; names ending in "/" become directories.
func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		if e.body != "" {
			_, err = fw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func openZip(t *testing.T, data []byte) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if zr == nil {
		t.Fatalf("open zip: %v", err)
	}
	return zr
}

// tree lists every regular file and directory under root as slash paths.
func tree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			rel += "/"
		}
		out = append(out, rel)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func TestDetectPrefix(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		want    string
		wantErr error
	}{
		{
			name:  "flat archive",
			names: []string{"assets/", "assets/a.png", "db.sqlite"},
			want:  "",
		},
		{
			name:  "flat wins over wrapper copy",
			names: []string{"Wrap/db.sqlite", "db.sqlite"},
			want:  "",
		},
		{
			name:  "single wrapper folder",
			names: []string{"MyDB/", "MyDB/db.sqlite", "MyDB/assets/a.png"},
			want:  "MyDB/",
		},
		{
			name:  "wrapper with backslash separators",
			names: []string{`MyDB\db.sqlite`, `MyDB\assets\a.png`},
			want:  "MyDB/",
		},
		{
			name:  "unsafe names ignored for wrapper detection",
			names: []string{"../evil", "MyDB/db.sqlite"},
			want:  "MyDB/",
		},
		{
			name:  "fallback takes first match in archive order",
			names: []string{"readme.txt", "B/db.sqlite", "A/db.sqlite"},
			want:  "B/",
		},
		{
			name:  "fallback with nested primary",
			names: []string{"x.txt", "Outer/Inner/db.sqlite"},
			want:  "Outer/",
		},
		{
			name:  "fallback does not skip unsafe members",
			names: []string{"../evil/db.sqlite", "notes/readme.txt", "other/x"},
			want:  "../",
		},
		{
			name:    "missing primary",
			names:   []string{"assets/a.png", "readme.txt"},
			wantErr: errs.ErrMissingPrimaryFile,
		},
		{
			name:    "case sensitive",
			names:   []string{"DB.sqlite"},
			wantErr: errs.ErrMissingPrimaryFile,
		},
		{
			name:    "empty archive",
			names:   nil,
			wantErr: errs.ErrMissingPrimaryFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectPrefix(tt.names, primary)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_FlatLayout(t *testing.T) {
	data := buildZip(t,
		entry{name: "db.sqlite", body: "SQLite format 3\x00"},
		entry{name: "assets/a.png", body: "png\r\nbytes"},
	)
	zr := openZip(t, data)
	root := filepath.Join(t.TempDir(), "notes")

	prefix, err := DetectPrefix(Names(zr), primary)
	require.NoError(t, err)
	assert.Equal(t, "", prefix)

	res, err := Extract(root, zr, prefix, primary)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, int64(len("SQLite format 3\x00")+len("png\r\nbytes")), res.Bytes)

	assert.Equal(t, []string{"assets/", "assets/a.png", "db.sqlite"}, tree(t, root))

	got, err := os.ReadFile(filepath.Join(root, "assets", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png\r\nbytes", string(got))
}

func TestExtract_WrapperFolderStripped(t *testing.T) {
	data := buildZip(t,
		entry{name: "MyDB/"},
		entry{name: "MyDB/db.sqlite", body: "db"},
		entry{name: "MyDB/assets/"},
		entry{name: "MyDB/assets/a.png", body: "png"},
	)
	zr := openZip(t, data)
	root := filepath.Join(t.TempDir(), "notes")

	prefix, err := DetectPrefix(Names(zr), primary)
	require.NoError(t, err)
	assert.Equal(t, "MyDB/", prefix)

	res, err := Extract(root, zr, prefix, primary)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Dirs)
	assert.Equal(t, []string{"assets/", "assets/a.png", "db.sqlite"}, tree(t, root))
}

func TestExtract_SkipsSiblingsOutsidePrefix(t *testing.T) {
	data := buildZip(t,
		entry{name: "__MACOSX/._db.sqlite", body: "junk"},
		entry{name: "Graph/db.sqlite", body: "db"},
		entry{name: "Graph/pages/p.md", body: "# p"},
	)
	zr := openZip(t, data)
	root := t.TempDir()

	prefix, err := DetectPrefix(Names(zr), primary)
	require.NoError(t, err)
	assert.Equal(t, "Graph/", prefix)

	res, err := Extract(root, zr, prefix, primary)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"db.sqlite", "pages/", "pages/p.md"}, tree(t, root))
}

func TestExtract_UnsafeEntries(t *testing.T) {
	for _, name := range []string{"../outside.txt", "a/../../b.txt", "/abs.txt", `..\win.txt`} {
		t.Run(name, func(t *testing.T) {
			base := t.TempDir()
			root := filepath.Join(base, "db")
			data := buildZip(t,
				entry{name: "db.sqlite", body: "db"},
				entry{name: name, body: "pwned"},
			)

			_, err := Extract(root, openZip(t, data), "", primary)
			assert.ErrorIs(t, err, errs.ErrUnsafeEntry)
			assert.Contains(t, err.Error(), "unsafe archive entry")

			// Nothing may land next to the database directory.
			assert.Equal(t, []string{"db/", "db/db.sqlite"}, tree(t, base))
		})
	}
}

func TestExtract_UnsafeNestedPrimaryRejected(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "db")
	data := buildZip(t,
		entry{name: "../evil/db.sqlite", body: "db"},
		entry{name: "notes/readme.txt", body: "hi"},
	)
	zr := openZip(t, data)

	prefix, err := DetectPrefix(Names(zr), primary)
	require.NoError(t, err)

	_, err = Extract(root, zr, prefix, primary)
	assert.ErrorIs(t, err, errs.ErrUnsafeEntry)
	assert.NoDirExists(t, filepath.Join(base, "evil"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(base), "evil", "db.sqlite"))
}

func TestExtract_TraversalAfterPrefixStrip(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "db")
	data := buildZip(t,
		entry{name: "W/db.sqlite", body: "db"},
		entry{name: "W/..", body: "x"},
	)

	_, err := Extract(root, openZip(t, data), "W/", primary)
	assert.ErrorIs(t, err, errs.ErrPathTraversal)
	assert.Contains(t, err.Error(), `"W/.."`)
}

func TestExtract_MissingPrimaryAfterExtraction(t *testing.T) {
	root := t.TempDir()
	data := buildZip(t,
		entry{name: "Outer/"},
		entry{name: "Outer/Inner/db.sqlite", body: "db"},
		entry{name: "Outer/readme.txt", body: "hi"},
	)
	zr := openZip(t, data)

	prefix, err := DetectPrefix(Names(zr), primary)
	require.NoError(t, err)
	assert.Equal(t, "Outer/", prefix)

	_, err = Extract(root, zr, prefix, primary)
	assert.ErrorIs(t, err, errs.ErrStructureInvalid)

	// The extractor leaves what it wrote for the caller to clean up.
	assert.FileExists(t, filepath.Join(root, "readme.txt"))
}

func TestExtract_PrimaryAsDirectory(t *testing.T) {
	root := t.TempDir()
	data := buildZip(t, entry{name: "db.sqlite/"}, entry{name: "db.sqlite/x", body: "x"})

	_, err := Extract(root, openZip(t, data), "", primary)
	assert.ErrorIs(t, err, errs.ErrStructureInvalid)
}

func TestExtract_OverwritesExistingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "db.sqlite"), []byte("old contents"), 0o644))

	data := buildZip(t, entry{name: "db.sqlite", body: "new"})
	_, err := Extract(root, openZip(t, data), "", primary)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "db.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.Equal(t, []string{"db.sqlite"}, tree(t, root))
}

func TestInspect(t *testing.T) {
	data := buildZip(t,
		entry{name: "MyDB/db.sqlite", body: "db"},
		entry{name: "../evil.txt", body: "x"},
	)
	plan, err := Inspect(openZip(t, data), primary)
	require.NoError(t, err)
	assert.Equal(t, "MyDB/", plan.Prefix)
	assert.Equal(t, 2, plan.Members)
	assert.Equal(t, []string{"../evil.txt"}, plan.Unsafe)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("definitely not a zip"), 0o644))
	_, err := Open(bad)
	assert.ErrorIs(t, err, errs.ErrInvalidArchive)

	good := filepath.Join(dir, "good.zip")
	require.NoError(t, os.WriteFile(good, buildZip(t, entry{name: "db.sqlite", body: "x"}), 0o644))
	rc, err := Open(good)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, []string{"db.sqlite"}, Names(&rc.Reader))

	_, err = Open(filepath.Join(dir, "missing.zip"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrInvalidArchive)
}
