package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// writeTree materializes relative-path -> content under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// readTree returns relative-path -> content for all regular files under root.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	found := make(map[string]string)
	require.NoError(t, filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if !info.Mode().IsRegular() {
			return nil
		}
		rel := lo.Must(filepath.Rel(root, p))
		data := lo.Must(os.ReadFile(p))
		found[filepath.ToSlash(rel)] = string(data)
		return nil
	}))
	return found
}

// archiveEntryNames lists the tar entry names inside a .tar.zst file.
func archiveEntryNames(t *testing.T, archivePath string) []string {
	t.Helper()
	f := lo.Must(os.Open(archivePath))
	defer func() { lo.Must0(f.Close()) }()
	dec := lo.Must(zstd.NewReader(f))
	defer dec.Close()

	var names []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestStreamCodec_RoundTrip(t *testing.T) {
	codec := newStreamCodec(afero.NewOsFs())

	files := map[string]string{
		"tabby.db":               "sqlite payload",
		"config/server.toml":     "port = 8080",
		"models/weights.bin":     "binary weights",
		"models/sub/shard-0.bin": "shard zero",
	}
	source := filepath.Join(t.TempDir(), "tabbyclassmodels")
	writeTree(t, source, files)

	work := t.TempDir()
	archivePath := filepath.Join(work, "db.tar.zst")
	require.NoError(t, codec.Create(t.Context(), source, archivePath, nil))

	target := t.TempDir()
	require.NoError(t, codec.Extract(t.Context(), archivePath, target))

	// Extraction recreates <target>/<base name>/... byte-identical.
	assert.Equal(t, files, readTree(t, filepath.Join(target, "tabbyclassmodels")))
}

func TestStreamCodec_SingleRootEntry(t *testing.T) {
	codec := newStreamCodec(afero.NewOsFs())

	source := filepath.Join(t.TempDir(), "tabbyclassmodels")
	writeTree(t, source, map[string]string{"a.txt": "a", "d/b.txt": "b"})

	archivePath := filepath.Join(t.TempDir(), "out.tar.zst")
	require.NoError(t, codec.Create(t.Context(), source, archivePath, nil))

	for _, name := range archiveEntryNames(t, archivePath) {
		root := strings.SplitN(name, "/", 2)[0]
		assert.Equal(t, "tabbyclassmodels", root, "entry %q", name)
	}
}

func TestStreamCodec_Exclusions(t *testing.T) {
	codec := newStreamCodec(afero.NewOsFs())

	source := filepath.Join(t.TempDir(), "tabbyclassmodels")
	writeTree(t, source, map[string]string{
		"tabby.db":              "db",
		"models/weights.bin":    "weights",
		"models/sub/shard.bin":  "shard",
		"models-v2/weights.bin": "newer weights",
	})

	archivePath := filepath.Join(t.TempDir(), "out.tar.zst")
	require.NoError(t, codec.Create(t.Context(), source, archivePath, []string{"models"}))

	target := t.TempDir()
	require.NoError(t, codec.Extract(t.Context(), archivePath, target))

	got := readTree(t, filepath.Join(target, "tabbyclassmodels"))
	assert.Equal(t, map[string]string{
		"tabby.db": "db",
		// Exclusion is prefix-per-segment, not substring: models-v2 stays.
		"models-v2/weights.bin": "newer weights",
	}, got)
}

func TestStreamCodec_ExtractOverwrites(t *testing.T) {
	codec := newStreamCodec(afero.NewOsFs())

	source := filepath.Join(t.TempDir(), "data")
	writeTree(t, source, map[string]string{"file.txt": "fresh"})

	archivePath := filepath.Join(t.TempDir(), "out.tar.zst")
	require.NoError(t, codec.Create(t.Context(), source, archivePath, nil))

	target := t.TempDir()
	writeTree(t, filepath.Join(target, "data"), map[string]string{"file.txt": "stale"})

	require.NoError(t, codec.Extract(t.Context(), archivePath, target))
	assert.Equal(t, map[string]string{"file.txt": "fresh"}, readTree(t, filepath.Join(target, "data")))
}

func TestStreamCodec_ExtractCorrupt(t *testing.T) {
	codec := newStreamCodec(afero.NewOsFs())

	archivePath := filepath.Join(t.TempDir(), "corrupt.tar.zst")
	require.NoError(t, os.WriteFile(archivePath, []byte("definitely not zstd"), 0o644))

	err := codec.Extract(t.Context(), archivePath, t.TempDir())
	require.Error(t, err)
}

func TestStreamCodec_MemMapFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := newStreamCodec(fs)

	require.NoError(t, fs.MkdirAll("/src/tabbyclassmodels/nested", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/src/tabbyclassmodels/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/tabbyclassmodels/nested/b.txt", []byte("b"), 0o644))

	require.NoError(t, codec.Create(t.Context(), "/src/tabbyclassmodels", "/work/out.tar.zst", nil))
	require.NoError(t, codec.Extract(t.Context(), "/work/out.tar.zst", "/restore"))

	a, err := afero.ReadFile(fs, "/restore/tabbyclassmodels/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(a))
	b, err := afero.ReadFile(fs, "/restore/tabbyclassmodels/nested/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b", string(b))
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		name       string
		rel        string
		exclusions []string
		want       bool
	}{
		{name: "exact match", rel: "models", exclusions: []string{"models"}, want: true},
		{name: "child of excluded dir", rel: "models/weights.bin", exclusions: []string{"models"}, want: true},
		{name: "deep child", rel: "models/sub/shard.bin", exclusions: []string{"models"}, want: true},
		{name: "substring is not a match", rel: "models-v2/weights.bin", exclusions: []string{"models"}, want: false},
		{name: "unrelated path", rel: "tabby.db", exclusions: []string{"models"}, want: false},
		{name: "trailing slash in exclusion", rel: "models/weights.bin", exclusions: []string{"models/"}, want: true},
		{name: "no exclusions", rel: "models", exclusions: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, excluded(tt.rel, tt.exclusions))
		})
	}
}

// failingCodec always errors, to exercise archiver fallback.
type failingCodec struct{}

func (failingCodec) Name() string { return "failing" }
func (failingCodec) Create(context.Context, string, string, []string) error {
	return errors.New("boom")
}
func (failingCodec) Extract(context.Context, string, string) error {
	return errors.New("boom")
}

func TestArchiver_FallbackOnPrimaryFailure(t *testing.T) {
	source := filepath.Join(t.TempDir(), "data")
	writeTree(t, source, map[string]string{"file.txt": "content"})

	a := &Archiver{
		logger:   zaptest.NewLogger(t),
		primary:  failingCodec{},
		fallback: newStreamCodec(afero.NewOsFs()),
	}

	archivePath := filepath.Join(t.TempDir(), "out.tar.zst")
	require.NoError(t, a.Create(t.Context(), source, archivePath, nil))

	target := t.TempDir()
	require.NoError(t, a.Extract(t.Context(), archivePath, target))
	assert.Equal(t, map[string]string{"file.txt": "content"}, readTree(t, filepath.Join(target, "data")))
}

func TestArchiver_BothCodecsFail(t *testing.T) {
	source := filepath.Join(t.TempDir(), "data")
	writeTree(t, source, map[string]string{"file.txt": "content"})

	a := &Archiver{
		logger:   zaptest.NewLogger(t),
		primary:  failingCodec{},
		fallback: failingCodec{},
	}

	err := a.Create(t.Context(), source, filepath.Join(t.TempDir(), "out.tar.zst"), nil)
	require.Error(t, err)
}

func TestArchiver_CreateMissingSource(t *testing.T) {
	a := &Archiver{logger: zaptest.NewLogger(t), primary: newStreamCodec(afero.NewOsFs())}
	err := a.Create(t.Context(), filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "out.tar.zst"), nil)
	require.Error(t, err)
}

func TestNew_RequireSystemToolsMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := New(zaptest.NewLogger(t), Options{RequireSystem: true})
	require.ErrorIs(t, err, ErrToolMissing)
}

func TestNew_FallsBackWhenToolsMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	a, err := New(zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, "in-process", a.CodecName())
}
