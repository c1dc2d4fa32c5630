package loader

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
)

func quietLoader() *Loader {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Metadata(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "leave.md", "## Leave Policy\nAnnual leave is 20 days.")

	doc, err := quietLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "## Leave Policy\nAnnual leave is 20 days.", doc.Content)
	assert.Equal(t, path, doc.Metadata[domain.MetaSource])
	assert.Equal(t, "leave.md", doc.Metadata[domain.MetaFilename])
	assert.Equal(t, "markdown", doc.Metadata[domain.MetaFileType])
	assert.Equal(t, "40", doc.Metadata[domain.MetaFileSize])
}

func TestLoad_Missing(t *testing.T) {
	_, err := quietLoader().Load(filepath.Join(t.TempDir(), "nope.md"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoad_Directory(t *testing.T) {
	_, err := quietLoader().Load(t.TempDir())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoad_InvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.md", string([]byte{0xff, 0xfe, 0xfd}))

	_, err := quietLoader().Load(path)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDiscover_MissingDirectory(t *testing.T) {
	paths, err := quietLoader().Discover(filepath.Join(t.TempDir(), "absent"), "*.md")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestDiscover_PatternAndOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.md", "b")
	writeFile(t, dir, "a.md", "a")
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.md"), 0o755))

	paths, err := quietLoader().Discover(dir, "")
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.md"), filepath.Join(dir, "b.md")}, paths)
}

func TestDiscover_BadPattern(t *testing.T) {
	_, err := quietLoader().Discover(t.TempDir(), "[")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoadDirectory_SkipsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.md", "## Good\nfine")
	writeFile(t, dir, "bad.md", string([]byte{0xff}))

	docs, err := quietLoader().LoadDirectory(dir, "*.md")
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "good.md", docs[0].Metadata[domain.MetaFilename])
}
