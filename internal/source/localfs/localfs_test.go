package localfs

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashugupta786/sp/internal/source"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTree(t *testing.T) *Provider {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "Q1_2024/Retail/Acme/a.pdf", "alpha")
	writeFile(t, root, "Q1_2024/Retail/Acme/sub/b.pdf", "beta")
	writeFile(t, root, "Q1_2024/Retail/Acme/.DS_Store", "junk")
	writeFile(t, root, "Q1_2024/Energy/Globex/c.pdf", "gamma")
	writeFile(t, root, "Q1_2024/readme.txt", "top level file")
	p, err := New(root)
	require.NoError(t, err)
	return p
}

func TestListFolders(t *testing.T) {
	p := newTree(t)
	folders, err := p.ListFolders(context.Background(), "Q1_2024")
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, source.Folder{Name: "Energy", Path: "Q1_2024/Energy"}, folders[0])
	assert.Equal(t, source.Folder{Name: "Retail", Path: "Q1_2024/Retail"}, folders[1])
}

func TestListFilesIsRecursive(t *testing.T) {
	p := newTree(t)
	files, err := p.ListFiles(context.Background(), "Q1_2024/Retail/Acme")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.pdf", files[0].Name)
	assert.Equal(t, "sub/b.pdf", files[1].RelativePath)
	assert.Equal(t, "Q1_2024/Retail/Acme/sub/b.pdf", files[1].Path)
	assert.Equal(t, int64(4), files[1].Size)

	data, err := p.FetchContent(context.Background(), files[1])
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
}

func TestMissingPathIsNotFound(t *testing.T) {
	p := newTree(t)
	_, err := p.ListFolders(context.Background(), "Q2_2024")
	assert.ErrorIs(t, err, source.ErrNotFound)
	_, err = p.ListFiles(context.Background(), "Q1_2024/Retail/Nobody")
	assert.ErrorIs(t, err, source.ErrNotFound)
	_, err = p.FetchContent(context.Background(), source.File{Path: "Q1_2024/none.pdf"})
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestPathsCannotEscapeRoot(t *testing.T) {
	p := newTree(t)
	_, err := p.ListFolders(context.Background(), "../..")
	assert.ErrorIs(t, err, source.ErrNotFound)
	_, err = p.FetchContent(context.Background(), source.File{Path: "../../etc/passwd"})
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestFactoryConfinesToBase(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "tenant/Q1_2024/Retail/Acme/a.pdf", "alpha")

	f := Factory(base)
	p, err := f(context.Background(), &url.URL{Scheme: "file", Path: "/tenant"})
	require.NoError(t, err)
	folders, err := p.ListFolders(context.Background(), "Q1_2024")
	require.NoError(t, err)
	assert.Len(t, folders, 1)

	p, err = f(context.Background(), &url.URL{Scheme: "file", Path: "/../.."})
	require.NoError(t, err, "escaping paths collapse onto base")
	folders, err = p.ListFolders(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "tenant", folders[0].Name)

	_, err = f(context.Background(), &url.URL{Scheme: "file", Path: "/missing"})
	assert.ErrorIs(t, err, source.ErrNotFound)
}
