// Package localfs serves a folder tree from the local filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yashugupta786/sp/internal/source"
)

// Provider reads below a fixed root directory and never outside it.
type Provider struct {
	root string
}

var _ source.Provider = (*Provider)(nil)

// New creates a provider rooted at root, which must be an existing directory.
func New(root string) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapError(err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &Provider{root: abs}, nil
}

// Factory serves file:// site URLs. With a non-empty base, URL paths are
// confined below base; otherwise they are taken as absolute paths.
func Factory(base string) source.Factory {
	return func(ctx context.Context, site *url.URL) (source.Provider, error) {
		root := filepath.FromSlash(site.Path)
		if base != "" {
			root = filepath.Join(base, filepath.Clean("/"+site.Path))
		}
		return New(root)
	}
}

// resolve maps a slash separated path onto the filesystem below root.
func (p *Provider) resolve(path string) (string, error) {
	full := filepath.Join(p.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	rel, err := filepath.Rel(p.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root", source.ErrNotFound, path)
	}
	return full, nil
}

func (p *Provider) relative(full string) string {
	rel, _ := filepath.Rel(p.root, full)
	return filepath.ToSlash(rel)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", source.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", source.ErrUnauthorized, err)
	}
	return err
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ListFolders implements source.Provider.
func (p *Provider) ListFolders(ctx context.Context, path string) ([]source.Folder, error) {
	dir, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mapError(err)
	}

	var out []source.Folder
	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}
		out = append(out, source.Folder{Name: e.Name(), Path: p.relative(filepath.Join(dir, e.Name()))})
	}
	return out, nil
}

// ListFiles implements source.Provider.
func (p *Provider) ListFiles(ctx context.Context, path string) ([]source.File, error) {
	dir, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, mapError(err)
	}

	var out []source.File
	err = filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return mapError(err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if hidden(d.Name()) && full != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return mapError(err)
		}
		rel, _ := filepath.Rel(dir, full)
		out = append(out, source.File{
			Name:         d.Name(),
			RelativePath: filepath.ToSlash(rel),
			Path:         p.relative(full),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchContent implements source.Provider.
func (p *Provider) FetchContent(ctx context.Context, file source.File) ([]byte, error) {
	full, err := p.resolve(file.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}
