// Package source abstracts the read-only folder trees documents are ingested from.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrNotFound indicates the requested path does not exist in the tree.
	ErrNotFound = errors.New("path not found")

	// ErrUnauthorized indicates the provider rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupportedSource indicates no provider is registered for a site URL.
	ErrUnsupportedSource = errors.New("unsupported source")
)

// Folder is a direct child folder of a listed path.
type Folder struct {
	Name string
	// Path is relative to the provider root.
	Path string
}

// File is a file found below a listed path.
type File struct {
	// ID is an optional provider specific handle used by FetchContent.
	ID   string
	Name string
	// RelativePath is relative to the path that was listed.
	RelativePath string
	// Path is relative to the provider root.
	Path string
	Size int64
}

// Provider reads a folder tree. Paths are slash separated and relative to the
// provider root. A missing path yields ErrNotFound.
type Provider interface {
	// ListFolders returns the direct child folders of path.
	ListFolders(ctx context.Context, path string) ([]Folder, error)
	// ListFiles returns every file below path, descending into sub-folders.
	ListFiles(ctx context.Context, path string) ([]File, error)
	// FetchContent returns the full content of a file.
	FetchContent(ctx context.Context, file File) ([]byte, error)
}

// Factory builds a provider for a site URL.
type Factory func(ctx context.Context, site *url.URL) (Provider, error)

// Resolver picks a provider by the kind of site URL.
type Resolver struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// Source kinds understood by Kind.
const (
	KindFile       = "file"
	KindS3         = "s3"
	KindSharePoint = "sharepoint"
)

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{factories: make(map[string]Factory)}
}

// Register installs the factory for a kind, replacing any previous one.
func (r *Resolver) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Kind classifies a site URL: file://, s3:// or an http(s) SharePoint site.
func Kind(site *url.URL) string {
	switch strings.ToLower(site.Scheme) {
	case "http", "https":
		return KindSharePoint
	default:
		return strings.ToLower(site.Scheme)
	}
}

// Resolve returns the provider for siteURL.
func (r *Resolver) Resolve(ctx context.Context, siteURL string) (Provider, error) {
	site, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	kind := Kind(site)

	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, siteURL)
	}
	return f(ctx, site)
}
