// Package sharepoint reads a SharePoint document library through Microsoft Graph.
//
// The first segment of every path names the document library (drive); the
// rest is the folder path inside it, e.g. "Shared Documents/Reports/Q1_2024".
package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yashugupta786/sp/internal/source"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxContentBytes guards against unbounded downloads.
const maxContentBytes = 256 << 20

// Provider implements source.Provider for one SharePoint site.
type Provider struct {
	baseURL    string
	hostname   string
	sitePath   string
	tokens     TokenSource
	httpClient *http.Client

	mu     sync.Mutex
	siteID string
	drives map[string]string // lower-cased drive name -> drive id
}

var _ source.Provider = (*Provider)(nil)

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL points the provider at another Graph endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a provider for a site URL such as
// https://contoso.sharepoint.com/sites/Finance.
func New(siteURL string, tokens TokenSource, opts ...Option) (*Provider, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("site url %q has no host", siteURL)
	}
	p := &Provider{
		baseURL:    defaultBaseURL,
		hostname:   u.Hostname(),
		sitePath:   strings.Trim(u.Path, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Factory serves https:// SharePoint site URLs with a shared token source.
func Factory(tokens TokenSource, opts ...Option) source.Factory {
	return func(ctx context.Context, site *url.URL) (source.Provider, error) {
		return New(site.String(), tokens, opts...)
	}
}

type driveItem struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Size   int64     `json:"size"`
	Folder *struct{} `json:"folder,omitempty"`
	File   *struct{} `json:"file,omitempty"`
}

type itemPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// ListFolders implements source.Provider.
func (p *Provider) ListFolders(ctx context.Context, path string) ([]source.Folder, error) {
	items, err := p.children(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []source.Folder
	for _, it := range items {
		if it.Folder != nil {
			out = append(out, source.Folder{Name: it.Name, Path: joinPath(path, it.Name)})
		}
	}
	return out, nil
}

// ListFiles implements source.Provider. Sub-folders are walked breadth first.
func (p *Provider) ListFiles(ctx context.Context, path string) ([]source.File, error) {
	driveID, _, err := p.locate(ctx, path)
	if err != nil {
		return nil, err
	}

	var out []source.File
	queue := []string{""}
	for len(queue) > 0 {
		rel := queue[0]
		queue = queue[1:]

		items, err := p.children(ctx, joinPath(path, rel))
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			switch {
			case it.Folder != nil:
				queue = append(queue, joinPath(rel, it.Name))
			case it.File != nil:
				out = append(out, source.File{
					ID:           driveID + "/" + it.ID,
					Name:         it.Name,
					RelativePath: joinPath(rel, it.Name),
					Path:         joinPath(path, rel, it.Name),
					Size:         it.Size,
				})
			}
		}
	}
	return out, nil
}

// FetchContent implements source.Provider.
func (p *Provider) FetchContent(ctx context.Context, file source.File) ([]byte, error) {
	driveID, itemID, ok := strings.Cut(file.ID, "/")
	if !ok {
		return nil, fmt.Errorf("file %q has no drive item id", file.Path)
	}
	endpoint := fmt.Sprintf("%s/drives/%s/items/%s/content", p.baseURL, url.PathEscape(driveID), url.PathEscape(itemID))

	resp, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read content of %q: %w", file.Path, err)
	}
	if len(data) > maxContentBytes {
		return nil, fmt.Errorf("file %q exceeds %d bytes", file.Path, maxContentBytes)
	}
	return data, nil
}

func (p *Provider) children(ctx context.Context, path string) ([]driveItem, error) {
	driveID, inner, err := p.locate(ctx, path)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/drives/%s/root/children", p.baseURL, url.PathEscape(driveID))
	if inner != "" {
		endpoint = fmt.Sprintf("%s/drives/%s/root:/%s:/children", p.baseURL, url.PathEscape(driveID), escapePath(inner))
	}
	endpoint += "?$top=200"

	var items []driveItem
	for endpoint != "" {
		var page itemPage
		if err := p.getJSON(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("list %q: %w", path, err)
		}
		items = append(items, page.Value...)
		endpoint = page.NextLink
	}
	return items, nil
}

// locate splits path into the drive id of its library and the path inside it.
func (p *Provider) locate(ctx context.Context, path string) (driveID, inner string, err error) {
	library, inner, _ := strings.Cut(strings.Trim(path, "/"), "/")
	if library == "" {
		return "", "", fmt.Errorf("%w: path %q names no document library", source.ErrNotFound, path)
	}
	drives, err := p.loadDrives(ctx)
	if err != nil {
		return "", "", err
	}
	id, ok := drives[strings.ToLower(library)]
	if !ok && strings.EqualFold(library, "Shared Documents") {
		id, ok = drives["documents"]
	}
	if !ok {
		return "", "", fmt.Errorf("%w: document library %q", source.ErrNotFound, library)
	}
	return id, inner, nil
}

func (p *Provider) loadDrives(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drives != nil {
		return p.drives, nil
	}

	if p.siteID == "" {
		var site struct {
			ID string `json:"id"`
		}
		endpoint := fmt.Sprintf("%s/sites/%s:/%s", p.baseURL, p.hostname, escapePath(p.sitePath))
		if p.sitePath == "" {
			endpoint = fmt.Sprintf("%s/sites/%s", p.baseURL, p.hostname)
		}
		if err := p.getJSON(ctx, endpoint, &site); err != nil {
			return nil, fmt.Errorf("resolve site: %w", err)
		}
		p.siteID = site.ID
	}

	var page struct {
		Value []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := p.getJSON(ctx, fmt.Sprintf("%s/sites/%s/drives", p.baseURL, url.PathEscape(p.siteID)), &page); err != nil {
		return nil, fmt.Errorf("list drives: %w", err)
	}
	drives := make(map[string]string, len(page.Value))
	for _, d := range page.Value {
		drives[strings.ToLower(d.Name)] = d.ID
	}
	p.drives = drives
	return drives, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := p.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get performs an authorized GET and maps error statuses onto source errors.
func (p *Provider) get(ctx context.Context, endpoint string) (*http.Response, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnauthorized, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", source.ErrNotFound, statusErr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", source.ErrUnauthorized, statusErr)
	}
	return nil, statusErr
}

// StatusError is an unexpected Graph response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph returned %d: %s", e.Code, e.Body)
}

// IsThrottled reports whether err is a 429 or 5xx response.
func IsThrottled(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusTooManyRequests || se.Code >= 500)
}

func joinPath(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func escapePath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
