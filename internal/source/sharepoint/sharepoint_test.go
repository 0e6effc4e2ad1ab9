package sharepoint

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashugupta786/sp/internal/source"
)

type fakeGraph struct {
	*httptest.Server
	requests []string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	g := &fakeGraph{}
	mux := http.NewServeMux()

	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	folder := func(id, name string) map[string]any {
		return map[string]any{"id": id, "name": name, "folder": map[string]any{}}
	}
	file := func(id, name string, size int) map[string]any {
		return map[string]any{"id": id, "name": name, "size": size, "file": map[string]any{}}
	}

	mux.HandleFunc("/sites/contoso.sharepoint.com:/sites/Finance", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"id": "site-1"})
	})
	mux.HandleFunc("/sites/site-1/drives", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"value": []any{map[string]any{"id": "drive-1", "name": "Documents"}}})
	})
	mux.HandleFunc("/drives/drive-1/root:/Reports/Q1_2024:/children", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			reply(w, map[string]any{"value": []any{folder("f2", "Energy")}})
			return
		}
		reply(w, map[string]any{
			"value":           []any{folder("f1", "Retail"), file("x", "readme.txt", 3)},
			"@odata.nextLink": g.URL + "/drives/drive-1/root:/Reports/Q1_2024:/children?page=2",
		})
	})
	mux.HandleFunc("/drives/drive-1/root:/Reports/Q1_2024/Retail/Acme:/children", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"value": []any{file("i1", "a.pdf", 5), folder("f3", "old")}})
	})
	mux.HandleFunc("/drives/drive-1/root:/Reports/Q1_2024/Retail/Acme/old:/children", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"value": []any{file("i2", "b.pdf", 7)}})
	})
	mux.HandleFunc("/drives/drive-1/items/i1/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/drives/drive-1/root:/Locked:/children", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"accessDenied"}`, http.StatusForbidden)
	})
	mux.HandleFunc("/drives/drive-1/root:/Busy:/children", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		g.requests = append(g.requests, r.URL.Path)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(g.Close)
	return g
}

func newTestProvider(t *testing.T, g *fakeGraph, token string) *Provider {
	t.Helper()
	p, err := New("https://contoso.sharepoint.com/sites/Finance", StaticToken(token), WithBaseURL(g.URL), WithHTTPClient(g.Client()))
	require.NoError(t, err)
	return p
}

func TestListFoldersFollowsPaging(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, "test-token")

	folders, err := p.ListFolders(t.Context(), "Shared Documents/Reports/Q1_2024")
	require.NoError(t, err)

	assert.Equal(t, []source.Folder{
		{Name: "Retail", Path: "Shared Documents/Reports/Q1_2024/Retail"},
		{Name: "Energy", Path: "Shared Documents/Reports/Q1_2024/Energy"},
	}, folders)
}

func TestListFilesWalksSubfolders(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, "test-token")

	files, err := p.ListFiles(t.Context(), "Documents/Reports/Q1_2024/Retail/Acme")
	require.NoError(t, err)
	require.Len(t, files, 2)

	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	assert.Equal(t, "a.pdf", files[0].RelativePath)
	assert.Equal(t, "drive-1/i1", files[0].ID)
	assert.Equal(t, int64(5), files[0].Size)
	assert.Equal(t, "old/b.pdf", files[1].RelativePath)
	assert.Equal(t, "Documents/Reports/Q1_2024/Retail/Acme/old/b.pdf", files[1].Path)

	data, err := p.FetchContent(t.Context(), files[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSiteAndDrivesResolvedOnce(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, "test-token")

	for range 3 {
		_, err := p.ListFolders(t.Context(), "Documents/Reports/Q1_2024")
		require.NoError(t, err)
	}

	var driveLookups int
	for _, r := range g.requests {
		if r == "/sites/site-1/drives" {
			driveLookups++
		}
	}
	assert.Equal(t, 1, driveLookups)
}

func TestErrorMapping(t *testing.T) {
	g := newFakeGraph(t)

	tests := []struct {
		name  string
		token string
		path  string
		want  error
	}{
		{"unknown library", "test-token", "Archive/Q1_2024", source.ErrNotFound},
		{"missing folder", "test-token", "Documents/Nope", source.ErrNotFound},
		{"forbidden", "test-token", "Documents/Locked", source.ErrUnauthorized},
		{"bad token", "wrong", "Documents/Reports", source.ErrUnauthorized},
		{"empty path", "test-token", "", source.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, g, tt.token)
			_, err := p.ListFolders(t.Context(), tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestThrottledIsNotPermanent(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, "test-token")

	_, err := p.ListFolders(t.Context(), "Documents/Busy")
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	assert.NotErrorIs(t, err, source.ErrNotFound)
	assert.Contains(t, err.Error(), fmt.Sprint(http.StatusTooManyRequests))
}

func TestNewRejectsHostlessURL(t *testing.T) {
	_, err := New("/sites/Finance", StaticToken("x"))
	assert.Error(t, err)
}
