package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashugupta786/sp/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "ingest.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, openTestStore(t))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{Path: "  "})
	assert.Error(t, err)
}

func TestReopenKeepsSequence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ingest.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	v, err := s.NextSequence(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	require.NoError(t, s.Close(ctx))

	s, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer s.Close(ctx)
	v, err = s.NextSequence(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}
