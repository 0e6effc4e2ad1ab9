package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, New())
}

func TestGetRunReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertRun(ctx, &models.Run{RunID: "RUN-000001", TenantID: "t", EngagementID: "e"}))

	run, err := s.GetRun(ctx, "t", "e")
	require.NoError(t, err)
	run.Tree.Merge(models.MetadataEntry{Year: 2024, Quarter: "Q1", SubCategory: "Retail", Owner: "Acme"})

	again, err := s.GetRun(ctx, "t", "e")
	require.NoError(t, err)
	assert.Empty(t, again.Tree.AllEntries())
}
