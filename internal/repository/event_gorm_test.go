package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/settlus/settlegate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormEventRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewGormEventRepo(newTestDB(t))
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	insert := func(tenant string, at time.Time) {
		require.NoError(t, repo.Insert(ctx, &model.LedgerEvent{
			ID:        uuid.NewString(),
			Type:      "record.settled",
			Tenant:    tenant,
			CreatedAt: at,
		}))
	}
	insert("shop", base)
	insert("shop", base.Add(time.Hour))
	insert("other", base.Add(2*time.Hour))

	all, err := repo.List(ctx, "", 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "other", all[0].Tenant, "newest first")

	shop, err := repo.List(ctx, "shop", 0, nil, nil)
	require.NoError(t, err)
	assert.Len(t, shop, 2)

	from := base.Add(30 * time.Minute)
	recent, err := repo.List(ctx, "", 10, &from, nil)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := repo.List(ctx, "", 1, nil, nil)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	removed, err := repo.DeleteBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	left, err := repo.List(ctx, "", 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "other", left[0].Tenant)
}
