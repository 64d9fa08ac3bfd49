package tenant

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTenants(n int) []Tenant {
	tenants := make([]Tenant, n)
	for i := range tenants {
		tenants[i] = Tenant{ID: uuid.New(), Name: fmt.Sprintf("tenant-%d", i)}
	}
	return tenants
}

func TestInMemoryStorePagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore(makeTenants(47)...)

	count, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 47, count)

	// Pages partition the set: no overlap, no gaps.
	seen := make(map[uuid.UUID]bool)
	for offset := 0; offset < count; offset += 20 {
		page, err := store.ListActivePage(ctx, offset, 20)
		require.NoError(t, err)
		for _, tn := range page {
			assert.False(t, seen[tn.ID], "tenant %s returned twice", tn.ID)
			seen[tn.ID] = true
		}
	}
	assert.Len(t, seen, 47)

	// The last page is short.
	page, err := store.ListActivePage(ctx, 40, 20)
	require.NoError(t, err)
	assert.Len(t, page, 7)

	// Past the end is empty, not an error.
	page, err = store.ListActivePage(ctx, 60, 20)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestInMemoryStoreStableOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore(makeTenants(10)...)

	first, err := store.ListActivePage(ctx, 0, 10)
	require.NoError(t, err)
	second, err := store.ListActivePage(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].ID.String(), first[i].ID.String())
	}
}

func TestInMemoryStoreInactiveExcluded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tenants := makeTenants(5)
	store := NewInMemoryStore(tenants...)
	store.SetActive(tenants[2].ID, false)

	count, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// The inactive tenant is still resolvable directly.
	got, err := store.GetTenant(ctx, tenants[2].ID)
	require.NoError(t, err)
	assert.Equal(t, tenants[2].Name, got.Name)
}

func TestInMemoryStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(makeTenants(3)...)

	_, err := store.GetTenant(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
