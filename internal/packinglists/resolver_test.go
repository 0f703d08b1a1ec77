package packinglists

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exim/meridian-exim/internal/shared"
)

func newTestResolver(t *testing.T, repo Repository) (*Resolver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewResolver(repo, client, slog.Default()), mr
}

func seedPackingList(repo *memRepo) *PackingList {
	no := "PKL-BD-2605-0001"
	invID := int64(500)
	pl := &PackingList{
		ID:            700,
		PackingListNo: &no,
		ShipmentID:    30,
		ShipmentNo:    "SHP-BD-2605-0001",
		InvoiceID:     &invID,
		InvoiceNo:     "INV-BD-2605-0001",
		OriginCode:    "BD",
	}
	repo.pls[pl.ID] = pl
	return pl
}

func TestResolveSelfID(t *testing.T) {
	repo := newMemRepo()
	seedPackingList(repo)
	resolver, _ := newTestResolver(t, repo)

	pl, path, err := resolver.Resolve(context.Background(), "700")
	require.NoError(t, err)
	assert.Equal(t, MatchSelf, path)
	assert.Equal(t, int64(700), pl.ID)
}

func TestResolveForeignKey(t *testing.T) {
	repo := newMemRepo()
	seedPackingList(repo)
	resolver, _ := newTestResolver(t, repo)

	// Shipment id.
	pl, path, err := resolver.Resolve(context.Background(), "30")
	require.NoError(t, err)
	assert.Equal(t, MatchForeignKey, path)
	assert.Equal(t, int64(700), pl.ID)

	// Invoice id.
	pl, path, err = resolver.Resolve(context.Background(), "500")
	require.NoError(t, err)
	assert.Equal(t, MatchForeignKey, path)
	assert.Equal(t, int64(700), pl.ID)
}

func TestResolveInvoiceNo(t *testing.T) {
	repo := newMemRepo()
	seedPackingList(repo)
	resolver, _ := newTestResolver(t, repo)

	pl, path, err := resolver.Resolve(context.Background(), "INV-BD-2605-0001")
	require.NoError(t, err)
	assert.Equal(t, MatchInvoiceNo, path)
	assert.Equal(t, int64(700), pl.ID)
}

func TestResolveInvoiceNoBackfillsLink(t *testing.T) {
	repo := newMemRepo()
	pl := seedPackingList(repo)
	pl.InvoiceID = nil
	repo.invoiceByNo["INV-BD-2605-0001"] = 500
	resolver, _ := newTestResolver(t, repo)

	got, path, err := resolver.Resolve(context.Background(), "INV-BD-2605-0001")
	require.NoError(t, err)
	assert.Equal(t, MatchInvoiceNo, path)
	require.NotNil(t, got.InvoiceID)
	assert.Equal(t, int64(500), *got.InvoiceID)

	// The repaired link lets the next lookup take the foreign key path.
	stored := repo.pls[700]
	require.NotNil(t, stored.InvoiceID)
	assert.Equal(t, int64(500), *stored.InvoiceID)
}

func TestResolveCacheHit(t *testing.T) {
	repo := newMemRepo()
	seedPackingList(repo)
	resolver, _ := newTestResolver(t, repo)

	_, path, err := resolver.Resolve(context.Background(), "INV-BD-2605-0001")
	require.NoError(t, err)
	assert.Equal(t, MatchInvoiceNo, path)

	pl, path, err := resolver.Resolve(context.Background(), "INV-BD-2605-0001")
	require.NoError(t, err)
	assert.Equal(t, MatchCache, path)
	assert.Equal(t, int64(700), pl.ID)
}

func TestResolveStaleCacheFallsThrough(t *testing.T) {
	repo := newMemRepo()
	seedPackingList(repo)
	resolver, mr := newTestResolver(t, repo)

	// Cache points at a record that no longer exists.
	require.NoError(t, mr.Set(cacheKey("700"), "9999"))

	pl, path, err := resolver.Resolve(context.Background(), "700")
	require.NoError(t, err)
	assert.Equal(t, MatchSelf, path)
	assert.Equal(t, int64(700), pl.ID)
}

func TestResolveNotFound(t *testing.T) {
	repo := newMemRepo()
	resolver, _ := newTestResolver(t, repo)

	_, _, err := resolver.Resolve(context.Background(), "does-not-exist")
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestInvalidateDropsCachedRefs(t *testing.T) {
	repo := newMemRepo()
	pl := seedPackingList(repo)
	resolver, mr := newTestResolver(t, repo)

	for _, ref := range []string{"700", "30", "500", "INV-BD-2605-0001"} {
		_, _, err := resolver.Resolve(context.Background(), ref)
		require.NoError(t, err)
	}

	resolver.Invalidate(context.Background(), pl)
	for _, ref := range []string{"700", "30", "500", "INV-BD-2605-0001"} {
		assert.False(t, mr.Exists(cacheKey(ref)), "ref %s should be invalidated", ref)
	}
}
