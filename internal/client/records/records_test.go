package records

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/catalog"
	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

func setup(t *testing.T) (*store.Store, func() time.Time) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), catalog.Schema())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, func() time.Time { return t0 }
}

func newRepo(t *testing.T, s *store.Store, collection string, clock func() time.Time) *Repository {
	t.Helper()
	n := 0
	r, err := New(s, collection, WithClock(clock), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("%s-%d", collection, n)
	}))
	require.NoError(t, err)
	return r
}

func TestCreate_StampsIDAndTime(t *testing.T) {
	s, clock := setup(t)
	clients := newRepo(t, s, catalog.Clients, clock)
	ctx := context.Background()

	rec, err := clients.Create(ctx, map[string]any{"cnic": "1234567890123", "name": "Ali"})
	require.NoError(t, err)
	assert.Equal(t, "clients-1", rec.ID)
	assert.Equal(t, t0, rec.LastModified)

	got, err := clients.GetByKey(ctx, "1234567890123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	missing, err := clients.GetByKey(ctx, "0000")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := s.Outbox().Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate_DuplicateCNIC(t *testing.T) {
	s, clock := setup(t)
	clients := newRepo(t, s, catalog.Clients, clock)
	ctx := context.Background()

	_, err := clients.Create(ctx, map[string]any{"cnic": "1"})
	require.NoError(t, err)
	_, err = clients.Create(ctx, map[string]any{"cnic": "1"})
	assert.ErrorIs(t, err, common.ErrConstraintViolation)
}

func TestUpdate_AlwaysMovesTimeForward(t *testing.T) {
	s, clock := setup(t)
	clients := newRepo(t, s, catalog.Clients, clock)
	ctx := context.Background()

	rec, err := clients.Create(ctx, map[string]any{"cnic": "1", "name": "a"})
	require.NoError(t, err)

	rec.Fields["name"] = "b"
	require.NoError(t, clients.Update(ctx, rec))
	assert.Equal(t, t0.Add(time.Millisecond), rec.LastModified, "frozen clock still yields a newer version")

	got, err := clients.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Fields["name"])

	err = clients.Update(ctx, &models.Record{ID: "ghost"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateWith_WritesBothCollectionsAtomically(t *testing.T) {
	s, clock := setup(t)
	clients := newRepo(t, s, catalog.Clients, clock)
	notifications := newRepo(t, s, catalog.Notifications, clock)
	ctx := context.Background()

	rec, err := clients.CreateWith(ctx, map[string]any{"cnic": "1"}, []string{catalog.Notifications},
		func(ctx context.Context, tx *store.Tx, c *models.Record) error {
			return tx.Put(ctx, catalog.Notifications, &models.Record{
				ID: "n1", LastModified: c.LastModified,
				Fields: map[string]any{"clientCnic": c.Fields["cnic"], "text": "welcome"},
			})
		})
	require.NoError(t, err)
	assert.Equal(t, "clients-1", rec.ID)

	got, err := notifications.Find(ctx, catalog.IndexClientCNIC, "1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = clients.CreateWith(ctx, map[string]any{"cnic": "2"}, []string{catalog.Notifications},
		func(context.Context, *store.Tx, *models.Record) error { return fmt.Errorf("boom") })
	require.Error(t, err)
	missing, err := clients.GetByKey(ctx, "2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDelete_ClientWithReceipts(t *testing.T) {
	s, clock := setup(t)
	clients := newRepo(t, s, catalog.Clients, clock)
	receipts := newRepo(t, s, catalog.Receipts, clock)
	ctx := context.Background()

	c1, err := clients.Create(ctx, map[string]any{"cnic": "1234567890123"})
	require.NoError(t, err)
	for _, day := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		_, err := receipts.Create(ctx, map[string]any{"clientCnic": "1234567890123", "issuedOn": day})
		require.NoError(t, err)
	}
	entries, err := s.Outbox().PeekBatch(ctx, 0, 100)
	require.NoError(t, err)
	last := entries[len(entries)-1].Seq

	require.NoError(t, clients.Delete(ctx, c1.ID))

	left, err := receipts.Find(ctx, catalog.IndexClientCNIC, "1234567890123")
	require.NoError(t, err)
	assert.Empty(t, left)

	deletes, err := s.Outbox().PeekBatch(ctx, last, 100)
	require.NoError(t, err)
	require.Len(t, deletes, 4)
	for _, e := range deletes {
		assert.Equal(t, models.OpDelete, e.Operation)
	}
}

func TestRange_ByIssueDate(t *testing.T) {
	s, clock := setup(t)
	receipts := newRepo(t, s, catalog.Receipts, clock)
	ctx := context.Background()

	for _, day := range []string{"2024-01-01", "2024-02-01", "2024-03-01"} {
		_, err := receipts.Create(ctx, map[string]any{"clientCnic": "1", "issuedOn": day})
		require.NoError(t, err)
	}
	got, err := receipts.Range(ctx, catalog.IndexIssuedOn, "2024-01-15", "2024-03-01")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestNew_UnknownCollection(t *testing.T) {
	s, _ := setup(t)
	_, err := New(s, "ghosts")
	assert.Error(t, err)

	ok, err := newRepo(t, s, catalog.Clients, func() time.Time { return t0 }).Exists(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
