package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	smodels "github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/replicas"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func mutation(op models.Operation, id string, at time.Time, fields map[string]any) models.Mutation {
	return models.Mutation{Operation: op, Collection: "clients", ID: id, LastModified: at, Fields: fields, DeviceID: "dev-1"}
}

func newReplicaService(t *testing.T) (*ReplicaService, *Hub) {
	t.Helper()
	hub := NewHub(8, logging.Nop())
	return NewReplicaService(nil, repomanager.NewMemoryRepositoryManager(), hub, logging.Nop()), hub
}

func TestReplicaService_PushLastWriteWins(t *testing.T) {
	s, _ := newReplicaService(t)
	ctx := context.Background()

	applied, err := s.Push(ctx, mutation(models.OpCreate, "c1", t0, map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Push(ctx, mutation(models.OpCreate, "c1", t0, map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	assert.False(t, applied, "replay is a no-op")

	applied, err = s.Push(ctx, mutation(models.OpUpdate, "c1", t0.Add(-time.Second), map[string]any{"name": "Old"}))
	require.NoError(t, err)
	assert.False(t, applied)

	recs, err := s.PullAll(ctx, "clients")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Acme", recs[0].Fields["name"])
	assert.True(t, recs[0].LastModified.Equal(t0))
}

func TestReplicaService_DeleteLeavesTombstone(t *testing.T) {
	s, _ := newReplicaService(t)
	ctx := context.Background()

	_, err := s.Push(ctx, mutation(models.OpCreate, "c1", t0, map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	applied, err := s.Push(ctx, mutation(models.OpDelete, "c1", t0.Add(time.Second), nil))
	require.NoError(t, err)
	assert.True(t, applied)

	// a late create cannot resurrect the record
	applied, err = s.Push(ctx, mutation(models.OpUpdate, "c1", t0.Add(500*time.Millisecond), map[string]any{"name": "Late"}))
	require.NoError(t, err)
	assert.False(t, applied)

	recs, err := s.PullAll(ctx, "clients")
	require.NoError(t, err)
	assert.Empty(t, recs)

	row, err := s.Get(ctx, "clients", "c1")
	require.NoError(t, err)
	assert.True(t, row.Deleted)
}

func TestReplicaService_BroadcastsOnlyApplied(t *testing.T) {
	s, _ := newReplicaService(t)
	ctx := context.Background()
	sub := s.Subscribe("clients")
	defer s.Unsubscribe(sub)

	_, err := s.Push(ctx, mutation(models.OpCreate, "c1", t0, map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	_, err = s.Push(ctx, mutation(models.OpCreate, "c1", t0, map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	_, err = s.Push(ctx, mutation(models.OpDelete, "c1", t0.Add(time.Second), nil))
	require.NoError(t, err)

	first := <-sub.Changes()
	assert.False(t, first.Deleted)
	assert.Equal(t, "Acme", first.Record.Fields["name"])

	second := <-sub.Changes()
	assert.True(t, second.Deleted)
	assert.Nil(t, second.Record.Fields)

	select {
	case c := <-sub.Changes():
		t.Fatalf("unexpected change %+v", c)
	default:
	}
}

func TestReplicaService_RejectsInvalidMutation(t *testing.T) {
	s, _ := newReplicaService(t)
	ctx := context.Background()

	for _, m := range []models.Mutation{
		{Operation: "merge", Collection: "clients", ID: "x", LastModified: t0},
		{Operation: models.OpCreate, ID: "x", LastModified: t0},
		{Operation: models.OpCreate, Collection: "clients", LastModified: t0},
		{Operation: models.OpCreate, Collection: "clients", ID: "x", LastModified: t0, Fields: map[string]any{"bad": make(chan int)}},
	} {
		_, err := s.Push(ctx, m)
		assert.ErrorIs(t, err, ErrInvalidMutation)
	}
}

type failingManager struct {
	repomanager.RepositoryManager
	err error
}

type failingReplicas struct {
	replicas.Repository
	err error
}

func (f failingReplicas) Upsert(context.Context, *smodels.ReplicaRecord) (bool, error) {
	return false, f.err
}

func (f failingReplicas) SelectLive(context.Context, string) ([]*smodels.ReplicaRecord, error) {
	return nil, f.err
}

func (f failingManager) Replicas(dbx.DBTX) replicas.Repository { return failingReplicas{err: f.err} }

func TestReplicaService_RepositoryErrors(t *testing.T) {
	boom := errors.New("boom")
	s := NewReplicaService(nil, failingManager{err: boom}, NewHub(1, logging.Nop()), logging.Nop())

	_, err := s.Push(context.Background(), mutation(models.OpCreate, "c1", t0, nil))
	assert.ErrorIs(t, err, boom)

	_, err = s.PullAll(context.Background(), "clients")
	assert.ErrorIs(t, err, boom)
}

func TestReplicaService_Collections(t *testing.T) {
	s, _ := newReplicaService(t)
	ctx := context.Background()
	_, err := s.Push(ctx, mutation(models.OpCreate, "c1", t0, nil))
	require.NoError(t, err)

	names, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"clients"}, names)
}
