package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newHandler(t *testing.T) (*Handler, *services.ReplicaService) {
	t.Helper()
	rs := services.NewReplicaService(nil, repomanager.NewMemoryRepositoryManager(), services.NewHub(4, logging.Nop()), logging.Nop())
	return NewHandler(rs, logging.Nop()), rs
}

func seed(t *testing.T, rs *services.ReplicaService) {
	t.Helper()
	ctx := context.Background()
	_, err := rs.Push(ctx, models.Mutation{Operation: models.OpCreate, Collection: "clients", ID: "c1", LastModified: t0, Fields: map[string]any{"name": "Acme"}})
	require.NoError(t, err)
	_, err = rs.Push(ctx, models.Mutation{Operation: models.OpCreate, Collection: "clients", ID: "c2", LastModified: t0, Fields: map[string]any{"name": "Gone"}})
	require.NoError(t, err)
	_, err = rs.Push(ctx, models.Mutation{Operation: models.OpDelete, Collection: "clients", ID: "c2", LastModified: t0.Add(time.Second)})
	require.NoError(t, err)
}

func get(h *Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newHandler(t)
	rec := get(h, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRecords_LiveOnly(t *testing.T) {
	h, rs := newHandler(t)
	seed(t, rs)

	rec := get(h, "/api/collections/clients")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "Acme", got[0].Fields["name"])
}

func TestRecords_EmptyCollectionIsEmptyArray(t *testing.T) {
	h, _ := newHandler(t)
	rec := get(h, "/api/collections/receipts")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCollections(t *testing.T) {
	h, rs := newHandler(t)
	assert.JSONEq(t, `[]`, get(h, "/api/collections").Body.String())

	seed(t, rs)
	assert.JSONEq(t, `["clients"]`, get(h, "/api/collections").Body.String())
}

func TestRecord_TombstoneAndMissing(t *testing.T) {
	h, rs := newHandler(t)
	seed(t, rs)

	rec := get(h, "/api/collections/clients/c2")
	require.Equal(t, http.StatusOK, rec.Code)
	var view recordView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Deleted)
	assert.Nil(t, view.Fields)

	rec = get(h, "/api/collections/clients/c1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.Deleted)
	assert.Equal(t, "Acme", view.Fields["name"])

	assert.Equal(t, http.StatusNotFound, get(h, "/api/collections/clients/zzz").Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h, _ := newHandler(t)
	assert.Equal(t, http.StatusNotFound, get(h, "/nope").Code)

	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	h, _ := newHandler(t)
	s := NewServer("127.0.0.1:0", h, logging.Nop())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
