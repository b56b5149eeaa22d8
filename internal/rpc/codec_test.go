package rpc

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestMutationStruct_KeepsMillisAndFields(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123).UTC()
	m := models.Mutation{
		Operation:    models.OpUpdate,
		Collection:   "clients",
		ID:           "c1",
		LastModified: at,
		DeviceID:     "dev-1",
		Fields:       map[string]any{"name": "Ali", "age": 42, "tags": []any{"a"}},
	}

	s, err := MutationToStruct(m)
	require.NoError(t, err)

	got, err := MutationFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, at, got.LastModified)
	assert.Equal(t, models.OpUpdate, got.Operation)
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.Equal(t, float64(42), got.Fields["age"])
	assert.Equal(t, []any{"a"}, got.Fields["tags"])
}

func TestMutationFromStruct_Rejects(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown operation": {"operation": "merge", "collection": "c", "id": "1", "last_modified": 1.0},
		"missing id":        {"operation": "create", "collection": "c", "last_modified": 1.0},
		"missing time":      {"operation": "create", "collection": "c", "id": "1"},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := structpb.NewStruct(v)
			require.NoError(t, err)
			_, err = MutationFromStruct(s)
			assert.Error(t, err)
		})
	}
	_, err := MutationFromStruct(nil)
	assert.Error(t, err)
}

func TestChangeStruct_Tombstone(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000).UTC()
	s, err := ChangeToStruct(models.Change{
		Collection: "receipts",
		Record:     &models.Record{ID: "r1", LastModified: at},
		Deleted:    true,
	})
	require.NoError(t, err)

	c, err := ChangeFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, "receipts", c.Collection)
	assert.True(t, c.Deleted)
	assert.Equal(t, "r1", c.Record.ID)
	assert.Empty(t, c.Record.Fields)
}

func TestRecordsList(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000).UTC()
	l, err := RecordsToList("clients", []*models.Record{
		{ID: "a", LastModified: at, Fields: map[string]any{"cnic": "1"}},
		{ID: "b", LastModified: at},
	})
	require.NoError(t, err)

	recs, err := RecordsFromList(l)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].Fields["cnic"])

	l.Values = append(l.Values, structpb.NewStringValue("junk"))
	_, err = RecordsFromList(l)
	assert.Error(t, err)
}
