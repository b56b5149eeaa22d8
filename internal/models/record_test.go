package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_NewerThan(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	a := &Record{ID: "c1", LastModified: t0}
	b := &Record{ID: "c1", LastModified: t0.Add(time.Millisecond)}

	assert.True(t, b.NewerThan(a))
	assert.False(t, a.NewerThan(b))
	assert.False(t, a.NewerThan(&Record{ID: "c1", LastModified: t0}), "tie must not win")
	assert.True(t, a.NewerThan(nil))
}

func TestRecord_NewerThan_SubMillisecondIsTie(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := &Record{LastModified: t0}
	b := &Record{LastModified: t0.Add(400 * time.Microsecond)}

	assert.False(t, b.NewerThan(a))
}

func TestRecord_Clone_IsDeep(t *testing.T) {
	r := &Record{ID: "r1", Fields: map[string]any{"amount": 10.5, "tags": []any{"a"}}}
	c := r.Clone()
	require.NotNil(t, c)

	c.Fields["amount"] = 99.0
	assert.Equal(t, 10.5, r.Fields["amount"])
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestMillisRoundTrip(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	got := FromMillis(Millis(t0))
	assert.Equal(t, Truncate(t0), got)
	assert.Equal(t, 123000000, got.Nanosecond())
}

func TestOperation_Valid(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Operation("upsert").Valid())
}
