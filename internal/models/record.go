// Package models holds the data types shared by the local engine, the wire
// layer and the remote authority.
package models

import (
	"encoding/json"
	"time"
)

// Record is a single domain entity stored in a collection.
//
// ID is assigned once at creation and never reused. LastModified is stamped by
// the writer on every create/update and is the only input to conflict
// resolution. Fields holds the domain payload and must be JSON-encodable.
type Record struct {
	ID           string         `json:"id"`
	LastModified time.Time      `json:"lastModified"`
	Fields       map[string]any `json:"fields"`
}

// Clone returns a deep copy of r (fields are copied through JSON).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{ID: r.ID, LastModified: r.LastModified}
	if r.Fields != nil {
		b, err := json.Marshal(r.Fields)
		if err == nil {
			_ = json.Unmarshal(b, &c.Fields)
		}
	}
	return c
}

// NewerThan reports whether r wins over other under last-write-wins.
// Equal timestamps never win: the side already holding the value keeps it.
func (r *Record) NewerThan(other *Record) bool {
	if other == nil {
		return true
	}
	return Millis(r.LastModified) > Millis(other.LastModified)
}

// Millis converts t to unix milliseconds, the persisted and wire precision.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Truncate normalizes t to the persisted precision.
func Truncate(t time.Time) time.Time {
	return FromMillis(Millis(t))
}
