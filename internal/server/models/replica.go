// Package models defines server-side data models persisted in the database.
package models

import (
	"encoding/json"
	"time"

	m "github.com/dmitrijs2005/ledgersync/internal/models"
)

// ReplicaRecord is the authoritative copy of one record. Deleted rows are
// kept as tombstones so late or replayed pushes cannot resurrect them.
type ReplicaRecord struct {
	Collection   string
	ID           string
	LastModified int64 // unix millis
	Deleted      bool
	Payload      []byte // JSON object of fields
	DeviceID     string
	UpdatedAt    time.Time
}

// FromMutation converts an incoming mutation into a replica row.
func FromMutation(mu m.Mutation) (*ReplicaRecord, error) {
	rr := &ReplicaRecord{
		Collection:   mu.Collection,
		ID:           mu.ID,
		LastModified: m.Millis(mu.LastModified),
		Deleted:      mu.Operation == m.OpDelete,
		DeviceID:     mu.DeviceID,
		Payload:      []byte("{}"),
	}
	if !rr.Deleted && mu.Fields != nil {
		b, err := json.Marshal(mu.Fields)
		if err != nil {
			return nil, err
		}
		rr.Payload = b
	}
	return rr, nil
}

// Record decodes the row into the shared record type.
func (r *ReplicaRecord) Record() (*m.Record, error) {
	rec := &m.Record{ID: r.ID, LastModified: m.FromMillis(r.LastModified)}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &rec.Fields); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Change converts the row into a change feed event.
func (r *ReplicaRecord) Change() (m.Change, error) {
	rec, err := r.Record()
	if err != nil {
		return m.Change{}, err
	}
	if r.Deleted {
		rec.Fields = nil
	}
	return m.Change{Collection: r.Collection, Record: rec, Deleted: r.Deleted}, nil
}
