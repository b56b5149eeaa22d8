package models

import "time"

// Operation is the kind of change recorded in the outbox and pushed to the remote.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Mutation is a single change delivered to the remote authority.
// For deletes Fields carries the last known state of the record.
type Mutation struct {
	Operation    Operation
	Collection   string
	ID           string
	LastModified time.Time
	Fields       map[string]any
	DeviceID     string
}

// Record returns the record carried by the mutation.
func (m *Mutation) Record() *Record {
	return &Record{ID: m.ID, LastModified: m.LastModified, Fields: m.Fields}
}

// Change is a remote-side modification observed through a subscription.
type Change struct {
	Collection string
	Record     *Record
	Deleted    bool
}
