package outbox

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// Entry is a single pending mutation.
type Entry struct {
	Seq          int64
	Operation    models.Operation
	Collection   string
	RecordID     string
	Payload      json.RawMessage
	LastModified time.Time
	EnqueuedAt   time.Time
	Attempts     int
	LastError    string
}

// Key identifies the record the entry belongs to.
func (e *Entry) Key() string {
	return e.Collection + "/" + e.RecordID
}

// Mutation converts the entry into the form pushed to the remote.
func (e *Entry) Mutation(deviceID string) (models.Mutation, error) {
	m := models.Mutation{
		Operation:    e.Operation,
		Collection:   e.Collection,
		ID:           e.RecordID,
		LastModified: e.LastModified,
		DeviceID:     deviceID,
	}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &m.Fields); err != nil {
			return models.Mutation{}, err
		}
	}
	return m, nil
}
