// Package snapshot exports and imports the whole local database as a single
// JSON document. Snapshots are a backup channel separate from live sync: they
// never read or write the outbox.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// Format identifies the document layout.
const Format = "ledgersync.snapshot/v1"

var (
	ErrFormat            = errors.New("unsupported snapshot format")
	ErrSchemaMismatch    = errors.New("snapshot schema version mismatch")
	ErrUnknownCollection = errors.New("snapshot references unknown collection")
)

// Document is the serialized snapshot.
type Document struct {
	Format        string                      `json:"format"`
	SchemaVersion int                         `json:"schemaVersion"`
	ExportedAt    time.Time                   `json:"exportedAt"`
	DeviceID      string                      `json:"deviceId"`
	Collections   map[string][]*models.Record `json:"collections"`
}

// Counts returns the number of records per collection.
func (d *Document) Counts() map[string]int {
	out := make(map[string]int, len(d.Collections))
	for name, recs := range d.Collections {
		out[name] = len(recs)
	}
	return out
}

// Export reads every declared collection inside one read transaction.
func Export(ctx context.Context, s *store.Store) ([]byte, error) {
	doc, err := Build(ctx, s, time.Now)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Build assembles the snapshot document without encoding it.
func Build(ctx context.Context, s *store.Store, now func() time.Time) (*Document, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}
	deviceID, err := s.Metadata().DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	schema := s.Schema()
	doc := &Document{
		Format:        Format,
		SchemaVersion: schema.Version,
		ExportedAt:    models.Truncate(now()),
		DeviceID:      deviceID,
		Collections:   make(map[string][]*models.Record),
	}

	err = s.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		for _, name := range schema.Names() {
			recs, err := tx.GetAll(ctx, name)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []*models.Record{}
			}
			doc.Collections[name] = recs
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return doc, nil
}

// Parse decodes and validates a snapshot against the store's schema.
func Parse(blob []byte, schema store.Schema) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if doc.Format != Format {
		return nil, fmt.Errorf("%w: %q", ErrFormat, doc.Format)
	}
	if doc.SchemaVersion != schema.Version {
		return nil, fmt.Errorf("%w: snapshot %d, local %d", ErrSchemaMismatch, doc.SchemaVersion, schema.Version)
	}

	names := make([]string, 0, len(doc.Collections))
	for name := range doc.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := schema.Collection(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
		}
	}
	return &doc, nil
}

// Import replaces every declared collection with the snapshot contents in one
// transaction. Collections missing from the snapshot end up empty. Pending
// outbox entries are left as they are.
func Import(ctx context.Context, s *store.Store, blob []byte) (*Document, error) {
	schema := s.Schema()
	doc, err := Parse(blob, schema)
	if err != nil {
		return nil, err
	}

	names := schema.Names()
	err = s.Transact(ctx, names, func(ctx context.Context, tx *store.Tx) error {
		for _, name := range names {
			if err := tx.ReplaceCollection(ctx, name, doc.Collections[name]); err != nil {
				return fmt.Errorf("import %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
