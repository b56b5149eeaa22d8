package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// Tx is a handle to one store transaction. It is only valid inside the
// callback passed to Store.Transact or Store.View.
type Tx struct {
	s        *Store
	db       dbx.DBTX
	locked   map[string]struct{}
	readOnly bool
	enqueued int
}

func newTx(s *Store, db dbx.DBTX, collections []string, readOnly bool) *Tx {
	locked := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		locked[c] = struct{}{}
	}
	return &Tx{s: s, db: db, locked: locked, readOnly: readOnly}
}

// Outbox returns the outbox repository bound to this transaction.
func (t *Tx) Outbox() *outbox.Repository {
	return outbox.NewRepository(t.db)
}

// Metadata returns the sync metadata accessor bound to this transaction.
func (t *Tx) Metadata() *metadata.SyncMetadata {
	return metadata.NewSyncMetadata(metadata.NewSQLiteRepository(t.db))
}

func (t *Tx) collection(name string) (Collection, error) {
	c, ok := t.s.schema.Collection(name)
	if !ok {
		return Collection{}, fmt.Errorf("unknown collection %q", name)
	}
	if _, ok := t.locked[name]; !ok {
		return Collection{}, fmt.Errorf("collection %q is not part of this transaction", name)
	}
	return c, nil
}

func (t *Tx) writable(name string) (Collection, error) {
	if t.readOnly {
		return Collection{}, errors.New("write in read-only view")
	}
	return t.collection(name)
}

// Get returns the record or common.ErrNotFound.
func (t *Tx) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	if _, err := t.collection(collection); err != nil {
		return nil, err
	}
	return t.get(ctx, collection, id)
}

func (t *Tx) get(ctx context.Context, collection, id string) (*models.Record, error) {
	var (
		modified int64
		data     []byte
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT last_modified, data FROM records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&modified, &data)
	if isNoRows(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return decodeRecord(collection, id, modified, data)
}

// GetByIndex returns the records whose indexed field equals value, by id.
func (t *Tx) GetByIndex(ctx context.Context, collection, index, value string) ([]*models.Record, error) {
	c, err := t.collection(collection)
	if err != nil {
		return nil, err
	}
	if _, ok := c.Index(index); !ok {
		return nil, fmt.Errorf("collection %q has no index %q", collection, index)
	}
	return t.queryRecords(ctx, `
		SELECT r.id, r.last_modified, r.data
		FROM record_keys k JOIN records r ON r.collection = k.collection AND r.id = k.id
		WHERE k.collection = ? AND k.index_name = ? AND k.value = ?
		ORDER BY r.id`, collection, index, value)
}

// GetRange returns the records whose indexed value lies in [from, to] ordered
// by value. An empty to leaves the range open-ended.
func (t *Tx) GetRange(ctx context.Context, collection, index, from, to string) ([]*models.Record, error) {
	c, err := t.collection(collection)
	if err != nil {
		return nil, err
	}
	if _, ok := c.Index(index); !ok {
		return nil, fmt.Errorf("collection %q has no index %q", collection, index)
	}
	return t.queryRecords(ctx, `
		SELECT r.id, r.last_modified, r.data
		FROM record_keys k JOIN records r ON r.collection = k.collection AND r.id = k.id
		WHERE k.collection = ? AND k.index_name = ? AND k.value >= ? AND (? = '' OR k.value <= ?)
		ORDER BY k.value, r.id`, collection, index, from, to, to)
}

// GetAll returns every record of the collection ordered by id.
func (t *Tx) GetAll(ctx context.Context, collection string) ([]*models.Record, error) {
	if _, err := t.collection(collection); err != nil {
		return nil, err
	}
	return t.queryRecords(ctx,
		`SELECT id, last_modified, data FROM records WHERE collection = ? ORDER BY id`, collection)
}

// Count returns the number of records in the collection.
func (t *Tx) Count(ctx context.Context, collection string) (int, error) {
	if _, err := t.collection(collection); err != nil {
		return 0, err
	}
	var n int
	if err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

func (t *Tx) queryRecords(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	collection, _ := args[0].(string)
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		var (
			id       string
			modified int64
			data     []byte
		)
		if err := rows.Scan(&id, &modified, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", collection, err)
		}
		rec, err := decodeRecord(collection, id, modified, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s records: %w", collection, err)
	}
	return out, nil
}

// Put inserts or replaces rec and enqueues a create or update entry for it.
// A unique index clash fails with *ConstraintViolationError and leaves the
// store untouched.
func (t *Tx) Put(ctx context.Context, collection string, rec *models.Record) error {
	c, err := t.writable(collection)
	if err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.LastModified.IsZero() {
		rec.LastModified = t.s.now()
	}
	rec.LastModified = models.Truncate(rec.LastModified)

	op := models.OpCreate
	if _, err := t.get(ctx, collection, rec.ID); err == nil {
		op = models.OpUpdate
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	data, err := t.write(ctx, c, rec)
	if err != nil {
		return err
	}
	return t.enqueue(ctx, op, collection, rec.ID, rec.LastModified, data)
}

// write upserts rec and its index keys without touching the outbox.
func (t *Tx) write(ctx context.Context, c Collection, rec *models.Record) ([]byte, error) {
	keys := recordKeys(c, rec.Fields)
	if err := checkUnique(ctx, t.db, c.Name, rec.ID, keys); err != nil {
		return nil, err
	}
	data, err := encodeFields(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s/%s: %w", c.Name, rec.ID, err)
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO records (collection, id, last_modified, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			last_modified = excluded.last_modified,
			data = excluded.data`,
		c.Name, rec.ID, models.Millis(rec.LastModified), data)
	if err != nil {
		return nil, fmt.Errorf("failed to write %s/%s: %w", c.Name, rec.ID, err)
	}
	if err := writeKeys(ctx, t.db, c.Name, rec.ID, keys); err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the record and, following the declared cascades, every
// dependent record. One delete entry is enqueued per removed row, dependents
// first. A missing record fails with common.ErrNotFound.
func (t *Tx) Delete(ctx context.Context, collection, id string) error {
	if _, err := t.writable(collection); err != nil {
		return err
	}
	rec, err := t.get(ctx, collection, id)
	if err != nil {
		return err
	}
	return t.deleteCascade(ctx, collection, rec, make(map[string]struct{}))
}

func (t *Tx) deleteCascade(ctx context.Context, collection string, rec *models.Record, seen map[string]struct{}) error {
	key := collection + "/" + rec.ID
	if _, ok := seen[key]; ok {
		return nil
	}
	seen[key] = struct{}{}

	for _, rule := range t.s.schema.cascadesFrom(collection) {
		ref := rec.ID
		if rule.ParentField != "" {
			v, ok := indexValue(rec.Fields[rule.ParentField])
			if !ok {
				continue
			}
			ref = v
		}
		if _, ok := t.locked[rule.Child]; !ok {
			return fmt.Errorf("cascade child %q is not part of this transaction", rule.Child)
		}
		children, err := t.queryRecords(ctx, `
			SELECT r.id, r.last_modified, r.data
			FROM record_keys k JOIN records r ON r.collection = k.collection AND r.id = k.id
			WHERE k.collection = ? AND k.index_name = ? AND k.value = ?
			ORDER BY r.id`, rule.Child, rule.ChildIndex, ref)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := t.deleteCascade(ctx, rule.Child, child, seen); err != nil {
				return err
			}
		}
	}

	if err := t.remove(ctx, collection, rec.ID); err != nil {
		return err
	}
	data, err := encodeFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, rec.ID, err)
	}

	// A delete must win over the state it removes under last-write-wins.
	stamp := t.s.now()
	if floor := rec.LastModified.Add(time.Millisecond); stamp.Before(floor) {
		stamp = floor
	}
	return t.enqueue(ctx, models.OpDelete, collection, rec.ID, models.Truncate(stamp), data)
}

func (t *Tx) remove(ctx context.Context, collection, id string) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return deleteKeys(ctx, t.db, collection, id)
}

func (t *Tx) enqueue(ctx context.Context, op models.Operation, collection, id string, modified time.Time, payload []byte) error {
	_, err := t.Outbox().Enqueue(ctx, &outbox.Entry{
		Operation:    op,
		Collection:   collection,
		RecordID:     id,
		Payload:      payload,
		LastModified: modified,
		EnqueuedAt:   t.s.now(),
	})
	if err != nil {
		return err
	}
	t.enqueued++
	return nil
}

// ReplaceCollection clears the collection and bulk-inserts recs. The outbox is
// not touched. Duplicate unique values among recs fail the call.
func (t *Tx) ReplaceCollection(ctx context.Context, collection string, recs []*models.Record) error {
	c, err := t.writable(collection)
	if err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, `DELETE FROM record_keys WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear keys of %s: %w", collection, err)
	}
	if _, err := t.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	for _, rec := range recs {
		if rec == nil || rec.ID == "" {
			return fmt.Errorf("replace %s: record id is required", collection)
		}
		r := *rec
		r.LastModified = models.Truncate(r.LastModified)
		if _, err := t.write(ctx, c, &r); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRemote merges a remote change under last-write-wins: the remote state
// is applied unless the local record is strictly newer. A remote delete
// removes the row without cascading. The outbox is not touched.
func (t *Tx) ApplyRemote(ctx context.Context, collection string, rec *models.Record, deleted bool) (bool, error) {
	c, err := t.writable(collection)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.ID == "" {
		return false, errors.New("record id is required")
	}

	local, err := t.get(ctx, collection, rec.ID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		local = nil
	case err != nil:
		return false, err
	}
	if local != nil && local.NewerThan(rec) {
		return false, nil
	}

	if deleted {
		if local == nil {
			return false, nil
		}
		return true, t.remove(ctx, collection, rec.ID)
	}
	r := *rec
	r.LastModified = models.Truncate(r.LastModified)
	if _, err := t.write(ctx, c, &r); err != nil {
		return false, err
	}
	return true, nil
}

// DiscardOutbox drops queued entries of collection except those for keep.
func (t *Tx) DiscardOutbox(ctx context.Context, collection string, keep []string) (int64, error) {
	if _, err := t.writable(collection); err != nil {
		return 0, err
	}
	return t.Outbox().DiscardCollection(ctx, collection, keep)
}

func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(fields)
}

func decodeRecord(collection, id string, modified int64, data []byte) (*models.Record, error) {
	rec := &models.Record{ID: id, LastModified: models.FromMillis(modified)}
	if err := json.Unmarshal(data, &rec.Fields); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", common.ErrCorruptLocalState, collection, id, err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return rec, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
