package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// CheckIntegrity verifies the database file and the store's own invariants:
// every record decodes and belongs to a declared collection, index keys
// match record fields, no key points at a missing record and every outbox
// entry carries a known operation. Failures wrap common.ErrCorruptLocalState.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return dbx.WithReadTx(ctx, s.db, func(ctx context.Context, db dbx.DBTX) error {
		var res string
		if err := db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&res); err != nil {
			return fmt.Errorf("%w: quick_check: %w", common.ErrCorruptLocalState, err)
		}
		if res != "ok" {
			return fmt.Errorf("%w: quick_check: %s", common.ErrCorruptLocalState, res)
		}

		stored, err := loadKeys(ctx, db)
		if err != nil {
			return err
		}
		if err := s.checkRecords(ctx, db, stored); err != nil {
			return err
		}

		var orphans int
		if err := db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM record_keys k
			LEFT JOIN records r ON r.collection = k.collection AND r.id = k.id
			WHERE r.id IS NULL`).Scan(&orphans); err != nil {
			return fmt.Errorf("failed to count orphan keys: %w", err)
		}
		if orphans > 0 {
			return fmt.Errorf("%w: %d index keys without a record", common.ErrCorruptLocalState, orphans)
		}

		var badOps int
		if err := db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM outbox WHERE operation NOT IN (?, ?, ?)`,
			string(models.OpCreate), string(models.OpUpdate), string(models.OpDelete)).Scan(&badOps); err != nil {
			return fmt.Errorf("failed to check outbox: %w", err)
		}
		if badOps > 0 {
			return fmt.Errorf("%w: %d outbox entries with unknown operation", common.ErrCorruptLocalState, badOps)
		}
		return nil
	})
}

// Repair deletes what a full resync cannot rewrite: records and keys of
// undeclared collections, orphan index keys and outbox entries with an
// unknown operation.
func (s *Store) Repair(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	names := s.schema.Names()
	unlock := s.lock(sortedCopy(names))
	defer unlock()

	args := make([]any, 0, len(names))
	for _, n := range names {
		args = append(args, n)
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		stmts := []struct {
			query string
			args  []any
		}{
			{`DELETE FROM records WHERE collection NOT IN (` + in + `)`, args},
			{`DELETE FROM record_keys WHERE collection NOT IN (` + in + `)`, args},
			{`DELETE FROM record_keys WHERE NOT EXISTS (
				SELECT 1 FROM records r WHERE r.collection = record_keys.collection AND r.id = record_keys.id)`, nil},
			{`DELETE FROM outbox WHERE operation NOT IN (?, ?, ?)`,
				[]any{string(models.OpCreate), string(models.OpUpdate), string(models.OpDelete)}},
		}
		for _, st := range stmts {
			res, err := tx.ExecContext(ctx, st.query, st.args...)
			if err != nil {
				return fmt.Errorf("repair: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				s.logger.Warn(ctx, "repair removed rows", "rows", n)
			}
		}
		return nil
	})
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func (s *Store) checkRecords(ctx context.Context, db dbx.DBTX, stored map[string]string) error {
	rows, err := db.QueryContext(ctx, `SELECT collection, id, last_modified, data FROM records`)
	if err != nil {
		return fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			collection, id string
			modified       int64
			data           []byte
		)
		if err := rows.Scan(&collection, &id, &modified, &data); err != nil {
			return fmt.Errorf("%w: %w", common.ErrCorruptLocalState, err)
		}
		c, ok := s.schema.Collection(collection)
		if !ok {
			return fmt.Errorf("%w: record %s/%s in undeclared collection", common.ErrCorruptLocalState, collection, id)
		}
		rec, err := decodeRecord(collection, id, modified, data)
		if err != nil {
			return err
		}
		want := keySignature(recordKeys(c, rec.Fields))
		if got := stored[collection+"/"+id]; got != want {
			return fmt.Errorf("%w: index keys of %s/%s are stale", common.ErrCorruptLocalState, collection, id)
		}
	}
	return rows.Err()
}

func loadKeys(ctx context.Context, db dbx.DBTX) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT collection, id, index_name, value, is_unique FROM record_keys`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan index keys: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]keyValue)
	for rows.Next() {
		var (
			collection, id string
			k              keyValue
			unique         int
		)
		if err := rows.Scan(&collection, &id, &k.Index, &k.Value, &unique); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrCorruptLocalState, err)
		}
		k.Unique = unique == 1
		key := collection + "/" + id
		grouped[key] = append(grouped[key], k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(grouped))
	for key, keys := range grouped {
		out[key] = keySignature(keys)
	}
	return out, nil
}

func keySignature(keys []keyValue) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s/%t", k.Index, k.Value, k.Unique))
	}
	sort.Strings(parts)
	return strings.Join(parts, "\x00")
}
