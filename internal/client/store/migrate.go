package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/migrations"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/pressly/goose/v3"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded SQL migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

type indexKey struct {
	collection string
	name       string
}

type registry struct {
	collections map[string]struct{}
	indexes     map[indexKey]Index
}

func declaredRegistry(s Schema) registry {
	r := registry{collections: map[string]struct{}{}, indexes: map[indexKey]Index{}}
	for _, c := range s.Collections {
		r.collections[c.Name] = struct{}{}
		for _, idx := range c.Indexes {
			r.indexes[indexKey{c.Name, idx.Name}] = idx
		}
	}
	return r
}

func loadRegistry(ctx context.Context, db dbx.DBTX) (registry, error) {
	r := registry{collections: map[string]struct{}{}, indexes: map[indexKey]Index{}}

	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_collections`)
	if err != nil {
		return r, fmt.Errorf("failed to read collection registry: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return r, err
		}
		r.collections[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return r, err
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT collection, index_name, field, is_unique FROM schema_indexes`)
	if err != nil {
		return r, fmt.Errorf("failed to read index registry: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k      indexKey
			idx    Index
			unique int
		)
		if err := rows.Scan(&k.collection, &k.name, &idx.Field, &unique); err != nil {
			return r, err
		}
		idx.Name = k.name
		idx.Unique = unique == 1
		r.indexes[k] = idx
	}
	return r, rows.Err()
}

func (r registry) equal(o registry) bool {
	if len(r.collections) != len(o.collections) || len(r.indexes) != len(o.indexes) {
		return false
	}
	for c := range r.collections {
		if _, ok := o.collections[c]; !ok {
			return false
		}
	}
	for k, idx := range r.indexes {
		if other, ok := o.indexes[k]; !ok || other != idx {
			return false
		}
	}
	return true
}

// applySchema brings the stored layout to the declared schema version in a
// single transaction: stale index keys are dropped, new or changed indexes
// are backfilled and records of removed collections are deleted.
func (s *Store) applySchema(ctx context.Context) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSyncMetadata(metadata.NewSQLiteRepository(tx))
		stored, err := meta.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		current, err := loadRegistry(ctx, tx)
		if err != nil {
			return err
		}
		declared := declaredRegistry(s.schema)

		switch {
		case stored > s.schema.Version:
			return fmt.Errorf("stored schema version %d is newer than declared %d", stored, s.schema.Version)
		case stored == s.schema.Version:
			if !current.equal(declared) {
				return fmt.Errorf("schema version %d changed without a version bump", stored)
			}
			return nil
		}

		s.logger.Info(ctx, "upgrading local schema", "from", stored, "to", s.schema.Version)

		for k, idx := range current.indexes {
			if d, ok := declared.indexes[k]; ok && d == idx {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM record_keys WHERE collection = ? AND index_name = ?`, k.collection, k.name); err != nil {
				return fmt.Errorf("failed to drop index %s.%s: %w", k.collection, k.name, err)
			}
		}

		for c := range current.collections {
			if _, ok := declared.collections[c]; ok {
				continue
			}
			for _, q := range []string{
				`DELETE FROM record_keys WHERE collection = ?`,
				`DELETE FROM records WHERE collection = ?`,
				`DELETE FROM outbox WHERE collection = ?`,
			} {
				if _, err := tx.ExecContext(ctx, q, c); err != nil {
					return fmt.Errorf("failed to drop collection %s: %w", c, err)
				}
			}
			s.logger.Warn(ctx, "dropped removed collection", "collection", c)
		}

		for _, c := range s.schema.Collections {
			var fresh []Index
			for _, idx := range c.Indexes {
				if old, ok := current.indexes[indexKey{c.Name, idx.Name}]; ok && old == idx {
					continue
				}
				fresh = append(fresh, idx)
			}
			if len(fresh) == 0 {
				continue
			}
			if err := backfill(ctx, tx, c.Name, fresh); err != nil {
				return err
			}
		}

		if err := writeRegistry(ctx, tx, s.schema); err != nil {
			return err
		}
		return meta.SetSchemaVersion(ctx, s.schema.Version)
	})
}

func backfill(ctx context.Context, tx dbx.DBTX, collection string, indexes []Index) error {
	type row struct {
		id     string
		fields map[string]any
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id, last_modified, data FROM records WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return fmt.Errorf("failed to read %s for backfill: %w", collection, err)
	}
	var all []row
	for rows.Next() {
		var (
			id       string
			modified int64
			data     []byte
		)
		if err := rows.Scan(&id, &modified, &data); err != nil {
			rows.Close()
			return err
		}
		rec, err := decodeRecord(collection, id, modified, data)
		if err != nil {
			rows.Close()
			return err
		}
		all = append(all, row{id: id, fields: rec.Fields})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	c := Collection{Name: collection, Indexes: indexes}
	for _, r := range all {
		keys := recordKeys(c, r.fields)
		if err := checkUnique(ctx, tx, collection, r.id, keys); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO record_keys (collection, index_name, value, id, is_unique)
				VALUES (?, ?, ?, ?, ?)`, collection, k.Index, k.Value, r.id, boolInt(k.Unique)); err != nil {
				return fmt.Errorf("failed to backfill %s.%s: %w", collection, k.Index, err)
			}
		}
	}
	return nil
}

func writeRegistry(ctx context.Context, tx dbx.DBTX, s Schema) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_indexes`); err != nil {
		return fmt.Errorf("failed to reset index registry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_collections`); err != nil {
		return fmt.Errorf("failed to reset collection registry: %w", err)
	}
	for _, c := range s.Collections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_collections (name) VALUES (?)`, c.Name); err != nil {
			return fmt.Errorf("failed to register collection %s: %w", c.Name, err)
		}
		for _, idx := range c.Indexes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO schema_indexes (collection, index_name, field, is_unique)
				VALUES (?, ?, ?, ?)`, c.Name, idx.Name, idx.Field, boolInt(idx.Unique)); err != nil {
				return fmt.Errorf("failed to register index %s.%s: %w", c.Name, idx.Name, err)
			}
		}
	}
	return nil
}
