package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
)

type keyValue struct {
	Index  string
	Value  string
	Unique bool
}

// indexValue converts a field value to its indexed string form. Missing, nil
// and empty-string values are not indexed.
func indexValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case bool:
		return strconv.FormatBool(x), true
	case fmt.Stringer:
		s := x.String()
		return s, s != ""
	default:
		return fmt.Sprint(x), true
	}
}

func recordKeys(c Collection, fields map[string]any) []keyValue {
	var out []keyValue
	for _, idx := range c.Indexes {
		v, ok := indexValue(fields[idx.Field])
		if !ok {
			continue
		}
		out = append(out, keyValue{Index: idx.Name, Value: v, Unique: idx.Unique})
	}
	return out
}

// UniqueValues returns the values fields holds for the collection's unique
// indexes, keyed by index name, in the form the store enforces them.
func (c Collection) UniqueValues(fields map[string]any) map[string]string {
	out := map[string]string{}
	for _, k := range recordKeys(c, fields) {
		if k.Unique {
			out[k.Index] = k.Value
		}
	}
	return out
}

// checkUnique fails with *ConstraintViolationError when another record of the
// collection already owns one of the unique values in keys.
func checkUnique(ctx context.Context, db dbx.DBTX, collection, id string, keys []keyValue) error {
	for _, k := range keys {
		if !k.Unique {
			continue
		}
		var owner string
		err := db.QueryRowContext(ctx, `
			SELECT id FROM record_keys
			WHERE collection = ? AND index_name = ? AND value = ? AND is_unique = 1 AND id <> ?
			LIMIT 1`, collection, k.Index, k.Value, id).Scan(&owner)
		if err == nil {
			return &ConstraintViolationError{
				Collection: collection, Index: k.Index, Value: k.Value, ID: id, ExistingID: owner,
			}
		}
		if !isNoRows(err) {
			return fmt.Errorf("failed to check unique %s.%s: %w", collection, k.Index, err)
		}
	}
	return nil
}

func writeKeys(ctx context.Context, db dbx.DBTX, collection, id string, keys []keyValue) error {
	if err := deleteKeys(ctx, db, collection, id); err != nil {
		return err
	}
	for _, k := range keys {
		_, err := db.ExecContext(ctx, `
			INSERT INTO record_keys (collection, index_name, value, id, is_unique)
			VALUES (?, ?, ?, ?, ?)`, collection, k.Index, k.Value, id, boolInt(k.Unique))
		if err != nil {
			return fmt.Errorf("failed to write key %s.%s of %s: %w", collection, k.Index, id, err)
		}
	}
	return nil
}

func deleteKeys(ctx context.Context, db dbx.DBTX, collection, id string) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM record_keys WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to delete keys of %s/%s: %w", collection, id, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
