// Package records is the CRUD surface the application uses. It stamps ids
// and modification times so callers never set them.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/catalog"
	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
	"github.com/google/uuid"
)

// Repository serves one collection.
type Repository struct {
	store      *store.Store
	collection string
	keyIndex   string
	now        timex.Clock
	newID      func() string
}

type Option func(*Repository)

func WithClock(c timex.Clock) Option {
	return func(r *Repository) { r.now = c }
}

func WithIDGenerator(fn func() string) Option {
	return func(r *Repository) { r.newID = fn }
}

func New(s *store.Store, collection string, opts ...Option) (*Repository, error) {
	if _, ok := s.Schema().Collection(collection); !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	keyIndex, _ := catalog.KeyIndex(collection)
	r := &Repository{
		store:      s,
		collection: collection,
		keyIndex:   keyIndex,
		now:        timex.SystemClock,
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Repository) Collection() string { return r.collection }

// Create stores a new record with a fresh id.
func (r *Repository) Create(ctx context.Context, fields map[string]any) (*models.Record, error) {
	return r.CreateWith(ctx, fields, nil, nil)
}

// CreateWith stores a new record and runs extra in the same transaction,
// e.g. to write a notification alongside a client. also lists the other
// collections extra writes to.
func (r *Repository) CreateWith(ctx context.Context, fields map[string]any, also []string,
	extra func(ctx context.Context, tx *store.Tx, rec *models.Record) error) (*models.Record, error) {
	rec := &models.Record{
		ID:           r.newID(),
		LastModified: models.Truncate(r.now()),
		Fields:       copyFields(fields),
	}
	err := r.store.Transact(ctx, append([]string{r.collection}, also...), func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Put(ctx, r.collection, rec); err != nil {
			return err
		}
		if extra != nil {
			return extra(ctx, tx, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update replaces the fields of an existing record and restamps it so the
// new version wins over the one it replaces.
func (r *Repository) Update(ctx context.Context, rec *models.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("record id is required")
	}
	return r.store.Transact(ctx, []string{r.collection}, func(ctx context.Context, tx *store.Tx) error {
		cur, err := tx.Get(ctx, r.collection, rec.ID)
		if err != nil {
			return err
		}
		stamp := models.Truncate(r.now())
		if floor := cur.LastModified.Add(time.Millisecond); stamp.Before(floor) {
			stamp = floor
		}
		next := &models.Record{ID: rec.ID, LastModified: stamp, Fields: copyFields(rec.Fields)}
		if err := tx.Put(ctx, r.collection, next); err != nil {
			return err
		}
		rec.LastModified = stamp
		return nil
	})
}

// Delete removes the record and its dependents.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, r.collection, id)
}

// Get returns the record or common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*models.Record, error) {
	return r.store.Get(ctx, r.collection, id)
}

func (r *Repository) GetAll(ctx context.Context) ([]*models.Record, error) {
	return r.store.GetAll(ctx, r.collection)
}

// GetByKey looks a record up by the collection's natural key. It returns
// nil, nil when nothing matches.
func (r *Repository) GetByKey(ctx context.Context, value string) (*models.Record, error) {
	if r.keyIndex == "" {
		return nil, fmt.Errorf("collection %q has no natural key", r.collection)
	}
	recs, err := r.store.GetByIndex(ctx, r.collection, r.keyIndex, value)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// Find returns every record whose index equals value.
func (r *Repository) Find(ctx context.Context, index, value string) ([]*models.Record, error) {
	return r.store.GetByIndex(ctx, r.collection, index, value)
}

// Range returns the records whose index value lies in [from, to].
func (r *Repository) Range(ctx context.Context, index, from, to string) ([]*models.Record, error) {
	return r.store.GetRange(ctx, r.collection, index, from, to)
}

// Exists reports whether id is stored.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
