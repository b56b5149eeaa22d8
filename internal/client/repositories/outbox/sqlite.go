package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// Repository implements outbox storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type Repository struct {
	db dbx.DBTX
}

// NewRepository returns a Repository bound to the given DBTX.
func NewRepository(db dbx.DBTX) *Repository {
	return &Repository{db: db}
}

// Enqueue appends e and returns its sequence number. EnqueuedAt defaults to now.
func (r *Repository) Enqueue(ctx context.Context, e *Entry) (int64, error) {
	if !e.Operation.Valid() {
		return 0, fmt.Errorf("failed to enqueue: unknown operation %q", e.Operation)
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (operation, collection, record_id, payload, last_modified, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Operation), e.Collection, e.RecordID, []byte(e.Payload),
		models.Millis(e.LastModified), models.Millis(e.EnqueuedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s/%s: %w", e.Operation, e.Collection, e.RecordID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox seq: %w", err)
	}
	e.Seq = seq
	return seq, nil
}

// PeekBatch returns up to n entries with Seq greater than afterSeq in
// submission order. Entries stay queued.
func (r *Repository) PeekBatch(ctx context.Context, afterSeq int64, n int) ([]*Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, operation, collection, record_id, payload, last_modified, enqueued_at, attempts, last_error
		FROM outbox WHERE seq > ? ORDER BY seq LIMIT ?`, afterSeq, n)
	if err != nil {
		return nil, fmt.Errorf("failed to peek outbox: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var (
			e        Entry
			op       string
			payload  []byte
			modified int64
			enqueued int64
		)
		if err := rows.Scan(&e.Seq, &op, &e.Collection, &e.RecordID, &payload, &modified, &enqueued, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		e.Operation = models.Operation(op)
		e.Payload = payload
		e.LastModified = models.FromMillis(modified)
		e.EnqueuedAt = models.FromMillis(enqueued)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w", err)
	}
	return result, nil
}

// Ack removes confirmed entries. Unknown sequence numbers are ignored.
func (r *Repository) Ack(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}
	query := `DELETE FROM outbox WHERE seq IN (` + placeholders(len(seqs)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to ack outbox entries: %w", err)
	}
	return nil
}

// Size returns the number of queued entries.
func (r *Repository) Size(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

// SizeByCollection returns queued entry counts grouped by collection.
func (r *Repository) SizeByCollection(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT collection, COUNT(*) FROM outbox GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var (
			c string
			n int
		)
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outbox count: %w", err)
		}
		result[c] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox counts: %w", err)
	}
	return result, nil
}

// HasPending reports whether the record has at least one queued entry.
func (r *Repository) HasPending(ctx context.Context, collection, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE collection = ? AND record_id = ?`, collection, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending %s/%s: %w", collection, id, err)
	}
	return n > 0, nil
}

// MarkFailed records a failed delivery attempt. The entry stays queued.
func (r *Repository) MarkFailed(ctx context.Context, seq int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE seq = ?`, reason, seq)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %d: %w", seq, err)
	}
	return nil
}

// DiscardCollection removes the queued entries of collection whose record id
// is not in keep, returning how many were removed.
func (r *Repository) DiscardCollection(ctx context.Context, collection string, keep []string) (int64, error) {
	query := `DELETE FROM outbox WHERE collection = ?`
	args := []any{collection}
	if len(keep) > 0 {
		query += ` AND record_id NOT IN (` + placeholders(len(keep)) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to discard outbox entries of %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
