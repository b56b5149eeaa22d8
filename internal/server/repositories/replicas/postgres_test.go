package replicas

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const upsertQ = `(?s)^\s*INSERT\s+INTO\s+replica_records.*ON\s+CONFLICT\s+\(collection,\s*id\).*WHERE\s+replica_records\.last_modified\s*<\s*EXCLUDED\.last_modified`

func sample() *models.ReplicaRecord {
	return &models.ReplicaRecord{
		Collection:   "clients",
		ID:           "c-1",
		LastModified: 1700000000000,
		Payload:      []byte(`{"name":"Acme"}`),
		DeviceID:     "dev-1",
	}
}

func TestUpsert_Applied(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQ).
		WithArgs("clients", "c-1", int64(1700000000000), false, `{"name":"Acme"}`, "dev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Upsert(context.Background(), sample())
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if !ok {
		t.Fatal("expected row to be applied")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsert_StaleIsNotApplied(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQ).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Upsert(context.Background(), sample())
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if ok {
		t.Fatal("stale row must not be applied")
	}
}

func TestUpsert_EmptyPayloadStoredAsObject(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rec := sample()
	rec.Deleted = true
	rec.Payload = nil
	mock.ExpectExec(upsertQ).
		WithArgs("clients", "c-1", int64(1700000000000), true, "{}", "dev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := repo.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQ).WillReturnError(errors.New("db down"))

	_, err := repo.Upsert(context.Background(), sample())
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestUpsert_RowsAffectedError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQ).WillReturnResult(sqlmock.NewErrorResult(errors.New("ra")))

	_, err := repo.Upsert(context.Background(), sample())
	if err == nil || !regexp.MustCompile(`rows affected error: .*ra`).MatchString(err.Error()) {
		t.Fatalf("expected rows affected error, got %v", err)
	}
}

var cols = []string{"collection", "id", "last_modified", "deleted", "payload", "device_id", "updated_at"}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^SELECT\s+collection,.*FROM\s+replica_records\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+id\s*=\s*\$2`).
		WithArgs("clients", "c-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("clients", "c-1", int64(5), true, []byte("{}"), "dev", now))

	got, err := repo.Get(context.Background(), "clients", "c-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != "c-1" || !got.Deleted || got.LastModified != 5 {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+replica_records`).
		WithArgs("clients", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "clients", "nope")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSelectLive_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(cols).
		AddRow("clients", "a", int64(1), false, []byte(`{"name":"A"}`), "dev", now).
		AddRow("clients", "b", int64(2), false, []byte(`{"name":"B"}`), "dev", now)
	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+replica_records\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+NOT\s+deleted\s+ORDER\s+BY\s+id`).
		WithArgs("clients").
		WillReturnRows(rows)

	got, err := repo.SelectLive(context.Background(), "clients")
	if err != nil {
		t.Fatalf("SelectLive error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || string(got[1].Payload) != `{"name":"B"}` {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestSelectLive_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+replica_records`).WillReturnError(errors.New("boom"))

	_, err := repo.SelectLive(context.Background(), "clients")
	if err == nil || !regexp.MustCompile(`failed to select replica records: .*boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestSelectLive_ScanError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(cols).AddRow("clients", "a", "not-a-number", false, []byte("{}"), "dev", time.Now())
	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+replica_records`).WillReturnRows(rows)

	if _, err := repo.SelectLive(context.Background(), "clients"); err == nil {
		t.Fatal("expected scan error")
	}
}

func TestCollections(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+DISTINCT\s+collection\s+FROM\s+replica_records`).
		WillReturnRows(sqlmock.NewRows([]string{"collection"}).AddRow("clients").AddRow("receipts"))

	got, err := repo.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections error: %v", err)
	}
	if len(got) != 2 || got[0] != "clients" || got[1] != "receipts" {
		t.Fatalf("unexpected collections: %v", got)
	}
}
