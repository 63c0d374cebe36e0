package migrate

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"astroclub.org/internal/store"
)

var fixed = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func expectBookkeeping(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_seeds")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (x int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (x int); create index b_x on b (x);")},
	}
	mgr := NewManager(db, fsys, WithClock(func() time.Time { return fixed }))

	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create index b_x")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("insert into schema_migrations(name, applied_at)")).
		WithArgs("0002_b.up.sql", fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mgr := NewManager(db, fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a (x int);")}})

	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table a")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = mgr.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_a.up.sql") {
		t.Fatalf("expected failure naming the migration, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mgr := NewManager(db, fstest.MapFS{"0001_a.up.sql": {Data: []byte("select 1;")}})
	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	if err := mgr.Down(context.Background()); err == nil || !strings.Contains(err.Error(), "missing down migration") {
		t.Fatalf("expected missing down error, got %v", err)
	}
}

func TestVerifyReportsMissingTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mgr := NewManager(db, Schema())
	mock.ExpectQuery(regexp.QuoteMeta("select to_regclass($1) is not null")).
		WithArgs("profiles").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("select to_regclass($1) is not null")).
		WithArgs("events").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = mgr.Verify(context.Background(), "profiles", "events")
	if !errors.Is(err, store.ErrBootstrap) {
		t.Fatalf("expected bootstrap error, got %v", err)
	}
	if !strings.Contains(err.Error(), "events") || strings.Contains(err.Error(), "profiles") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestEmbeddedSchemaIsComplete(t *testing.T) {
	ups, err := collectSQL(Schema(), ".up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) < 3 {
		t.Fatalf("expected embedded migrations, got %v", ups)
	}
	var all strings.Builder
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(Schema(), down); err != nil {
			t.Fatalf("%s has no down migration", up)
		}
		data, _ := fs.ReadFile(Schema(), up)
		all.Write(data)
	}
	for _, table := range RequiredTables {
		if !strings.Contains(all.String(), "create table if not exists "+table+" (") {
			t.Fatalf("schema does not create %s", table)
		}
	}
}

func TestSplitStatementsKeepsFunctionBodies(t *testing.T) {
	sql := `create function f() returns trigger as $$
begin
    perform pg_notify('c', 'a;b');
    return null;
end;
$$ language plpgsql;
insert into t values ('x;y');
select 1`
	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "end;\n$$ language plpgsql;") {
		t.Fatalf("function body split: %q", stmts[0])
	}
	if strings.TrimSpace(stmts[1]) != "insert into t values ('x;y');" {
		t.Fatalf("unexpected second statement %q", stmts[1])
	}
}
