package services

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"moto-scraper/config"
	"moto-scraper/models"
	"moto-scraper/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBFilePath:      filepath.Join(t.TempDir(), "test.db"),
		DBTimeoutMs:     5000,
		LookupChunkSize: 900,
	}
}

func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db := openRaw(t, path)
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM data_moto").Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func checkSummary(t *testing.T, got *models.ReconcileSummary, inserted, updated, skipped int) {
	t.Helper()
	if got.Inserted != inserted || got.Updated != updated || got.Skipped != skipped {
		t.Errorf("summary: got {inserted:%d updated:%d skipped:%d}, want {%d %d %d}",
			got.Inserted, got.Updated, got.Skipped, inserted, updated, skipped)
	}
	if got.Inserted+got.Updated+got.Skipped != got.Total {
		t.Errorf("summary does not add up: %+v", got)
	}
}

func TestReconcileInsertThenUpdate(t *testing.T) {
	cfg := testConfig(t)
	r := NewReconciler(cfg, newTestLogger())

	batch := []models.RawRecord{
		fullRecord("1", "https://example/1", "M1"),
		fullRecord("2", "https://example/2", "M2"),
		fullRecord("3", "https://example/3", "M3"),
	}

	first, err := r.Reconcile(batch, "honda", "cb500")
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	checkSummary(t, first, 3, 0, 0)
	if first.Total != 3 {
		t.Errorf("total: got %d, want 3", first.Total)
	}

	second, err := r.Reconcile(batch, "honda", "cb500")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	checkSummary(t, second, 0, 3, 0)

	if n := countRows(t, cfg.DBFilePath); n != 3 {
		t.Errorf("row count: got %d, want 3", n)
	}
}

func TestReconcileSkipsBrokenRecordThenHeals(t *testing.T) {
	cfg := testConfig(t)
	r := NewReconciler(cfg, newTestLogger())

	a := fullRecord("A", "https://example/a", "Moto A")
	b := fullRecord("B", "https://example/b", "") // dropped: empty title
	c := fullRecord("C", "https://example/c", "Moto C")

	first, err := r.Reconcile([]models.RawRecord{a, b, c}, "honda", "cb500")
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	checkSummary(t, first, 2, 0, 1)
	if first.Total != 3 {
		t.Errorf("total: got %d, want 3", first.Total)
	}

	b["title"] = "Moto B fixed"
	second, err := r.Reconcile([]models.RawRecord{a, b, c}, "honda", "cb500")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	checkSummary(t, second, 1, 2, 0)
}

func TestReconcileMissingColumnWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	r := NewReconciler(cfg, newTestLogger())

	rec := fullRecord("1", "https://example/1", "M1")
	delete(rec, "year")

	_, err := r.Reconcile([]models.RawRecord{rec}, "honda", "cb500")
	var schemaErr *SchemaValidationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}

	// The structural check fires before any storage access.
	if _, err := os.Stat(cfg.DBFilePath); !os.IsNotExist(err) {
		t.Errorf("database file should not exist, stat err = %v", err)
	}
}

func TestReconcileAllSkippedTouchesNoStorage(t *testing.T) {
	cfg := testConfig(t)
	r := NewReconciler(cfg, newTestLogger())

	recs := []models.RawRecord{
		fullRecord("", "https://example/1", "M1"),
		fullRecord("", "https://example/2", "M2"),
	}

	summary, err := r.Reconcile(recs, "honda", "cb500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkSummary(t, summary, 0, 0, 2)
	if summary.Total != 2 {
		t.Errorf("total: got %d, want 2", summary.Total)
	}

	if _, err := os.Stat(cfg.DBFilePath); !os.IsNotExist(err) {
		t.Errorf("database file should not exist, stat err = %v", err)
	}
}

func TestReconcileMigratesOldTable(t *testing.T) {
	cfg := testConfig(t)

	// A table laid out the way the first version of this routine created it:
	// no marca/modelo, no timestamps.
	db := openRaw(t, cfg.DBFilePath)
	if _, err := db.Exec(`
		CREATE TABLE data_moto (
			id          TEXT PRIMARY KEY,
			url         TEXT NOT NULL,
			title       TEXT NOT NULL,
			km          INTEGER,
			price       INTEGER,
			year        INTEGER,
			imgUrl      TEXT,
			provinceId  TEXT,
			hp          REAL,
			UNIQUE (url)
		)`); err != nil {
		t.Fatalf("create old table: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO data_moto (id, url, title) VALUES ('old', 'https://example/old', 'Old row')`); err != nil {
		t.Fatalf("seed old row: %v", err)
	}

	r := NewReconciler(cfg, newTestLogger())
	summary, err := r.Reconcile(
		[]models.RawRecord{fullRecord("1", "https://example/1", "M1")}, "honda", "cb500")
	if err != nil {
		t.Fatalf("reconcile against old table: %v", err)
	}
	checkSummary(t, summary, 1, 0, 0)

	store, err := storage.Open(cfg.DBFilePath, cfg.DBTimeoutMs)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	cols, err := store.TableSchema("data_moto")
	if err != nil {
		t.Fatalf("table schema: %v", err)
	}
	names := make(map[string]bool)
	for _, c := range cols {
		names[c.Name] = true
	}
	for _, want := range []string{"marca", "modelo", "created_at", "updated_at"} {
		if !names[want] {
			t.Errorf("column %q not added by migration", want)
		}
	}

	// The migration backfills timestamps so pre-existing rows are never NULL.
	var created, updated sql.NullString
	if err := db.QueryRow(
		`SELECT created_at, updated_at FROM data_moto WHERE id = 'old'`).
		Scan(&created, &updated); err != nil {
		t.Fatalf("read old row: %v", err)
	}
	if !created.Valid || created.String == "" {
		t.Error("created_at not backfilled for pre-existing row")
	}
	if !updated.Valid || updated.String == "" {
		t.Error("updated_at not backfilled for pre-existing row")
	}
}

func TestReconcileRollsBackWholeBatchOnWriteFailure(t *testing.T) {
	cfg := testConfig(t)
	r := NewReconciler(cfg, newTestLogger())

	// Two distinct ids sharing a url trip the UNIQUE(url) constraint mid-batch.
	recs := []models.RawRecord{
		fullRecord("1", "https://example/same", "M1"),
		fullRecord("2", "https://example/same", "M2"),
	}

	_, err := r.Reconcile(recs, "honda", "cb500")
	var writeErr *storage.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected storage.WriteError, got %v", err)
	}

	if n := countRows(t, cfg.DBFilePath); n != 0 {
		t.Errorf("partial application after rollback: %d rows", n)
	}
}
