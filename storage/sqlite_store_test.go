package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"moto-scraper/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"), 5000)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.EnsureSchema(); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func testListing(id string) *models.Listing {
	price := int64(3000)
	return &models.Listing{
		ID:     id,
		URL:    "https://example/" + id,
		Title:  "Listing " + id,
		Price:  &price,
		Marca:  "honda",
		Modelo: "cb500",
	}
}

func TestExistingIDsChunksLookups(t *testing.T) {
	s := openTestStore(t)

	var listings []*models.Listing
	var ids []string
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("id-%02d", i)
		listings = append(listings, testListing(id))
		ids = append(ids, id)
	}
	if err := s.UpsertBatch(listings); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A chunk size far below the batch forces several lookup rounds.
	probe := append([]string{"missing-a", "missing-b"}, ids...)
	existing, err := s.ExistingIDs(probe, 10)
	if err != nil {
		t.Fatalf("existing ids: %v", err)
	}

	if len(existing) != 25 {
		t.Errorf("existing: got %d ids, want 25", len(existing))
	}
	for _, id := range []string{"missing-a", "missing-b"} {
		if _, ok := existing[id]; ok {
			t.Errorf("id %q reported as existing", id)
		}
	}
}

func TestUpsertRefreshesUpdatedAtOnConflictOnly(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertBatch([]*models.Listing{testListing("x")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var updated sql.NullString
	if err := s.db.QueryRow(
		`SELECT updated_at FROM data_moto WHERE id = 'x'`).Scan(&updated); err != nil {
		t.Fatalf("read row: %v", err)
	}
	if updated.Valid {
		t.Errorf("fresh insert should not set updated_at, got %q", updated.String)
	}

	if err := s.UpsertBatch([]*models.Listing{testListing("x")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.db.QueryRow(
		`SELECT updated_at FROM data_moto WHERE id = 'x'`).Scan(&updated); err != nil {
		t.Fatalf("read row: %v", err)
	}
	if !updated.Valid || updated.String == "" {
		t.Error("conflict update should refresh updated_at")
	}
}

func TestUpsertOverwritesNonKeyColumns(t *testing.T) {
	s := openTestStore(t)

	l := testListing("y")
	if err := s.UpsertBatch([]*models.Listing{l}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	newPrice := int64(9999)
	l.Price = &newPrice
	l.Title = "Repriced"
	l.Km = nil // incoming null overwrites too
	if err := s.UpsertBatch([]*models.Listing{l}); err != nil {
		t.Fatalf("update: %v", err)
	}

	all, err := s.FetchAll()
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("rows: got %d, want 1", len(all))
	}
	got := all[0]
	if got.Title != "Repriced" || got.Price == nil || *got.Price != 9999 {
		t.Errorf("non-key columns not overwritten: %+v", got)
	}
	if got.Km != nil {
		t.Errorf("null should overwrite km, got %v", *got.Km)
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.EnsureSchema(); err != nil {
			t.Fatalf("ensure schema run %d: %v", i+1, err)
		}
	}

	tables, err := s.Tables()
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "data_moto" {
		t.Errorf("tables: got %v, want [data_moto]", tables)
	}
}

func TestTableSchemaRejectsInvalidIdentifier(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.TableSchema("data_moto; DROP TABLE data_moto"); err == nil {
		t.Error("expected error for invalid identifier")
	}
}
