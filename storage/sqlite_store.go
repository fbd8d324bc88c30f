package storage

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"moto-scraper/models"
)

const tableName = "data_moto"

// identRe whitelists SQL identifiers before they are interpolated into
// introspection queries.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WriteError wraps any failure during the atomic write phase. By the time the
// caller sees it the transaction has already been rolled back.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return "sqlite: write phase: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store persists normalized listings to a local SQLite file.
type Store struct {
	db           *sql.DB
	hasUpdatedAt bool
}

// Open opens the SQLite file at path on a single exclusive connection and
// applies the session PRAGMAs. Unsupported PRAGMAs are ignored.
func Open(path string, busyTimeoutMs int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// One writer at a time; external contention is left to SQLite's own
	// locking and the busy timeout.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs),
	} {
		_, _ = db.Exec(pragma)
	}

	return &Store{db: db}, nil
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS data_moto (
		id          TEXT PRIMARY KEY,
		url         TEXT NOT NULL,
		title       TEXT NOT NULL,
		km          INTEGER,
		price       INTEGER,
		year        INTEGER,
		imgUrl      TEXT,
		provinceId  TEXT,
		hp          REAL,
		marca       TEXT,
		modelo      TEXT,
		UNIQUE (url)
	);
`

// EnsureSchema creates the listings table if absent and brings tables created
// by older versions up to date: grouping-label and timestamp columns are added
// additively, never dropped or renamed, and newly added timestamp columns are
// backfilled so no pre-existing row is left NULL.
func (s *Store) EnsureSchema() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}

	cols, err := s.columnSet(tableName)
	if err != nil {
		return err
	}

	for _, col := range []string{"marca", "modelo"} {
		if _, ok := cols[col]; !ok {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", tableName, col)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("sqlite: add column %s: %w", col, err)
			}
			cols[col] = struct{}{}
		}
	}

	var added []string
	for _, col := range []string{"created_at", "updated_at"} {
		if _, ok := cols[col]; !ok {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", tableName, col)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("sqlite: add column %s: %w", col, err)
			}
			added = append(added, col)
		}
	}
	for _, col := range added {
		stmt := fmt.Sprintf("UPDATE %s SET %s = COALESCE(%s, datetime('now'))",
			tableName, col, col)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: backfill %s: %w", col, err)
		}
	}
	if len(added) > 0 {
		if cols, err = s.columnSet(tableName); err != nil {
			return err
		}
	}
	_, s.hasUpdatedAt = cols["updated_at"]

	// Indexes are read-path optimizations; a storage engine that rejects one
	// (expression indexes on old SQLite builds, typically) is not an error.
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_data_moto_price ON data_moto(price)",
		"CREATE INDEX IF NOT EXISTS idx_data_moto_year  ON data_moto(year)",
		"CREATE INDEX IF NOT EXISTS idx_data_moto_km    ON data_moto(km)",
		"CREATE INDEX IF NOT EXISTS idx_data_moto_prov  ON data_moto(provinceId)",
		"CREATE INDEX IF NOT EXISTS idx_data_moto_title_ci ON data_moto(LOWER(title))",
	} {
		_, _ = s.db.Exec(idx)
	}

	return nil
}

// ExistingIDs reports which of the given ids are already stored. Lookups are
// chunked to stay under SQLite's bound-parameter ceiling.
func (s *Store) ExistingIDs(ids []string, chunkSize int) (map[string]struct{}, error) {
	if chunkSize <= 0 {
		chunkSize = 900
	}

	existing := make(map[string]struct{})
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.Query(
			"SELECT id FROM data_moto WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: existing ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite: scan id: %w", err)
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: existing ids: %w", err)
		}
		rows.Close()
	}

	return existing, nil
}

// UpsertBatch applies the whole batch in one transaction: insert each row, or
// on an id conflict overwrite every non-key column. updated_at is refreshed
// only when the column exists. Any failure rolls the whole batch back and
// surfaces as a WriteError; there is no partial application.
func (s *Store) UpsertBatch(listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	setParts := []string{
		"url = excluded.url",
		"title = excluded.title",
		"km = excluded.km",
		"price = excluded.price",
		"year = excluded.year",
		"imgUrl = excluded.imgUrl",
		"provinceId = excluded.provinceId",
		"hp = excluded.hp",
		"marca = excluded.marca",
		"modelo = excluded.modelo",
	}
	if s.hasUpdatedAt {
		setParts = append(setParts, "updated_at = datetime('now')")
	}

	query := fmt.Sprintf(`
		INSERT INTO data_moto (id, url, title, km, price, year, imgUrl, provinceId, hp, marca, modelo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET %s
	`, strings.Join(setParts, ", "))

	tx, err := s.db.Begin()
	if err != nil {
		return &WriteError{Err: err}
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		_ = tx.Rollback()
		return &WriteError{Err: err}
	}
	defer stmt.Close()

	for _, l := range listings {
		if _, err := stmt.Exec(
			l.ID, l.URL, l.Title, l.Km, l.Price, l.Year,
			l.ImgURL, l.ProvinceID, l.HP, l.Marca, l.Modelo,
		); err != nil {
			_ = tx.Rollback()
			return &WriteError{Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// FetchAll retrieves all stored listings — used by the insight service.
func (s *Store) FetchAll() ([]*models.Listing, error) {
	rows, err := s.db.Query(`
		SELECT id, url, title, km, price, year, imgUrl, provinceId, hp, marca, modelo
		FROM data_moto
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch all: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		var (
			km, price, year sql.NullInt64
			imgURL, provID  sql.NullString
			hp              sql.NullFloat64
			marca, modelo   sql.NullString
		)
		if err := rows.Scan(
			&l.ID, &l.URL, &l.Title, &km, &price, &year,
			&imgURL, &provID, &hp, &marca, &modelo,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan row: %w", err)
		}
		if km.Valid {
			l.Km = &km.Int64
		}
		if price.Valid {
			l.Price = &price.Int64
		}
		if year.Valid {
			l.Year = &year.Int64
		}
		if imgURL.Valid {
			l.ImgURL = &imgURL.String
		}
		if provID.Valid {
			l.ProvinceID = &provID.String
		}
		if hp.Valid {
			l.HP = &hp.Float64
		}
		l.Marca = marca.String
		l.Modelo = modelo.String
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ColumnInfo describes one column as reported by PRAGMA table_info.
type ColumnInfo struct {
	CID     int
	Name    string
	Type    string
	NotNull bool
	Default sql.NullString
	PK      bool
}

// Tables lists user tables in the database, excluding SQLite internals.
func (s *Store) Tables() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableSchema returns the column layout of the named table.
func (s *Store) TableSchema(table string) ([]ColumnInfo, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("sqlite: invalid table name %q", table)
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("sqlite: table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			c           ColumnInfo
			notnull, pk int
		)
		if err := rows.Scan(&c.CID, &c.Name, &c.Type, &notnull, &c.Default, &pk); err != nil {
			return nil, fmt.Errorf("sqlite: scan table_info: %w", err)
		}
		c.NotNull = notnull != 0
		c.PK = pk != 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *Store) columnSet(table string) (map[string]struct{}, error) {
	cols, err := s.TableSchema(table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c.Name] = struct{}{}
	}
	return set, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
