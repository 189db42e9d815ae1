package verify

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"sqlweave/internal/schema"
)

// SampleDB is an in-memory sqlite database seeded from the target schema
// and optional sample rows. The execution stage runs probe statements
// against it.
type SampleDB struct {
	db *sql.DB
}

// OpenSampleDB creates the in-memory database. A single connection is
// mandatory: sqlite in-memory databases are per-connection, so a second
// connection would see an empty database.
func OpenSampleDB() (*SampleDB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sample db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sample db pragma: %w", err)
	}
	return &SampleDB{db: db}, nil
}

func (s *SampleDB) Close() error { return s.db.Close() }

// Setup creates one table per schema entry and seeds any sample rows.
// Columns with no declared type default to TEXT, which is harmless under
// sqlite's affinity rules.
func (s *SampleDB) Setup(ctx context.Context, sc *schema.Schema, rows schema.SampleRows) error {
	for _, name := range sc.Tables() {
		table, ok := sc.Table(name)
		if !ok {
			continue
		}
		defs := make([]string, 0, len(table.Columns))
		for _, c := range table.Columns {
			typ := c.Type
			if typ == "" {
				typ = "TEXT"
			}
			defs = append(defs, fmt.Sprintf("%q %s", c.Name, typ))
		}
		stmt := fmt.Sprintf("CREATE TABLE %q (%s)", table.Name, strings.Join(defs, ", "))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create sample table %s: %w", table.Name, err)
		}
	}
	for table, trs := range rows {
		if !sc.HasTable(table) {
			continue
		}
		for _, row := range trs {
			if err := s.insertRow(ctx, table, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SampleDB) insertRow(ctx context.Context, table string, row map[string]any) error {
	if len(row) == 0 {
		return nil
	}
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	// Deterministic order keeps the generated statements stable in logs.
	sort.Strings(cols)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
		marks[i] = "?"
		args[i] = row[c]
	}
	stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("seed %s: %w", table, err)
	}
	return nil
}

// Query runs a statement and returns the row count, capped at limit when
// limit is positive.
func (s *SampleDB) Query(ctx context.Context, stmt string, limit int) (int, error) {
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
		if limit > 0 && count > limit {
			break
		}
	}
	return count, rows.Err()
}
