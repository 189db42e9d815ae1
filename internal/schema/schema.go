// Package schema models the database schema handed to the pipeline. Two
// input shapes are accepted: a plain table -> column-name list, and a richer
// table -> per-column type/nullability record. Both normalize to the same
// in-memory form.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column describes one column. Type is a free-form SQL type name ("INTEGER",
// "TEXT", ...); empty means unknown and defaults to TEXT when provisioning
// the sample database.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
}

// Table is an ordered set of columns.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// Schema is the full table catalog. Lookup is case-insensitive, matching
// the behavior of the verifiers and of SQLite itself.
type Schema struct {
	tables map[string]Table // keyed by lowercase name
}

// New builds a schema from tables.
func New(tables ...Table) *Schema {
	s := &Schema{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		s.tables[strings.ToLower(t.Name)] = t
	}
	return s
}

// FromColumnLists builds a schema from the simple shape:
// table name -> list of column names. Column types are left unknown.
func FromColumnLists(m map[string][]string) *Schema {
	s := &Schema{tables: make(map[string]Table, len(m))}
	for name, cols := range m {
		t := Table{Name: name}
		for _, c := range cols {
			t.Columns = append(t.Columns, Column{Name: c, Nullable: true})
		}
		s.tables[strings.ToLower(name)] = t
	}
	return s
}

// Tables returns table names sorted case-insensitively.
func (s *Schema) Tables() []string {
	out := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t.Name)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// Table looks a table up by name, case-insensitively.
func (s *Schema) Table(name string) (Table, bool) {
	t, ok := s.tables[strings.ToLower(name)]
	return t, ok
}

// HasTable reports whether the table exists.
func (s *Schema) HasTable(name string) bool {
	_, ok := s.tables[strings.ToLower(name)]
	return ok
}

// Columns returns the column names of one table, or nil if absent.
func (s *Schema) Columns(table string) []string {
	t, ok := s.Table(table)
	if !ok {
		return nil
	}
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnsOf returns the union of column names across the given tables
// (all tables when the list is empty), lowercased for matching.
func (s *Schema) ColumnsOf(tables []string) map[string]string {
	out := make(map[string]string)
	add := func(t Table) {
		for _, c := range t.Columns {
			out[strings.ToLower(c.Name)] = c.Name
		}
	}
	if len(tables) == 0 {
		for _, t := range s.tables {
			add(t)
		}
		return out
	}
	for _, name := range tables {
		if t, ok := s.Table(name); ok {
			add(t)
		}
	}
	return out
}

// Column finds a column by name within the given tables (any table when the
// list is empty), case-insensitively.
func (s *Schema) Column(tables []string, name string) (Column, bool) {
	lower := strings.ToLower(name)
	search := tables
	if len(search) == 0 {
		search = s.Tables()
	}
	for _, tn := range search {
		t, ok := s.Table(tn)
		if !ok {
			continue
		}
		for _, c := range t.Columns {
			if strings.ToLower(c.Name) == lower {
				return c, true
			}
		}
	}
	return Column{}, false
}

// LikelyNumeric reports whether a column's declared type looks numeric.
// Unknown types report false.
func (c Column) LikelyNumeric() bool {
	t := strings.ToUpper(c.Type)
	for _, kw := range []string{"INT", "REAL", "FLOAT", "DOUBLE", "NUMERIC", "DECIMAL"} {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// rawSchema is the on-disk shape: values are either a bare list of column
// names or a list of per-column records. An optional top-level "tables" key
// is unwrapped.
type rawSchema map[string]yaml.Node

// Parse decodes schema YAML (JSON is valid YAML) accepting both shapes.
func Parse(data []byte) (*Schema, error) {
	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if inner, ok := raw["tables"]; ok && len(raw) == 1 {
		var nested rawSchema
		if err := inner.Decode(&nested); err != nil {
			return nil, fmt.Errorf("parse schema tables: %w", err)
		}
		raw = nested
	}

	var tables []Table
	for name, node := range raw {
		t := Table{Name: name}

		// Shape 1: list of column name strings.
		var names []string
		if err := node.Decode(&names); err == nil {
			for _, c := range names {
				t.Columns = append(t.Columns, Column{Name: c, Nullable: true})
			}
			tables = append(tables, t)
			continue
		}

		// Shape 2: list of per-column records.
		var cols []Column
		if err := node.Decode(&cols); err == nil {
			t.Columns = cols
			tables = append(tables, t)
			continue
		}

		// Shape 2b: mapping column name -> {type, nullable}.
		var colMap map[string]Column
		if err := node.Decode(&colMap); err != nil {
			return nil, fmt.Errorf("table %s: unrecognized column shape", name)
		}
		colNames := make([]string, 0, len(colMap))
		for cn := range colMap {
			colNames = append(colNames, cn)
		}
		sort.Strings(colNames)
		for _, cn := range colNames {
			c := colMap[cn]
			c.Name = cn
			t.Columns = append(t.Columns, c)
		}
		tables = append(tables, t)
	}
	return New(tables...), nil
}

// Load reads and parses a schema file (YAML or JSON).
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return Parse(data)
}

// SampleRows is seed data for the execution verifier's sample database:
// table name -> rows, each row a column -> value map.
type SampleRows map[string][]map[string]any

// LoadSampleRows reads seed rows from a YAML or JSON file.
func LoadSampleRows(path string) (SampleRows, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample data %s: %w", path, err)
	}
	var rows SampleRows
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse sample data: %w", err)
	}
	return rows, nil
}

// MarshalJSON renders the normalized catalog, mostly for prompts and logs.
func (s *Schema) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(s.tables))
	for _, t := range s.tables {
		out[t.Name] = nil
		for _, c := range t.Columns {
			out[t.Name] = append(out[t.Name], c.Name)
		}
	}
	return json.Marshal(out)
}

// PromptText renders the schema in the compact form embedded in prompts.
func (s *Schema) PromptText() string {
	var b strings.Builder
	for _, name := range s.Tables() {
		t, _ := s.Table(name)
		b.WriteString(t.Name)
		b.WriteString("(")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			if c.Type != "" {
				b.WriteString(" ")
				b.WriteString(c.Type)
			}
		}
		b.WriteString(")\n")
	}
	return b.String()
}
