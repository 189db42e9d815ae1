package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColumnListShape(t *testing.T) {
	data := []byte(`
employees: [id, name, salary]
departments: [id, name]
`)
	s, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"departments", "employees"}, s.Tables())
	assert.Equal(t, []string{"id", "name", "salary"}, s.Columns("employees"))
	assert.True(t, s.HasTable("Employees"), "lookup is case-insensitive")
}

func TestParseRichColumnShape(t *testing.T) {
	data := []byte(`
employees:
  - {name: id, type: INTEGER, nullable: false}
  - {name: name, type: TEXT, nullable: true}
  - {name: salary, type: INTEGER, nullable: true}
`)
	s, err := Parse(data)
	require.NoError(t, err)
	col, ok := s.Column([]string{"employees"}, "salary")
	require.True(t, ok)
	assert.Equal(t, "INTEGER", col.Type)
	assert.True(t, col.LikelyNumeric())

	id, ok := s.Column(nil, "ID")
	require.True(t, ok)
	assert.False(t, id.Nullable)
}

func TestParseColumnMappingShape(t *testing.T) {
	data := []byte(`
tables:
  employees:
    id: {type: INTEGER}
    name: {type: VARCHAR}
`)
	s, err := Parse(data)
	require.NoError(t, err)
	require.True(t, s.HasTable("employees"))
	assert.ElementsMatch(t, []string{"id", "name"}, s.Columns("employees"))
}

func TestColumnsOfUnionsTables(t *testing.T) {
	s := FromColumnLists(map[string][]string{
		"employees":   {"id", "name", "salary"},
		"departments": {"id", "budget"},
	})
	cols := s.ColumnsOf([]string{"employees", "departments"})
	assert.Len(t, cols, 4) // id collapses across tables
	assert.Contains(t, cols, "salary")
	assert.Contains(t, cols, "budget")

	all := s.ColumnsOf(nil)
	assert.Equal(t, cols, all)
}

func TestLikelyNumeric(t *testing.T) {
	cases := map[string]bool{
		"INTEGER":       true,
		"int":           true,
		"BIGINT":        true,
		"REAL":          true,
		"DECIMAL(10,2)": true,
		"TEXT":          false,
		"VARCHAR(64)":   false,
		"":              false,
	}
	for typ, want := range cases {
		assert.Equal(t, want, Column{Type: typ}.LikelyNumeric(), typ)
	}
}

func TestPromptText(t *testing.T) {
	s := New(Table{Name: "employees", Columns: []Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "name"},
	}})
	assert.Equal(t, "employees(id INTEGER, name)\n", s.PromptText())
}
