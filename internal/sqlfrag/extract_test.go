package sqlfrag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractParsedStatement(t *testing.T) {
	refs := Extract("SELECT name, salary FROM employees WHERE salary > 50000")
	assert.Equal(t, []string{"employees"}, refs.Tables)
	assert.ElementsMatch(t, []string{"name", "salary"}, refs.Columns)
}

func TestExtractJoinWithAliases(t *testing.T) {
	refs := Extract("SELECT e.name, d.name FROM employees e JOIN departments d ON e.dept_id = d.id")
	assert.ElementsMatch(t, []string{"employees", "departments"}, refs.Tables)
	assert.Subset(t, refs.Columns, []string{"name", "dept_id", "id"})
}

func TestExtractFallsBackOnClauseFragment(t *testing.T) {
	// A bare predicate is not a parseable statement; the heuristic path
	// must still find the column.
	refs := Extract("WHERE salary > 50000 AND hire_date > '2022-01-01'")
	assert.Empty(t, refs.Tables)
	assert.ElementsMatch(t, []string{"salary", "hire_date"}, refs.Columns)
}

func TestHeuristicExtractFromClause(t *testing.T) {
	refs := HeuristicExtract("FROM employees AS e, departments d WHERE e.salary > 100")
	assert.ElementsMatch(t, []string{"employees", "departments"}, refs.Tables)
	assert.Contains(t, refs.Columns, "salary")
}

func TestHeuristicExtractIgnoresStringLiterals(t *testing.T) {
	refs := HeuristicExtract("WHERE name = 'WHERE salary FROM x'")
	assert.Empty(t, refs.Tables)
	assert.Equal(t, []string{"name"}, refs.Columns)
}

func TestHeuristicExtractSelectStarSkipsColumns(t *testing.T) {
	refs := HeuristicExtract("SELECT * FROM employees")
	assert.Equal(t, []string{"employees"}, refs.Tables)
	assert.Empty(t, refs.Columns)
}

func TestClauseSequence(t *testing.T) {
	actual, expected := ClauseSequence("SELECT name FROM employees WHERE salary > 1 GROUP BY name")
	assert.Equal(t, expected, actual)

	actual, expected = ClauseSequence("FROM employees SELECT name")
	assert.NotEqual(t, expected, actual)
	assert.Equal(t, []string{"SELECT", "FROM"}, expected)
	assert.Equal(t, []string{"FROM", "SELECT"}, actual)
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("salary"))
	assert.True(t, ValidIdentifier("_hidden1"))
	assert.False(t, ValidIdentifier("1abc"))
	assert.False(t, ValidIdentifier("sal-ary"))
}

func TestTokensMasksStrings(t *testing.T) {
	toks := Tokens("WHERE name = 'SELECT FROM'")
	var words []string
	for _, tk := range toks {
		words = append(words, tk.Text)
	}
	assert.Equal(t, []string{"WHERE", "name"}, words)
}

func TestHasAggregate(t *testing.T) {
	assert.True(t, HasAggregate("SELECT COUNT(*) FROM t"))
	assert.True(t, HasAggregate("select sum(salary) from t"))
	assert.False(t, HasAggregate("SELECT name FROM t"))
}
