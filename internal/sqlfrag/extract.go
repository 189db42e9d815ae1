package sqlfrag

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Refs are the table and column names a fragment mentions, lowercased and
// deduplicated. Extraction is best-effort: the heuristic path can both over-
// and under-report, which is why unknown-reference diagnostics downstream
// carry suggestions instead of being fatal on their own.
type Refs struct {
	Tables  []string
	Columns []string
}

// Extract pulls table/column references out of a fragment. Fragments that
// parse as standalone SQL go through the real grammar; clause fragments
// ("WHERE salary > 50000") fall back to the lexical heuristics.
func Extract(fragment string) Refs {
	if refs, ok := parseRefs(fragment); ok {
		return refs
	}
	return HeuristicExtract(fragment)
}

// parseRefs walks a pg_query parse tree for RangeVar and ColumnRef nodes.
func parseRefs(fragment string) (Refs, bool) {
	jsonTree, err := pg_query.ParseToJSON(fragment)
	if err != nil {
		return Refs{}, false
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(jsonTree), &tree); err != nil {
		return Refs{}, false
	}
	tables := map[string]bool{}
	columns := map[string]bool{}
	aliases := map[string]bool{}
	walkTree(tree, tables, columns, aliases)
	// Qualified column references may use table aliases; those qualifiers
	// were collected as alias names, not tables.
	refs := Refs{Tables: sortedSet(tables), Columns: sortedSet(columns)}
	return refs, true
}

func walkTree(node any, tables, columns, aliases map[string]bool) {
	switch v := node.(type) {
	case map[string]any:
		if rv, ok := v["RangeVar"].(map[string]any); ok {
			if rel, ok := rv["relname"].(string); ok && rel != "" {
				tables[strings.ToLower(rel)] = true
			}
			if al, ok := rv["alias"].(map[string]any); ok {
				if an, ok := al["aliasname"].(string); ok {
					aliases[strings.ToLower(an)] = true
				}
			}
		}
		if cr, ok := v["ColumnRef"].(map[string]any); ok {
			if name := columnRefName(cr); name != "" {
				columns[strings.ToLower(name)] = true
			}
			return
		}
		for _, child := range v {
			walkTree(child, tables, columns, aliases)
		}
	case []any:
		for _, child := range v {
			walkTree(child, tables, columns, aliases)
		}
	}
}

// columnRefName returns the terminal name of a ColumnRef ("t.salary" ->
// "salary"); a bare star yields "".
func columnRefName(cr map[string]any) string {
	fields, ok := cr["fields"].([]any)
	if !ok || len(fields) == 0 {
		return ""
	}
	last, ok := fields[len(fields)-1].(map[string]any)
	if !ok {
		return "" // A_Star or similar
	}
	str, ok := last["String"].(map[string]any)
	if !ok {
		return ""
	}
	if sval, ok := str["sval"].(string); ok {
		return sval
	}
	if sval, ok := str["str"].(string); ok { // older tree encodings
		return sval
	}
	return ""
}

var (
	fromClauseRe = regexp.MustCompile(`(?is)\bFROM\s+([\w\s,\.]+?)(?:\s+WHERE\b|\s+JOIN\b|\s+GROUP\b|\s+ORDER\b|\s+LIMIT\b|\s+HAVING\b|$)`)
	joinTableRe  = regexp.MustCompile(`(?i)\bJOIN\s+([\w\.]+)`)
	selectListRe = regexp.MustCompile(`(?is)\bSELECT\s+(.*?)\s+FROM\b`)
	predicateRe  = regexp.MustCompile(`([\w\.]+)\s*(?:[=<>!]|\bLIKE\b|\bBETWEEN\b|\bIN\b)`)
	firstWordRe  = regexp.MustCompile(`[\w\.]+`)
)

// HeuristicExtract is the regex-based reference scan used for clause
// fragments the grammar cannot parse. Behavior mirrors the reference
// implementation: FROM/JOIN sources become tables; SELECT-list entries and
// predicate left-hand sides become columns, with qualifiers stripped.
func HeuristicExtract(fragment string) Refs {
	tables := map[string]bool{}
	columns := map[string]bool{}
	masked := maskStrings(fragment)

	if m := fromClauseRe.FindStringSubmatch(masked); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			// Strip alias ("employees AS e" / "employees e").
			name := firstWordRe.FindString(part)
			if name != "" {
				tables[strings.ToLower(name)] = true
			}
		}
	}
	for _, m := range joinTableRe.FindAllStringSubmatch(masked, -1) {
		tables[strings.ToLower(m[1])] = true
	}

	if m := selectListRe.FindStringSubmatch(masked); m != nil && !strings.Contains(m[1], "*") {
		for _, part := range strings.Split(m[1], ",") {
			col := firstWordRe.FindString(strings.TrimSpace(part))
			if col == "" {
				continue
			}
			if upper := strings.ToUpper(col); ReservedWords[upper] || startsWithDigit(col) {
				continue
			}
			columns[strings.ToLower(lastSegment(col))] = true
		}
	}

	predicateZone := masked
	if m := fromClauseRe.FindStringIndex(masked); m != nil {
		// Columns in the FROM clause itself are table names, not columns.
		predicateZone = masked[:m[0]] + strings.Repeat(" ", m[1]-m[0]) + masked[m[1]:]
	}
	for _, m := range predicateRe.FindAllStringSubmatch(predicateZone, -1) {
		col := m[1]
		if upper := strings.ToUpper(lastSegment(col)); ReservedWords[upper] || startsWithDigit(col) {
			continue
		}
		if _, isTable := tables[strings.ToLower(col)]; isTable {
			continue
		}
		columns[strings.ToLower(lastSegment(col))] = true
	}

	return Refs{Tables: sortedSet(tables), Columns: sortedSet(columns)}
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func lastSegment(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
