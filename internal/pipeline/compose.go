package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sqlweave/internal/generate"
	"sqlweave/internal/plan"
	"sqlweave/internal/sqlfrag"
)

// ErrCannotCompose means the verified fragments do not fit the clause-slot
// shape, usually because no fragment names a source table.
var ErrCannotCompose = errors.New("fragments do not compose deterministically")

// SlotComposer assembles verified fragments into the final statement by
// clause slot. When the fragments do not fit the slot shape it defers to
// the fallback composer, if one is configured.
type SlotComposer struct {
	Fallback generate.Composer
	Log      *zap.Logger
}

func (c SlotComposer) Compose(ctx context.Context, question string, fragments map[plan.OpKind][]string) (string, error) {
	stmt, err := composeSlots(fragments)
	if err == nil {
		return stmt, nil
	}
	if c.Fallback == nil {
		return "", err
	}
	if c.Log != nil {
		c.Log.Warn("slot composition failed, deferring to model composer", zap.Error(err))
	}
	return c.Fallback.Compose(ctx, question, fragments)
}

var selectFromRe = regexp.MustCompile(`(?is)^SELECT\s+(.+?)\s+FROM\s+(\S+)\s*(.*)$`)

// composeSlots merges fragments clause by clause: select lists from
// projection and aggregate nodes, then joins, conjoined filters, grouping,
// having, ordering, limit and unions, in canonical clause order.
func composeSlots(fragments map[plan.OpKind][]string) (string, error) {
	var (
		selects    []string
		table      string
		joins      []string
		conditions []string
		groups     []string
		havings    []string
		orders     []string
		limit      string
		unions     []string
	)

	takeSelect := func(frag string) error {
		m := selectFromRe.FindStringSubmatch(strings.TrimSpace(frag))
		if m == nil {
			return fmt.Errorf("%w: %q is not SELECT-shaped", ErrCannotCompose, frag)
		}
		for _, item := range strings.Split(m[1], ",") {
			item = strings.TrimSpace(item)
			if item != "" && item != "*" && !containsFold(selects, item) {
				selects = append(selects, item)
			}
		}
		if table == "" {
			table = m[2]
		} else if !strings.EqualFold(table, m[2]) {
			return fmt.Errorf("%w: fragments disagree on the source table (%s vs %s)", ErrCannotCompose, table, m[2])
		}
		// Anything trailing the FROM clause (embedded WHERE, GROUP BY) is a
		// shape the slots cannot merge safely.
		if strings.TrimSpace(m[3]) != "" {
			return fmt.Errorf("%w: %q carries clauses beyond SELECT-FROM", ErrCannotCompose, frag)
		}
		return nil
	}

	for _, frag := range fragments[plan.OpProjection] {
		if err := takeSelect(frag); err != nil {
			return "", err
		}
	}
	for _, frag := range fragments[plan.OpAggregate] {
		if err := takeSelect(frag); err != nil {
			return "", err
		}
	}
	for _, frag := range fragments[plan.OpJoin] {
		joins = append(joins, strings.TrimSpace(frag))
	}
	for _, frag := range fragments[plan.OpFilter] {
		conditions = append(conditions, stripKeyword(frag, "WHERE"))
	}
	for _, frag := range fragments[plan.OpSubquery] {
		conditions = append(conditions, stripKeyword(frag, "WHERE"))
	}
	for _, frag := range fragments[plan.OpGroup] {
		groups = append(groups, stripKeyword(frag, "GROUP BY"))
	}
	for _, frag := range fragments[plan.OpPostAggregateFilter] {
		havings = append(havings, stripKeyword(frag, "HAVING"))
	}
	for _, frag := range fragments[plan.OpSort] {
		orders = append(orders, stripKeyword(frag, "ORDER BY"))
	}
	for _, frag := range fragments[plan.OpLimit] {
		val := stripKeyword(frag, "LIMIT")
		if limit == "" {
			limit = val
			continue
		}
		// Several verified limits: the tightest one wins. Non-numeric
		// limits cannot be compared, so the shape is rejected instead of
		// discarding a verified fragment.
		prev, errPrev := strconv.Atoi(limit)
		next, errNext := strconv.Atoi(val)
		if errPrev != nil || errNext != nil {
			return "", fmt.Errorf("%w: conflicting row limits (%s vs %s)", ErrCannotCompose, limit, val)
		}
		if next < prev {
			limit = val
		}
	}
	for _, frag := range fragments[plan.OpUnion] {
		unions = append(unions, strings.TrimSpace(frag))
	}

	if table == "" {
		// No SELECT-shaped fragment named the source; fall back to the
		// tables the other fragments reference.
		table = inferTable(fragments)
	}
	if table == "" {
		return "", fmt.Errorf("%w: no fragment names a source table", ErrCannotCompose)
	}
	if len(selects) == 0 {
		selects = []string{"*"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selects, ", "), table)
	for _, j := range joins {
		b.WriteString(" " + j)
	}
	if len(conditions) > 0 {
		b.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	if len(groups) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	}
	if len(havings) > 0 {
		b.WriteString(" HAVING " + strings.Join(havings, " AND "))
	}
	if len(orders) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	if limit != "" {
		b.WriteString(" LIMIT " + limit)
	}
	for _, u := range unions {
		b.WriteString(" UNION " + u)
	}
	return b.String(), nil
}

// inferTable returns the single table every fragment agrees on, or ""
// when the fragments reference none or several.
func inferTable(fragments map[plan.OpKind][]string) string {
	seen := map[string]string{}
	for _, frags := range fragments {
		for _, frag := range frags {
			for _, t := range sqlfrag.Extract(frag).Tables {
				seen[strings.ToLower(t)] = t
			}
		}
	}
	if len(seen) != 1 {
		return ""
	}
	for _, t := range seen {
		return t
	}
	return ""
}

// stripKeyword removes a leading clause keyword, case-insensitively, so
// both "WHERE x > 1" and a bare "x > 1" fragment land in the same slot.
func stripKeyword(frag, keyword string) string {
	frag = strings.TrimSpace(frag)
	upper := strings.ToUpper(frag)
	kw := strings.ToUpper(keyword)
	if strings.HasPrefix(upper, kw) {
		rest := frag[len(kw):]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return strings.TrimSpace(rest)
		}
	}
	return frag
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
