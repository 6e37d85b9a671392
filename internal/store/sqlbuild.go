package store

import "strings"

// assignments collects "col = ?" pairs for a partial UPDATE.
type assignments struct {
	cols []string
	args []any
}

func (a *assignments) set(col string, v any) {
	a.cols = append(a.cols, col+" = ?")
	a.args = append(a.args, v)
}

func (a *assignments) empty() bool { return len(a.cols) == 0 }

// update renders "UPDATE table SET ... WHERE key = ?" and its arguments.
func (a *assignments) update(table, key string, id any) (string, []any) {
	q := "UPDATE " + table + " SET " + strings.Join(a.cols, ", ") + " WHERE " + key + " = ?"
	return q, append(a.args, id)
}

// predicates collects AND-ed WHERE conditions.
type predicates struct {
	conds []string
	args  []any
}

func (p *predicates) add(cond string, v any) {
	p.conds = append(p.conds, cond)
	p.args = append(p.args, v)
}

// where renders " WHERE a AND b", or "" when there is nothing to filter.
func (p *predicates) where() string {
	if len(p.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(p.conds, " AND ")
}
