package destination

import (
	"fmt"
	"regexp"
	"strings"
)

// Statement is the restricted query shape the gateway accepts:
//
//	SELECT <cols|*> FROM <table> [WHERE <col> = $1 [AND <col> = $2 ...]] [ORDER BY <col> [DESC]]
//	DELETE FROM <table> WHERE <col> = $1 [AND ...]
type Statement struct {
	Verb      string
	Columns   []string
	Table     string
	Where     []string
	OrderBy   string
	OrderDesc bool
}

var (
	selectRe = regexp.MustCompile(`(?i)^select\s+(.+?)\s+from\s+([a-z_]+)(?:\s+where\s+(.+?))?(?:\s+order\s+by\s+([a-z_]+)(\s+desc|\s+asc)?)?$`)
	deleteRe = regexp.MustCompile(`(?i)^delete\s+from\s+([a-z_]+)\s+where\s+(.+)$`)
	condRe   = regexp.MustCompile(`(?i)^([a-z_]+)\s*=\s*\$(\d+)$`)
	identRe  = regexp.MustCompile(`^[a-z_]+$`)
)

// ParseStatement validates q against the restricted grammar and the known
// table set.
func ParseStatement(q string) (Statement, error) {
	q = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(q), ";"))
	q = strings.Join(strings.Fields(q), " ")
	var st Statement
	var where string
	if m := selectRe.FindStringSubmatch(q); m != nil {
		st.Verb = "SELECT"
		st.Table = strings.ToLower(m[2])
		where = m[3]
		if cols := strings.TrimSpace(m[1]); cols != "*" {
			for _, c := range strings.Split(cols, ",") {
				c = strings.ToLower(strings.TrimSpace(c))
				if !identRe.MatchString(c) {
					return Statement{}, fmt.Errorf("invalid column %q", c)
				}
				st.Columns = append(st.Columns, c)
			}
		}
		st.OrderBy = strings.ToLower(m[4])
		st.OrderDesc = strings.EqualFold(strings.TrimSpace(m[5]), "desc")
	} else if m := deleteRe.FindStringSubmatch(q); m != nil {
		st.Verb = "DELETE"
		st.Table = strings.ToLower(m[1])
		where = m[2]
	} else {
		return Statement{}, fmt.Errorf("unsupported statement %q", q)
	}
	if !KnownTable(st.Table) {
		return Statement{}, fmt.Errorf("unknown table %q", st.Table)
	}
	if where != "" {
		for i, part := range regexp.MustCompile(`(?i)\s+and\s+`).Split(where, -1) {
			cm := condRe.FindStringSubmatch(strings.TrimSpace(part))
			if cm == nil {
				return Statement{}, fmt.Errorf("unsupported condition %q", part)
			}
			if cm[2] != fmt.Sprint(i+1) {
				return Statement{}, fmt.Errorf("placeholders must be sequential, got $%s", cm[2])
			}
			st.Where = append(st.Where, strings.ToLower(cm[1]))
		}
	}
	if st.Verb == "DELETE" && len(st.Where) == 0 {
		return Statement{}, fmt.Errorf("delete requires a where clause")
	}
	return st, nil
}

// String renders the statement in the canonical form ParseStatement accepts.
func (st Statement) String() string {
	var b strings.Builder
	if st.Verb == "DELETE" {
		b.WriteString("DELETE FROM " + st.Table)
	} else {
		cols := "*"
		if len(st.Columns) > 0 {
			cols = strings.Join(st.Columns, ", ")
		}
		b.WriteString("SELECT " + cols + " FROM " + st.Table)
	}
	for i, c := range st.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", c, i+1)
	}
	if st.OrderBy != "" {
		b.WriteString(" ORDER BY " + st.OrderBy)
		if st.OrderDesc {
			b.WriteString(" DESC")
		}
	}
	return b.String()
}
