package index

import (
	"strconv"
	"strings"
)

// dialect captures the few places where the SQLite and PostgreSQL renditions
// of the schema and queries differ. Queries are written with '?' placeholders
// and rebound for PostgreSQL.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) rebind(query string) string {
	if d == dialectSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func (d dialect) autoincrementPK() string {
	if d == dialectSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// wildcardClause renders a case-sensitive match where '*' and '?' are the
// only wildcards. Normalized identifier values contain neither '%' nor '_'
// (both are folded to spaces), so the LIKE translation needs no escaping.
func (d dialect) wildcardClause(column string, pattern string) (string, string) {
	if d == dialectSQLite {
		return column + " GLOB ?", pattern
	}
	translated := strings.NewReplacer("*", "%", "?", "_").Replace(pattern)
	return column + " LIKE ?", translated
}
