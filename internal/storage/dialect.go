package storage

import (
	"strconv"
	"strings"
)

// Rebind rewrites "?" placeholders into "$n" for postgres. Question marks
// inside single-quoted literals are left untouched.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// InsertIfAbsent builds an insert that silently skips rows violating the
// unique key named by conflict.
func (d Dialect) InsertIfAbsent(table string, cols, conflict []string) string {
	values := placeholders(len(cols))
	colList := strings.Join(cols, ", ")
	if d == MySQL {
		return "INSERT IGNORE INTO " + table + " (" + colList + ") VALUES (" + values + ")"
	}
	return "INSERT INTO " + table + " (" + colList + ") VALUES (" + values + ") ON CONFLICT (" +
		strings.Join(conflict, ", ") + ") DO NOTHING"
}

// Upsert builds an insert that updates the listed columns when the unique
// key named by conflict already exists.
func (d Dialect) Upsert(table string, cols, conflict, update []string) string {
	values := placeholders(len(cols))
	colList := strings.Join(cols, ", ")
	sets := make([]string, 0, len(update))
	for _, col := range update {
		if d == MySQL {
			sets = append(sets, col+" = VALUES("+col+")")
		} else {
			sets = append(sets, col+" = excluded."+col)
		}
	}
	base := "INSERT INTO " + table + " (" + colList + ") VALUES (" + values + ")"
	if d == MySQL {
		return base + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return base + " ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}
