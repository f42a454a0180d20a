package core

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// HeaderName turns a column name into a display title: created_at -> Created At.
func HeaderName(column string) string {
	words := strings.FieldsFunc(column, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}

// ValidIdentifier reports whether name can be used as a quoted Postgres
// identifier: non-empty, at most 63 bytes, no NUL.
func ValidIdentifier(name string) bool {
	return name != "" && len(name) <= 63 && !strings.ContainsRune(name, 0)
}

// Column looks a column up by name.
func (s *TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// SurrogateKey is the name under which rows of a table without a primary
// key or an "id" column expose their physical location.
const SurrogateKey = "id"

// IdentityColumns returns the columns that identify a row. surrogate is true
// when the table has neither a primary key nor an "id" column.
func (s *TableSchema) IdentityColumns() (cols []string, surrogate bool) {
	if len(s.PrimaryKey) > 0 {
		return s.PrimaryKey, false
	}
	if _, ok := s.Column("id"); ok {
		return []string{"id"}, false
	}
	return []string{SurrogateKey}, true
}

// RowID renders the identity of row. Composite keys are joined with commas,
// each part query-escaped.
func (s *TableSchema) RowID(row Row) string {
	cols, _ := s.IdentityColumns()
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = formatKeyPart(row[c])
		if len(cols) > 1 {
			parts[i] = url.QueryEscape(parts[i])
		}
	}
	return strings.Join(parts, ",")
}

// SplitRowID is the inverse of RowID for a key of n columns.
func SplitRowID(id string, n int) ([]string, error) {
	if n <= 1 {
		return []string{id}, nil
	}
	parts := strings.Split(id, ",")
	if len(parts) != n {
		return nil, ValidationError("invalid row id", map[string]string{"rowId": "expected " + strconv.Itoa(n) + " comma-separated key parts"})
	}
	for i, p := range parts {
		v, err := url.QueryUnescape(p)
		if err != nil {
			return nil, ValidationError("invalid row id", map[string]string{"rowId": "bad escaping"})
		}
		parts[i] = v
	}
	return parts, nil
}

func formatKeyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
