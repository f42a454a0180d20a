package service

import (
	"database/sql"
	"dbviewer/internal/core"
	"fmt"
	"strings"
)

// params collects positional arguments and hands out their $n placeholders.
type params struct {
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}

// identity describes how rows of one table are addressed.
type identity struct {
	columns   []string
	surrogate bool
}

func identityOf(schema *core.TableSchema) identity {
	cols, surrogate := schema.IdentityColumns()
	return identity{columns: cols, surrogate: surrogate}
}

// selectList is the projection of every query returning rows. Tables
// addressed by ctid expose it under the surrogate key name.
func (id identity) selectList() string {
	if id.surrogate {
		return "*, ctid::text AS " + quoteIdent(core.SurrogateKey)
	}
	return "*"
}

func (id identity) orderBy() string {
	if id.surrogate {
		return "ctid"
	}
	return quoteIdents(id.columns)
}

// where renders the predicate matching rowID, coercing each key part to its
// column type.
func (id identity) where(schema *core.TableSchema, rowID string, p *params) (string, error) {
	if id.surrogate {
		return "ctid = " + p.add(rowID) + "::tid", nil
	}
	parts, err := core.SplitRowID(rowID, len(id.columns))
	if err != nil {
		return "", err
	}
	conds := make([]string, len(id.columns))
	for i, name := range id.columns {
		col, ok := schema.Column(name)
		if !ok {
			return "", core.Errorf(core.CodeUnknown, "identity column %q missing from schema", name)
		}
		// Key parts arrive as text; a NOT NULL view of the column keeps nil out.
		col.IsNullable = false
		v, err := core.Coerce(col, parts[i])
		if err != nil {
			return "", core.ValidationError("invalid row id", core.AsError(err).Fields)
		}
		conds[i] = quoteIdent(name) + " = " + p.add(v)
	}
	return strings.Join(conds, " AND "), nil
}

// scanRows decodes every remaining row of rows against schema.
func scanRows(rows *sql.Rows, schema *core.TableSchema) ([]core.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []core.Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(core.Row, len(columns))
		for i, name := range columns {
			dt := core.TypeText
			if col, ok := schema.Column(name); ok {
				dt = col.DataType
			}
			cell, err := core.DecodeCell(dt, values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
			row[name] = cell
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
