package service

import (
	"context"
	"database/sql"
	"dbviewer/internal/core"
	"dbviewer/internal/logger"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	listTablesQuery = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	schemaQuery = `SELECT c.column_name, c.data_type, c.udt_name,
			c.is_nullable = 'YES' AS is_nullable,
			(c.column_default IS NOT NULL OR c.is_identity = 'YES' OR c.is_generated = 'ALWAYS') AS has_default,
			COALESCE(pk.ordinal, 0) AS pk_ordinal
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, kcu.ordinal_position AS ordinal
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
				AND tc.table_name = kcu.table_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = 'public'
				AND tc.table_name = $1
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = 'public' AND c.table_name = $1
		ORDER BY c.ordinal_position`
)

type TableOptions struct {
	QueryTimeout    time.Duration
	ListRowsRetries int
	Logger          logrus.FieldLogger
}

// TableService runs the generic CRUD protocol against whichever session it
// is handed.
type TableService struct {
	sessions *SessionManager
	audit    core.AuditRepository
	opts     TableOptions
	log      logrus.FieldLogger
}

// NewTableService wires the protocol. audit may be nil.
func NewTableService(sessions *SessionManager, audit core.AuditRepository, opts TableOptions) *TableService {
	if opts.ListRowsRetries < 0 {
		opts.ListRowsRetries = 0
	}
	return &TableService{
		sessions: sessions,
		audit:    audit,
		opts:     opts,
		log:      logger.Or(opts.Logger),
	}
}

// run executes fn with the session's pool under a context bound to both ctx
// and the session. Errors come back classified.
func (t *TableService) run(ctx context.Context, s *Session, fn func(ctx context.Context, db *sql.DB) error) error {
	if s == nil {
		return core.Errorf(core.CodeSessionInvalid, "not connected")
	}
	db, opCtx, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if t.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(opCtx, t.opts.QueryTimeout)
		defer cancel()
	}

	err = fn(opCtx, db)
	if err == nil {
		return nil
	}
	if s.closed() {
		return core.Wrap(core.CodeSessionInvalid, err, "session closed during operation")
	}
	return classifyQueryError(err)
}

// settle applies the side effects an error calls for once an operation has
// given up: losing the session, or surfacing a transient failure as Unknown
// after confirming the pool still answers.
func (t *TableService) settle(ctx context.Context, s *Session, err error) error {
	if err == nil {
		return nil
	}
	if core.InvalidatesSession(err) {
		t.sessions.Invalidate(s, err)
		if core.CodeOf(err) == core.CodeSessionInvalid {
			return err
		}
		return core.Wrap(core.CodeSessionInvalid, err, "session is no longer valid")
	}
	if !core.Retryable(err) {
		return err
	}

	if db, pctx, release, aerr := s.acquire(ctx); aerr == nil {
		pingErr := db.PingContext(pctx)
		release()
		if pingErr != nil {
			t.sessions.Invalidate(s, pingErr)
			return core.Wrap(core.CodeSessionInvalid, err, "lost connection to database")
		}
	}
	e := core.AsError(err)
	return &core.Error{Code: core.CodeUnknown, Message: e.Message, Err: e.Err}
}

func (t *TableService) ListTables(ctx context.Context, s *Session) ([]string, error) {
	tables := []string{}
	err := core.RetryRead(ctx, t.opts.ListRowsRetries, func(ctx context.Context) error {
		return t.run(ctx, s, func(ctx context.Context, db *sql.DB) error {
			rows, err := db.QueryContext(ctx, listTablesQuery)
			if err != nil {
				return err
			}
			defer rows.Close()

			tables = tables[:0]
			for rows.Next() {
				var name string
				if err := rows.Scan(&name); err != nil {
					return err
				}
				tables = append(tables, name)
			}
			return rows.Err()
		})
	})
	if err != nil {
		return nil, t.settle(ctx, s, err)
	}
	return tables, nil
}

// GetSchema returns the cached schema of table, loading it once per session.
func (t *TableService) GetSchema(ctx context.Context, s *Session, table string) (*core.TableSchema, error) {
	if s == nil {
		return nil, core.Errorf(core.CodeSessionInvalid, "not connected")
	}
	if !core.ValidIdentifier(table) {
		return nil, core.Errorf(core.CodeNotFound, "table %q not found", table)
	}
	if schema, ok := s.cachedSchema(table); ok {
		return schema, nil
	}

	v, err, _ := s.group.Do(table, func() (any, error) {
		var schema *core.TableSchema
		err := t.run(ctx, s, func(ctx context.Context, db *sql.DB) error {
			var err error
			schema, err = loadSchema(ctx, db, table)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.storeSchema(table, schema)
		return schema, nil
	})
	if err != nil {
		return nil, t.settle(ctx, s, err)
	}
	return v.(*core.TableSchema), nil
}

func loadSchema(ctx context.Context, db *sql.DB, table string) (*core.TableSchema, error) {
	rows, err := db.QueryContext(ctx, schemaQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type keyPart struct {
		ordinal int
		name    string
	}
	var keys []keyPart
	schema := &core.TableSchema{Table: table, Columns: []core.Column{}, PrimaryKey: []string{}}

	for rows.Next() {
		var name, dataType, udtName string
		var nullable, hasDefault bool
		var pkOrdinal int
		if err := rows.Scan(&name, &dataType, &udtName, &nullable, &hasDefault, &pkOrdinal); err != nil {
			return nil, err
		}

		dt := core.NormalizeDataType(dataType)
		if dt == core.TypeOther {
			dt = core.NormalizeDataType(udtName)
		}
		schema.Columns = append(schema.Columns, core.Column{
			Name:       name,
			HeaderName: core.HeaderName(name),
			DataType:   dt,
			WireType:   dt.Wire(),
			IsNullable: nullable,
			IsPrimary:  pkOrdinal > 0,
			HasDefault: hasDefault,
		})
		if pkOrdinal > 0 {
			keys = append(keys, keyPart{pkOrdinal, name})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schema.Columns) == 0 {
		return nil, core.Errorf(core.CodeNotFound, "table %q not found", table)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].ordinal < keys[j].ordinal })
	for _, k := range keys {
		schema.PrimaryKey = append(schema.PrimaryKey, k.name)
	}
	return schema, nil
}

// ListRows returns one page of table ordered by row identity. Pages past the
// end come back empty with the real total.
func (t *TableService) ListRows(ctx context.Context, s *Session, table string, page, pageSize int) (*core.Page, error) {
	if page < 0 || pageSize <= 0 {
		return nil, core.ValidationError("invalid pagination", paginationFields(page, pageSize))
	}
	schema, err := t.GetSchema(ctx, s, table)
	if err != nil {
		return nil, err
	}
	id := identityOf(schema)

	offset := int64(page) * int64(pageSize)
	overflow := page != 0 && offset/int64(page) != int64(pageSize)

	result := &core.Page{Rows: []core.Row{}, Page: page, PageSize: pageSize}
	err = core.RetryRead(ctx, t.opts.ListRowsRetries, func(ctx context.Context) error {
		return t.run(ctx, s, func(ctx context.Context, db *sql.DB) error {
			var total int64
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&total); err != nil {
				return err
			}
			result.TotalCount = total
			result.Rows = []core.Row{}
			if overflow || offset >= total {
				return nil
			}

			query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT $1 OFFSET $2", id.selectList(), quoteIdent(table), id.orderBy())
			rows, err := db.QueryContext(ctx, query, pageSize, offset)
			if err != nil {
				return err
			}
			defer rows.Close()

			result.Rows, err = scanRows(rows, schema)
			return err
		})
	})
	if err != nil {
		return nil, t.settle(ctx, s, err)
	}
	return result, nil
}

func paginationFields(page, pageSize int) map[string]string {
	fields := map[string]string{}
	if page < 0 {
		fields["page"] = "must be zero or greater"
	}
	if pageSize <= 0 {
		fields["pageSize"] = "must be positive"
	}
	return fields
}

// GetRow reads a single row by identity.
func (t *TableService) GetRow(ctx context.Context, s *Session, table, rowID string) (core.Row, error) {
	schema, err := t.GetSchema(ctx, s, table)
	if err != nil {
		return nil, err
	}
	id := identityOf(schema)

	var row core.Row
	err = t.run(ctx, s, func(ctx context.Context, db *sql.DB) error {
		p := &params{}
		where, err := id.where(schema, rowID, p)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", id.selectList(), quoteIdent(table), where)
		row, err = queryOne(ctx, db, schema, query, p.args)
		return err
	})
	if err != nil {
		return nil, t.settle(ctx, s, err)
	}
	return row, nil
}

// CreateRow inserts data and returns the stored row, defaults included.
func (t *TableService) CreateRow(ctx context.Context, s *Session, table string, data map[string]any) (row core.Row, err error) {
	schema, err := t.GetSchema(ctx, s, table)
	if err != nil {
		return nil, err
	}
	id := identityOf(schema)

	defer t.record(s, "create", table, func() string { return schema.RowID(row) }, time.Now(), &err)

	names, values, err := coerceData(schema, id, data, true)
	if err != nil {
		return nil, err
	}

	err = t.run(ctx, s, func(ctx context.Context, db *sql.DB) error {
		p := &params{}
		var query string
		if len(names) == 0 {
			query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quoteIdent(table), id.selectList())
		} else {
			placeholders := make([]string, len(values))
			for i, v := range values {
				placeholders[i] = p.add(v)
			}
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
				quoteIdent(table), quoteIdents(names), strings.Join(placeholders, ", "), id.selectList())
		}
		var err error
		row, err = queryOne(ctx, db, schema, query, p.args)
		return err
	})
	if err != nil {
		return nil, t.settle(ctx, s, err)
	}
	return row, nil
}

// UpdateRow changes only the columns present in data.
func (t *TableService) UpdateRow(ctx context.Context, s *Session, table, rowID string, data map[string]any) (core.Row, error) {
	return t.update(ctx, s, "update", table, rowID, data)
}

// UpdateCell changes a single column of one row.
func (t *TableService) UpdateCell(ctx context.Context, s *Session, table, rowID, column string, value any) (core.Row, error) {
	return t.update(ctx, s, "update_cell", table, rowID, map[string]any{column: value})
}

func (t *TableService) update(ctx context.Context, s *Session, op, table, rowID string, data map[string]any) (row core.Row, err error) {
	schema, err := t.GetSchema(ctx, s, table)
	if err != nil {
		return nil, err
	}
	id := identityOf(schema)

	defer t.record(s, op, table, func() string { return rowID }, time.Now(), &err)

	names, values, err := coerceData(schema, id, data, false)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, core.ValidationError("nothing to update", nil)
	}

	err = t.run(ctx, s, func(ctx context.Context, db *sql.DB) error {
		p := &params{}
		sets := make([]string, len(names))
		for i, name := range names {
			sets[i] = quoteIdent(name) + " = " + p.add(values[i])
		}
		where, err := id.where(schema, rowID, p)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
			quoteIdent(table), strings.Join(sets, ", "), where, id.selectList())
		row, err = queryOne(ctx, db, schema, query, p.args)
		return err
	})
	if err != nil {
		return nil, t.settle(ctx, s, err)
	}
	return row, nil
}

// DeleteRow removes one row permanently.
func (t *TableService) DeleteRow(ctx context.Context, s *Session, table, rowID string) (err error) {
	schema, err := t.GetSchema(ctx, s, table)
	if err != nil {
		return err
	}
	id := identityOf(schema)

	defer t.record(s, "delete", table, func() string { return rowID }, time.Now(), &err)

	err = t.run(ctx, s, func(ctx context.Context, db *sql.DB) error {
		p := &params{}
		where, err := id.where(schema, rowID, p)
		if err != nil {
			return err
		}
		res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(table), where), p.args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.Errorf(core.CodeNotFound, "row %s not found in %s", rowID, table)
		}
		return nil
	})
	return t.settle(ctx, s, err)
}

// queryOne runs a statement expected to return a single row.
func queryOne(ctx context.Context, db *sql.DB, schema *core.TableSchema, query string, args []any) (core.Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result, err := scanRows(rows, schema)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, core.Errorf(core.CodeNotFound, "row not found in %s", schema.Table)
	}
	return result[0], nil
}

// coerceData validates data against schema, returning column names in a
// stable order with their driver values. With insert set, every non-nullable
// column lacking a default must be present.
func coerceData(schema *core.TableSchema, id identity, data map[string]any, insert bool) ([]string, []any, error) {
	fields := map[string]string{}

	keys := make([]string, 0, len(data))
	for k := range data {
		if id.surrogate && k == core.SurrogateKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := make([]string, 0, len(keys))
	values := make([]any, 0, len(keys))
	for _, k := range keys {
		col, ok := schema.Column(k)
		if !ok {
			fields[k] = "unknown column"
			continue
		}
		v, err := core.Coerce(col, data[k])
		if err != nil {
			for f, msg := range core.AsError(err).Fields {
				fields[f] = msg
			}
			continue
		}
		names = append(names, k)
		values = append(values, v)
	}

	if insert {
		for _, col := range schema.Columns {
			if _, ok := data[col.Name]; !ok && !col.IsNullable && !col.HasDefault {
				fields[col.Name] = "is required"
			}
		}
	}

	if len(fields) > 0 {
		return nil, nil, core.ValidationError("invalid row data", fields)
	}
	return names, values, nil
}

// record writes one audit entry per mutation once it has finished.
func (t *TableService) record(s *Session, op, table string, rowID func() string, start time.Time, errp *error) {
	if t.audit == nil || s == nil {
		return
	}
	entry := &core.AuditEntry{
		Timestamp:  start.UTC(),
		SessionID:  s.ID(),
		Table:      table,
		Operation:  op,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     "success",
	}
	if *errp != nil {
		entry.Status = "error"
		entry.ErrorMessage = (*errp).Error()
	} else {
		entry.RowID = rowID()
	}
	if err := t.audit.Create(entry); err != nil {
		t.log.WithError(err).Error("failed to write audit entry")
	}
}
