package data

import (
	"database/sql"
	"dbviewer/internal/core"
	"time"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Create(e *core.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	res, err := r.db.Exec(`INSERT INTO audit_logs (timestamp, session_id, table_name, operation, row_id, duration_ms, status, error_message) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.SessionID, e.Table, e.Operation, e.RowID, e.DurationMs, e.Status, e.ErrorMessage)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	return nil
}

// GetRecent returns the newest entries of one session, newest first.
func (r *AuditRepo) GetRecent(sessionID string, limit int) ([]core.AuditEntry, error) {
	rows, err := r.db.Query(`SELECT id, timestamp, session_id, table_name, operation, COALESCE(row_id, ''), COALESCE(duration_ms, 0), COALESCE(status, ''), COALESCE(error_message, '')
		FROM audit_logs WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []core.AuditEntry{}
	for rows.Next() {
		var e core.AuditEntry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.Table, &e.Operation, &e.RowID, &e.DurationMs, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
