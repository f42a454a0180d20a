package core

import (
	"time"
)

// ConnectionKind selects how a ConnectionConfig is turned into a DSN.
type ConnectionKind string

const (
	ConnDirectURL ConnectionKind = "direct-url"
	ConnHostBased ConnectionKind = "host-based"
)

// ConnectionConfig is everything needed to open a pool. For direct-url configs
// only URL is used; host-based configs carry the credentials separately.
type ConnectionConfig struct {
	Kind     ConnectionKind `json:"kind" validate:"required,oneof=direct-url host-based"`
	URL      string         `json:"url" validate:"required"`
	Username string         `json:"username,omitempty" validate:"required_if=Kind host-based"`
	Password string         `json:"password,omitempty" validate:"required_if=Kind host-based"`
	Database string         `json:"database,omitempty" validate:"required_if=Kind host-based"`
}

type SessionStatus string

const (
	StatusDisconnected SessionStatus = "disconnected"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusInvalid      SessionStatus = "invalid"
)

// SessionInfo is the credential-free view of a session sent to clients.
type SessionInfo struct {
	Status      SessionStatus  `json:"status"`
	Kind        ConnectionKind `json:"kind,omitempty"`
	Host        string         `json:"host,omitempty"`
	Database    string         `json:"database,omitempty"`
	Username    string         `json:"username,omitempty"`
	ConnectedAt *time.Time     `json:"connectedAt,omitempty"`
}

type Column struct {
	Name       string   `json:"name"`
	HeaderName string   `json:"headerName"`
	DataType   DataType `json:"dataType"`
	WireType   WireType `json:"wireType"`
	IsNullable bool     `json:"isNullable"`
	IsPrimary  bool     `json:"isPrimary"`
	HasDefault bool     `json:"hasDefault"`
}

// TableSchema lists columns in table order. PrimaryKey keeps key order,
// which may differ from column order for composite keys.
type TableSchema struct {
	Table      string   `json:"table"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primaryKey"`
}

// Row maps column name to a decoded cell: int64, float64, bool, string or nil.
type Row map[string]any

type Page struct {
	Rows       []Row `json:"rows"`
	TotalCount int64 `json:"totalCount"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
}

type AuditEntry struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"sessionId"`
	Table        string    `json:"table"`
	Operation    string    `json:"operation"`
	RowID        string    `json:"rowId"`
	DurationMs   int64     `json:"durationMs"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}
