package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"dbviewer/internal/core"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
)

// Opener opens a connection pool for dsn. It need not connect; validation
// runs a query afterwards.
type Opener func(ctx context.Context, dsn string) (*sql.DB, error)

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresOpener returns an Opener backed by lib/pq with the given pool sizing.
func PostgresOpener(opts PoolOptions) Opener {
	return func(ctx context.Context, dsn string) (*sql.DB, error) {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		return db, nil
	}
}

const defaultPort = "5432"

// SplitHostPort accepts host, host:port, [v6]:port and tcp://host:port.
func SplitHostPort(raw string) (host, port string, err error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "://"); i >= 0 {
		u, perr := url.Parse(raw)
		if perr != nil {
			return "", "", perr
		}
		raw = u.Host
	}
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return "", "", errors.New("empty host")
	}

	host, port, err = net.SplitHostPort(raw)
	if err != nil {
		// No port given.
		host, port = strings.Trim(raw, "[]"), defaultPort
	}
	if host == "" {
		return "", "", errors.New("empty host")
	}
	if port == "" {
		port = defaultPort
	}
	return host, port, nil
}

// BuildDSN renders cfg as a lib/pq connection string. sslmode applies to
// host-based configs; direct URLs carry their own.
func BuildDSN(cfg core.ConnectionConfig, sslmode string) (string, error) {
	switch cfg.Kind {
	case core.ConnDirectURL:
		dsn, err := pq.ParseURL(cfg.URL)
		if err != nil {
			return "", core.ValidationError("invalid connection url", map[string]string{"url": err.Error()})
		}
		return dsn, nil
	case core.ConnHostBased:
		host, port, err := SplitHostPort(cfg.URL)
		if err != nil {
			return "", core.ValidationError("invalid host", map[string]string{"url": err.Error()})
		}
		params := map[string]string{
			"host":     host,
			"port":     port,
			"user":     cfg.Username,
			"password": cfg.Password,
			"dbname":   cfg.Database,
			"sslmode":  sslmode,
		}
		if sslmode == "" {
			params["sslmode"] = "disable"
		}
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + dsnValue(params[k])
		}
		return strings.Join(parts, " "), nil
	}
	return "", core.ValidationError("invalid connection config", map[string]string{"kind": "unsupported kind"})
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// HostOf returns the display host of cfg without credentials.
func HostOf(cfg core.ConnectionConfig) string {
	switch cfg.Kind {
	case core.ConnHostBased:
		host, port, err := SplitHostPort(cfg.URL)
		if err != nil {
			return ""
		}
		return net.JoinHostPort(host, port)
	case core.ConnDirectURL:
		if u, err := url.Parse(cfg.URL); err == nil {
			return u.Host
		}
	}
	return ""
}

// UsernameOf returns the role name cfg logs in as.
func UsernameOf(cfg core.ConnectionConfig) string {
	if cfg.Kind == core.ConnHostBased {
		return cfg.Username
	}
	if u, err := url.Parse(cfg.URL); err == nil && u.User != nil {
		return u.User.Username()
	}
	return ""
}

// classifyConnectError maps a failure while establishing a session.
func classifyConnectError(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "28":
			return core.Wrap(core.CodeAuthenticationFailed, err, "authentication failed")
		case pqErr.Code == "3D000":
			return core.Wrap(core.CodeDatabaseNotFound, err, "database does not exist")
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code == "53300":
			return core.Wrap(core.CodeHostUnreachable, err, "database server refused the connection")
		}
		return core.Wrap(core.CodeUnknown, err, pqErr.Message)
	}

	if isNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return core.Wrap(core.CodeHostUnreachable, err, "cannot reach database host")
	}

	// lib/pq reports a few startup failures as plain errors.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password authentication failed"), strings.Contains(msg, "authentication"):
		return core.Wrap(core.CodeAuthenticationFailed, err, "authentication failed")
	case strings.Contains(msg, "does not exist") && strings.Contains(msg, "database"):
		return core.Wrap(core.CodeDatabaseNotFound, err, "database does not exist")
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "network is unreachable"):
		return core.Wrap(core.CodeHostUnreachable, err, "cannot reach database host")
	}
	return core.Wrap(core.CodeUnknown, err, "failed to connect")
}

// classifyQueryError maps a failure of a statement run on an established
// session. Connection-level trouble becomes Temporary; credential or catalog
// loss becomes SessionInvalid.
func classifyQueryError(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		fields := map[string]string{}
		if pqErr.Column != "" {
			fields[pqErr.Column] = pqErr.Message
		}
		switch {
		case pqErr.Code.Class() == "28", pqErr.Code == "3D000":
			return core.Wrap(core.CodeSessionInvalid, err, "session is no longer valid")
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code.Class() == "53",
			pqErr.Code == "40001", pqErr.Code == "40P01":
			return core.Temporary(err, pqErr.Message)
		case pqErr.Code == "42P01":
			return core.Wrap(core.CodeNotFound, err, "table not found")
		case pqErr.Code == "42703", pqErr.Code == "428C9":
			return &core.Error{Code: core.CodeValidation, Message: pqErr.Message, Fields: fields, Err: err}
		case pqErr.Code.Class() == "22", pqErr.Code.Class() == "23":
			if len(fields) == 0 && pqErr.Constraint != "" {
				fields[pqErr.Constraint] = pqErr.Message
			}
			return &core.Error{Code: core.CodeValidation, Message: pqErr.Message, Fields: fields, Err: err}
		}
		return core.Wrap(core.CodeUnknown, err, pqErr.Message)
	}

	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "sql: database is closed") {
		return core.Wrap(core.CodeSessionInvalid, err, "session is closed")
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		isNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return core.Temporary(err, "database connection interrupted")
	}
	return core.Wrap(core.CodeUnknown, err, "query failed")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	return errors.As(err, &dnsErr) || errors.As(err, &opErr) || errors.As(err, &netErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH)
}

func quoteIdent(name string) string { return pq.QuoteIdentifier(name) }

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// describe is a loggable summary of cfg, never including the password.
func describe(cfg core.ConnectionConfig) string {
	return fmt.Sprintf("%s %s@%s/%s", cfg.Kind, UsernameOf(cfg), HostOf(cfg), cfg.Database)
}
