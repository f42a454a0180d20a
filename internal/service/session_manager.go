package service

import (
	"context"
	"database/sql"
	"dbviewer/internal/core"
	"dbviewer/internal/logger"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Session is one client's live connection. Table operations receive it as an
// explicit handle; the pool and credentials never leave it.
type Session struct {
	id string

	mu          sync.RWMutex
	config      core.ConnectionConfig
	status      core.SessionStatus
	database    string
	db          *sql.DB
	connectedAt time.Time

	// ctx is cancelled when the session is closed or invalidated so that
	// in-flight reads bound to it stop.
	ctx    context.Context
	cancel context.CancelFunc

	schemaMu sync.RWMutex
	schemas  map[string]*core.TableSchema
	group    singleflight.Group
}

func newSession(cfg core.ConnectionConfig, db *sql.DB, database string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		config:      cfg,
		status:      core.StatusConnected,
		database:    database,
		db:          db,
		connectedAt: time.Now().UTC(),
		ctx:         ctx,
		cancel:      cancel,
		schemas:     map[string]*core.TableSchema{},
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() core.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Database is the database the pool is actually connected to.
func (s *Session) Database() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database
}

func (s *Session) Info() core.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.connectedAt
	return core.SessionInfo{
		Status:      s.status,
		Kind:        s.config.Kind,
		Host:        HostOf(s.config),
		Database:    s.database,
		Username:    UsernameOf(s.config),
		ConnectedAt: &at,
	}
}

// acquire hands out the pool and a context that ends with either the
// caller's ctx or the session itself.
func (s *Session) acquire(ctx context.Context) (*sql.DB, context.Context, context.CancelFunc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != core.StatusConnected || s.db == nil {
		return nil, nil, nil, core.Errorf(core.CodeSessionInvalid, "not connected")
	}
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return s.db, opCtx, func() { stop(); cancel() }, nil
}

// closed reports whether the session ended while an operation was running.
func (s *Session) closed() bool { return s.ctx.Err() != nil }

func (s *Session) close(status core.SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != core.StatusConnected {
		return false
	}
	s.status = status
	s.cancel()
	if s.db != nil {
		s.db.Close()
	}
	return true
}

func (s *Session) cachedSchema(table string) (*core.TableSchema, bool) {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()
	schema, ok := s.schemas[table]
	return schema, ok
}

func (s *Session) storeSchema(table string, schema *core.TableSchema) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	s.schemas[table] = schema
}

type ManagerOptions struct {
	ConnectTimeout time.Duration
	// SSLMode applies to host-based configs.
	SSLMode string
	Logger  logrus.FieldLogger
}

// SessionManager owns every client session. A session is only ever replaced
// by one that has already passed validation.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	resumes  singleflight.Group

	open  Opener
	store core.SessionStore
	opts  ManagerOptions
	log   logrus.FieldLogger
}

// NewSessionManager builds a manager. store may be nil, in which case
// sessions do not survive a restart.
func NewSessionManager(open Opener, store core.SessionStore, opts ManagerOptions) *SessionManager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &SessionManager{
		sessions: map[string]*Session{},
		open:     open,
		store:    store,
		opts:     opts,
		log:      logger.Or(opts.Logger),
	}
}

// Validate opens a pool for cfg and proves it usable. The returned session is
// detached: no existing or persisted state is touched.
func (m *SessionManager) Validate(ctx context.Context, cfg core.ConnectionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := BuildDSN(cfg, m.opts.SSLMode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	db, err := m.open(ctx, dsn)
	if err != nil {
		return nil, classifyConnectError(err)
	}

	var database string
	if err := db.QueryRowContext(ctx, "SELECT current_database()").Scan(&database); err != nil {
		db.Close()
		cerr := classifyConnectError(err)
		m.log.WithFields(logrus.Fields{"target": describe(cfg), "code": cerr.Code}).Warn("connection validation failed")
		return nil, cerr
	}

	if cfg.Kind == core.ConnHostBased && database != cfg.Database {
		m.log.WithFields(logrus.Fields{"requested": cfg.Database, "actual": database}).Warn("connected to a different database than requested")
	}
	return newSession(cfg, db, database), nil
}

// Connect validates cfg and, only on success, makes it the session of
// clientID, closing whatever session it replaces.
func (m *SessionManager) Connect(ctx context.Context, clientID string, cfg core.ConnectionConfig) (*Session, error) {
	s, err := m.Validate(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.install(clientID, s)

	if m.store != nil {
		if err := m.store.Save(clientID, cfg); err != nil {
			m.log.WithError(err).WithField("session", clientID).Error("failed to persist connection config")
		}
	}
	m.log.WithFields(logrus.Fields{"session": clientID, "target": describe(cfg)}).Info("session connected")
	return s, nil
}

func (m *SessionManager) install(clientID string, s *Session) {
	s.id = clientID
	m.mu.Lock()
	old := m.sessions[clientID]
	m.sessions[clientID] = s
	m.mu.Unlock()

	if old != nil && old != s {
		old.close(core.StatusDisconnected)
	}
}

// Get returns the in-memory session of clientID, if any.
func (m *SessionManager) Get(clientID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[clientID]
}

// Resume returns a connected session for clientID. A client unknown in
// memory (after a restart, say) gets its persisted config revalidated; if
// that fails the persisted config is discarded.
func (m *SessionManager) Resume(ctx context.Context, clientID string) (*Session, error) {
	if s := m.Get(clientID); s != nil {
		if s.Status() == core.StatusConnected {
			return s, nil
		}
		return nil, core.Errorf(core.CodeSessionInvalid, "session is no longer valid; reconnect")
	}
	if m.store == nil || clientID == "" {
		return nil, core.Errorf(core.CodeSessionInvalid, "not connected")
	}

	v, err, _ := m.resumes.Do(clientID, func() (any, error) {
		if s := m.Get(clientID); s != nil {
			return s, nil
		}
		cfg, err := m.store.Load(clientID)
		if err != nil {
			m.log.WithError(err).WithField("session", clientID).Error("failed to load persisted config")
			return nil, core.Errorf(core.CodeSessionInvalid, "not connected")
		}
		if cfg == nil {
			return nil, core.Errorf(core.CodeSessionInvalid, "not connected")
		}

		s, err := m.Validate(ctx, *cfg)
		if err != nil {
			if derr := m.store.Delete(clientID); derr != nil {
				m.log.WithError(derr).WithField("session", clientID).Error("failed to discard persisted config")
			}
			m.log.WithError(err).WithField("session", clientID).Warn("persisted session failed revalidation")
			return nil, core.Wrap(core.CodeSessionInvalid, err, "saved connection is no longer valid")
		}
		m.install(clientID, s)
		m.log.WithField("session", clientID).Info("session resumed")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s := v.(*Session)
	if s.Status() != core.StatusConnected {
		return nil, core.Errorf(core.CodeSessionInvalid, "session is no longer valid; reconnect")
	}
	return s, nil
}

// SwitchDatabase reconnects clientID's host-based session to another
// database. On failure the current session stays as it was.
func (m *SessionManager) SwitchDatabase(ctx context.Context, clientID, database string) (*Session, error) {
	s := m.Get(clientID)
	if s == nil || s.Status() != core.StatusConnected {
		return nil, core.Errorf(core.CodeSessionInvalid, "not connected")
	}
	s.mu.RLock()
	candidate := s.config
	s.mu.RUnlock()

	if candidate.Kind != core.ConnHostBased {
		return nil, core.ValidationError("cannot switch database", map[string]string{"database": "only host-based connections can switch database"})
	}
	if database == "" {
		return nil, core.ValidationError("cannot switch database", map[string]string{"database": "is required"})
	}
	candidate.Database = database
	return m.Connect(ctx, clientID, candidate)
}

// Disconnect drops clientID's session and its persisted config. Calling it
// for an unknown client is not an error.
func (m *SessionManager) Disconnect(clientID string) error {
	m.mu.Lock()
	s := m.sessions[clientID]
	delete(m.sessions, clientID)
	m.mu.Unlock()

	if s != nil {
		s.close(core.StatusDisconnected)
		m.log.WithField("session", clientID).Info("session disconnected")
	}
	if m.store != nil {
		return m.store.Delete(clientID)
	}
	return nil
}

// Invalidate marks s unusable after cause, closing its pool and cancelling
// reads bound to it. The client has to connect again.
func (m *SessionManager) Invalidate(s *Session, cause error) {
	if s == nil {
		return
	}
	if s.close(core.StatusInvalid) {
		m.log.WithError(cause).WithField("session", s.id).Warn("session invalidated")
	}
}

// Close shuts every session down, leaving persisted configs in place.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close(core.StatusDisconnected)
	}
}
