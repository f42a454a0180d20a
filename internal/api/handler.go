package api

import (
	"dbviewer/internal/core"
	"dbviewer/internal/logger"
	"dbviewer/internal/service"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type Options struct {
	AllowedOrigins []string
	// ConnectLimiter guards connect and database switching; APILimiter
	// guards the table endpoints per session. Either may be nil.
	ConnectLimiter *RateLimiter
	APILimiter     *RateLimiter
	Logger         logrus.FieldLogger
}

type Handler struct {
	sessions *service.SessionManager
	tables   *service.TableService
	audit    core.AuditRepository
	cookies  *SessionCookies
	docs     *DocHandler
	opts     Options
	log      logrus.FieldLogger
}

func NewHandler(sessions *service.SessionManager, tables *service.TableService, audit core.AuditRepository, cookies *SessionCookies, opts Options) *Handler {
	log := logger.Or(opts.Logger)
	return &Handler{
		sessions: sessions,
		tables:   tables,
		audit:    audit,
		cookies:  cookies,
		docs:     NewDocHandler(sessions, tables, cookies, log),
		opts:     opts,
		log:      log,
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(h.log))
	r.Use(middleware.Recoverer)
	r.Use(CORS(h.opts.AllowedOrigins))

	r.Get("/health", h.Health)

	bySession := func(req *http.Request) string {
		id, _ := h.cookies.Peek(req)
		return id
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/docs", h.docs.ServeSwaggerUI)
		r.Get("/docs/openapi.json", h.docs.GetOpenAPISpec)

		r.Group(func(r chi.Router) {
			r.Use(h.opts.ConnectLimiter.Limit(nil, h.log))
			r.Post("/connect", h.Connect)
			r.Post("/connect/direct", h.ConnectDirect)
			r.With(h.requireSession).Put("/session/database", h.SwitchDatabase)
		})

		r.Get("/session", h.SessionStatus)
		r.Delete("/session", h.Disconnect)

		r.Group(func(r chi.Router) {
			r.Use(h.opts.APILimiter.Limit(bySession, h.log))
			r.Use(h.requireSession)
			r.Get("/tables", h.ListTables)
			r.Get("/tables/{table}/schema", h.GetSchema)
			r.Get("/tables/{table}", h.ListRows)
			r.Post("/tables/{table}/rows", h.CreateRow)
			r.Get("/tables/{table}/rows/{id}", h.GetRow)
			r.Put("/tables/{table}/rows/{id}", h.UpdateRow)
			r.Delete("/tables/{table}/rows/{id}", h.DeleteRow)
			r.Put("/tables/{table}/rows/{id}/cells/{column}", h.UpdateCell)
			r.Get("/audit", h.Audit)
		})
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type hostConnectRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type directConnectRequest struct {
	URL string `json:"url"`
}

func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req hostConnectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.connect(w, r, core.ConnectionConfig{
		Kind:     core.ConnHostBased,
		URL:      req.URL,
		Username: req.Username,
		Password: req.Password,
		Database: req.Database,
	})
}

func (h *Handler) ConnectDirect(w http.ResponseWriter, r *http.Request) {
	var req directConnectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.connect(w, r, core.ConnectionConfig{Kind: core.ConnDirectURL, URL: req.URL})
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request, cfg core.ConnectionConfig) {
	// Reject bad input before a cookie is issued.
	if err := cfg.Validate(); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	clientID, err := h.cookies.ClientID(w, r)
	if err != nil {
		writeError(w, r, h.log, core.Wrap(core.CodeUnknown, err, "could not issue session cookie"))
		return
	}
	s, err := h.sessions.Connect(r.Context(), clientID, cfg)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// SessionStatus reports the caller's session, reviving a persisted one after
// a server restart. A session that cannot be revived reads as disconnected.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cookies.Peek(r)
	if !ok {
		writeJSON(w, http.StatusOK, core.SessionInfo{Status: core.StatusDisconnected})
		return
	}
	if s := h.sessions.Get(id); s != nil && s.Status() != core.StatusConnected {
		writeJSON(w, http.StatusOK, core.SessionInfo{Status: s.Status()})
		return
	}
	s, err := h.sessions.Resume(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusOK, core.SessionInfo{Status: core.StatusDisconnected})
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

type switchDatabaseRequest struct {
	Database string `json:"database"`
}

func (h *Handler) SwitchDatabase(w http.ResponseWriter, r *http.Request) {
	var req switchDatabaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	s, err := h.sessions.SwitchDatabase(r.Context(), sessionFrom(r.Context()).ID(), req.Database)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.cookies.Peek(r); ok {
		if err := h.sessions.Disconnect(id); err != nil {
			h.log.WithError(err).Warn("disconnect: removing persisted session failed")
		}
	}
	h.cookies.Clear(w, r)
	writeJSON(w, http.StatusOK, core.SessionInfo{Status: core.StatusDisconnected})
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.tables.ListTables(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tables": tables})
}

func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.tables.GetSchema(r.Context(), sessionFrom(r.Context()), pathParam(r, "table"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (h *Handler) ListRows(w http.ResponseWriter, r *http.Request) {
	fields := map[string]string{}
	page := queryInt(r, "page", 0, fields)
	pageSize := queryInt(r, "pageSize", core.DefaultPageSize, fields)
	if len(fields) > 0 {
		writeError(w, r, h.log, core.ValidationError("invalid pagination", fields))
		return
	}

	result, err := h.tables.ListRows(r.Context(), sessionFrom(r.Context()), pathParam(r, "table"), page, pageSize)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.tables.GetRow(r.Context(), sessionFrom(r.Context()), pathParam(r, "table"), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) CreateRow(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := decodeJSON(w, r, &data); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	row, err := h.tables.CreateRow(r.Context(), sessionFrom(r.Context()), pathParam(r, "table"), data)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (h *Handler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := decodeJSON(w, r, &data); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	row, err := h.tables.UpdateRow(r.Context(), sessionFrom(r.Context()), pathParam(r, "table"), pathParam(r, "id"), data)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) UpdateCell(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	// "value": null is a legitimate edit; a missing key is not.
	value, ok := body["value"]
	if !ok {
		writeError(w, r, h.log, core.ValidationError("value is required", map[string]string{"value": "is required"}))
		return
	}
	row, err := h.tables.UpdateCell(r.Context(), sessionFrom(r.Context()),
		pathParam(r, "table"), pathParam(r, "id"), pathParam(r, "column"), value)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	if err := h.tables.DeleteRow(r.Context(), sessionFrom(r.Context()), pathParam(r, "table"), pathParam(r, "id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	fields := map[string]string{}
	limit := queryInt(r, "limit", defaultAuditLimit, fields)
	if len(fields) > 0 || limit < 1 || limit > maxAuditLimit {
		writeError(w, r, h.log, core.ValidationError("invalid limit",
			map[string]string{"limit": "must be between 1 and " + strconv.Itoa(maxAuditLimit)}))
		return
	}
	entries, err := h.audit.GetRecent(sessionFrom(r.Context()).ID(), limit)
	if err != nil {
		writeError(w, r, h.log, core.Wrap(core.CodeUnknown, err, "could not read audit log"))
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string][]core.AuditEntry{"entries": entries})
}

// pathParam returns a decoded route parameter. chi matches against RawPath
// when the request carries one, leaving its parameters escaped.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func queryInt(r *http.Request, name string, def int, fields map[string]string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fields[name] = "must be an integer"
		return def
	}
	return n
}
