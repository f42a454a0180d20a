// Package client is the consuming half of the table protocol: it holds the
// session state a front end would keep, talks to the HTTP API and persists
// the connection config and view preferences in a local state store.
package client

import (
	"bytes"
	"context"
	"dbviewer/internal/core"
	"dbviewer/internal/logger"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Storage keys in the state store.
const (
	ConfigKey       = "connectionConfig"
	viewStatePrefix = "tableViewerState:"
)

// ErrStale is returned for a result that arrived after the session or the
// active table changed. Such results must not be shown.
var ErrStale = errors.New("client: result superseded by a newer session or table")

type Options struct {
	// HTTPClient defaults to a client with its own cookie jar.
	HTTPClient *http.Client
	// ReadRetries bounds retries of idempotent reads on transport failures.
	ReadRetries int
	Logger      logrus.FieldLogger
}

type pageKey struct {
	table          string
	page, pageSize int
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	state   core.StateStore
	opts    Options
	log     logrus.FieldLogger

	mu         sync.Mutex
	session    core.SessionInfo
	config     *core.ConnectionConfig
	generation uint64
	tables     []string
	schemas    map[string]*core.TableSchema
	pages      map[pageKey]*core.Page
	// versions counts writes per table; a page fetched across a write is
	// returned but not cached.
	versions   map[string]uint64
}

func New(baseURL string, state core.StateStore, opts Options) (*Client, error) {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		copied := *hc
		copied.Jar = jar
		hc = &copied
	}
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     hc,
		state:    state,
		opts:     opts,
		log:      logger.Or(opts.Logger),
		session:  core.SessionInfo{Status: core.StatusDisconnected},
		versions: map[string]uint64{},
	}
	c.dropCaches()
	return c, nil
}

// Session returns the client's view of its session.
func (c *Client) Session() core.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Config returns a copy of the active config, nil when not connected.
func (c *Client) Config() *core.ConnectionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config == nil {
		return nil
	}
	cfg := *c.config
	return &cfg
}

// Generation changes every time the session is replaced or dropped.
func (c *Client) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Validate checks cfg locally, then asks the server to connect with it. The
// current session and persisted config are only replaced on success.
func (c *Client) Validate(ctx context.Context, cfg core.ConnectionConfig) (core.SessionInfo, error) {
	if err := cfg.Validate(); err != nil {
		return core.SessionInfo{}, err
	}

	var info core.SessionInfo
	var err error
	if cfg.Kind == core.ConnDirectURL {
		err = c.do(ctx, http.MethodPost, "/api/connect/direct", map[string]string{"url": cfg.URL}, &info)
	} else {
		err = c.do(ctx, http.MethodPost, "/api/connect", map[string]string{
			"url":      cfg.URL,
			"username": cfg.Username,
			"password": cfg.Password,
			"database": cfg.Database,
		}, &info)
	}
	if err != nil {
		return core.SessionInfo{}, err
	}

	c.replace(info, &cfg)
	if err := c.state.Put(ConfigKey, cfg); err != nil {
		c.log.WithError(err).Warn("failed to persist connection config")
	}
	return info, nil
}

// ReconnectOnLoad revalidates the persisted config, if any. Whatever the
// reason a revalidation fails, the persisted config is discarded and the
// client ends up disconnected; the returned error says why.
func (c *Client) ReconnectOnLoad(ctx context.Context) (core.SessionInfo, error) {
	var cfg core.ConnectionConfig
	found, err := c.state.Get(ConfigKey, &cfg)
	if err == nil && !found {
		return c.Session(), nil
	}
	if err == nil {
		var info core.SessionInfo
		if info, err = c.Validate(ctx, cfg); err == nil {
			return info, nil
		}
	}

	c.log.WithError(err).Info("persisted connection failed revalidation; discarding it")
	if derr := c.state.Delete(ConfigKey); derr != nil {
		c.log.WithError(derr).Warn("failed to discard persisted config")
	}
	c.replace(core.SessionInfo{Status: core.StatusDisconnected}, nil)
	return c.Session(), err
}

// SwitchDatabase moves a host-based session to another database. On failure
// the active session, including its database, is left exactly as it was.
func (c *Client) SwitchDatabase(ctx context.Context, database string) (core.SessionInfo, error) {
	c.mu.Lock()
	if c.session.Status != core.StatusConnected || c.config == nil {
		c.mu.Unlock()
		return core.SessionInfo{}, core.Errorf(core.CodeSessionInvalid, "not connected")
	}
	candidate := *c.config
	c.mu.Unlock()

	if candidate.Kind != core.ConnHostBased {
		return core.SessionInfo{}, core.ValidationError("cannot switch database",
			map[string]string{"database": "only host-based connections can switch database"})
	}
	candidate.Database = database
	if err := candidate.Validate(); err != nil {
		return core.SessionInfo{}, err
	}

	var info core.SessionInfo
	if err := c.do(ctx, http.MethodPut, "/api/session/database", map[string]string{"database": database}, &info); err != nil {
		c.observe(c.Generation(), err)
		return core.SessionInfo{}, err
	}

	c.replace(info, &candidate)
	if err := c.state.Put(ConfigKey, candidate); err != nil {
		c.log.WithError(err).Warn("failed to persist connection config")
	}
	return info, nil
}

// Disconnect clears the session locally and on the server. It is idempotent;
// a server that cannot be reached does not keep the client connected.
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, "/api/session", nil, nil)
	if err != nil {
		c.log.WithError(err).Warn("server disconnect failed; clearing local session anyway")
	}
	c.replace(core.SessionInfo{Status: core.StatusDisconnected}, nil)
	return c.state.Delete(ConfigKey)
}

// replace installs a new session state and starts a new generation.
func (c *Client) replace(info core.SessionInfo, cfg *core.ConnectionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = info
	c.config = cfg
	c.generation++
	c.dropCaches()
}

// observe reacts to err from a call started in generation gen. A
// SessionInvalid answer resets the session to invalid so the caller goes back
// to connecting.
func (c *Client) observe(gen uint64, err error) {
	if !errors.Is(err, core.ErrSessionInvalid) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.session = core.SessionInfo{Status: core.StatusInvalid}
	c.generation++
	c.dropCaches()
	c.log.WithError(err).Warn("session invalidated by server")
}

// must be called with c.mu held
func (c *Client) dropCaches() {
	c.tables = nil
	c.schemas = map[string]*core.TableSchema{}
	c.pages = map[pageKey]*core.Page{}
}

// begin fails fast unless connected and returns the generation to check
// results against.
func (c *Client) begin() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status != core.StatusConnected {
		return 0, core.Errorf(core.CodeSessionInvalid, "not connected")
	}
	return c.generation, nil
}

type errorEnvelope struct {
	Error struct {
		Code    core.Code         `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

// do sends one JSON request. Non-2xx answers become *core.Error carrying the
// server's code; transport failures are temporary Unknown errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return core.ValidationError("could not encode request", map[string]string{"body": err.Error()})
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.Temporary(err, "server unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var env errorEnvelope
		if derr := json.NewDecoder(resp.Body).Decode(&env); derr != nil || env.Error.Code == "" {
			return core.Errorf(core.CodeUnknown, "unexpected response %s", resp.Status)
		}
		return &core.Error{Code: env.Error.Code, Message: env.Error.Message, Fields: env.Error.Fields}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return core.Wrap(core.CodeUnknown, err, fmt.Sprintf("bad response to %s %s", method, path))
	}
	return nil
}
