package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	cookieName  = "dbviewer-session"
	sessionIDKV = "sid"
)

// SessionCookies keeps the client's session handle in a signed, encrypted
// cookie. The cookie carries only an opaque id; configs stay server side.
type SessionCookies struct {
	store *sessions.CookieStore
}

func NewSessionCookies(hashKey, blockKey []byte, secure bool, maxAge time.Duration) *SessionCookies {
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	// Cross-site front ends only receive the cookie with SameSite=None, which
	// browsers accept on secure cookies alone.
	if secure {
		store.Options.SameSite = http.SameSiteNoneMode
	}
	return &SessionCookies{store: store}
}

// Peek returns the session id carried by r without issuing one.
func (c *SessionCookies) Peek(r *http.Request) (string, bool) {
	session, err := c.store.Get(r, cookieName)
	if err != nil {
		return "", false
	}
	id, ok := session.Values[sessionIDKV].(string)
	return id, ok && id != ""
}

// ClientID returns the session id of r, issuing a fresh one (and setting the
// cookie on w) when there is none. Call before writing the response body.
func (c *SessionCookies) ClientID(w http.ResponseWriter, r *http.Request) (string, error) {
	// A cookie that fails to decode (rotated key) yields a usable new session.
	session, _ := c.store.Get(r, cookieName)
	if id, ok := session.Values[sessionIDKV].(string); ok && id != "" {
		return id, nil
	}
	id := uuid.NewString()
	session.Values[sessionIDKV] = id
	if err := session.Save(r, w); err != nil {
		return "", err
	}
	return id, nil
}

// Clear expires the cookie.
func (c *SessionCookies) Clear(w http.ResponseWriter, r *http.Request) {
	session, _ := c.store.Get(r, cookieName)
	session.Options.MaxAge = -1
	session.Save(r, w)
}
