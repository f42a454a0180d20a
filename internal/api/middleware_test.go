package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestPathParamDecodesEscapedSegments(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/rows/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pathParam(r, "id")))
	})

	tests := map[string]string{
		"/rows/42":          "42",
		"/rows/a%252Cb,3":   "a%2Cb,3",
		"/rows/a%2Fb":       "a/b",
		"/rows/caf%C3%A9,1": "café,1",
	}
	for path, want := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	defer rl.Stop()
	now := time.Unix(0, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, "10.0.0.9", extractIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", extractIP(r))
}
