package api

import (
	"dbviewer/internal/core"
	"dbviewer/internal/logger"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    core.Code         `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// StatusFor maps an error code onto its HTTP status.
func StatusFor(code core.Code) int {
	switch code {
	case core.CodeAuthenticationFailed, core.CodeSessionInvalid:
		return http.StatusUnauthorized
	case core.CodeHostUnreachable:
		return http.StatusBadGateway
	case core.CodeDatabaseNotFound, core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	e := core.AsError(err)
	status := StatusFor(e.Code)

	entry := logger.Or(log).WithFields(logrus.Fields{
		"code":       e.Code,
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Debug("request rejected")
	}

	msg := e.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: e.Code, Message: msg, Fields: e.Fields}})
}

// decodeJSON reads a JSON body keeping numbers as json.Number so integer
// columns do not pass through float64.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return core.ValidationError("request body is required", map[string]string{"body": "is required"})
		}
		return core.ValidationError("invalid JSON body", map[string]string{"body": err.Error()})
	}
	return nil
}
