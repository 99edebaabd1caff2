package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatgrid.org/internal/access"
	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/obs"
	"chatgrid.org/internal/session"
	"chatgrid.org/internal/users"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// respondError maps the service error taxonomy onto fixed status codes with
// generic bodies. Token failure kinds never reach the caller; internal
// failures are logged with full detail and surfaced as a bare 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrUnauthenticated), errors.Is(err, users.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, access.ErrForbidden):
		writeError(w, http.StatusForbidden, "insufficient privileges")
	case errors.Is(err, access.ErrSelfProtection):
		writeError(w, http.StatusBadRequest, "action not permitted on this account")
	case errors.Is(err, users.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, users.ErrConflict):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, audit.ErrInvalidFilter),
		errors.Is(err, audit.ErrUnscopedPurge):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		meta := audit.MetaFromContext(r.Context())
		obs.LogJSON(map[string]any{
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
			"level":      "error",
			"msg":        "internal failure",
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": meta.RequestID,
			"error":      err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
