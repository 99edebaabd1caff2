package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/session"
)

type purgeRequest struct {
	Severity  string `json:"severity,omitempty"`
	OlderThan string `json:"olderThan,omitempty"`
}

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := audit.Query{
		Action:          strings.TrimSpace(r.URL.Query().Get("action")),
		ActorOrTargetID: strings.TrimSpace(r.URL.Query().Get("actorOrTargetId")),
		Page:            queryInt(r, "page", 1),
		Limit:           queryInt(r, "limit", 20),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("severity")); raw != "" {
		sev, err := audit.ParseSeverity(raw)
		if err != nil {
			respondError(w, r, err)
			return
		}
		q.Severity = sev
	}
	var err error
	if q.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, pagination, err := a.rec.Query(r.Context(), q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":     events,
		"pagination": pagination,
	})
}

func (a *API) handleAuditPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req purgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter audit.PurgeFilter
	if strings.TrimSpace(req.Severity) != "" {
		sev, err := audit.ParseSeverity(req.Severity)
		if err != nil {
			respondError(w, r, err)
			return
		}
		filter.Severity = sev
	}
	if strings.TrimSpace(req.OlderThan) != "" {
		t, err := time.Parse(time.RFC3339, req.OlderThan)
		if err != nil {
			writeError(w, http.StatusBadRequest, "olderThan must be RFC3339")
			return
		}
		filter.OlderThan = &t
	}

	deleted, err := a.rec.Purge(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	actor, _ := session.IdentityFromContext(r.Context())
	a.audit(r, audit.Event{
		ActorID:   actor.ID,
		ActorName: actor.DisplayName,
		Action:    "audit.purge",
		Detail:    fmt.Sprintf("deleted %d events (severity=%s olderThan=%s)", deleted, req.Severity, req.OlderThan),
		Severity:  audit.SeverityWarning,
	})
	writeJSON(w, http.StatusOK, map[string]any{"deletedCount": deleted})
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339", key)
	}
	return &t, nil
}
