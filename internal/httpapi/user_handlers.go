package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/session"
)

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUserList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	list, total, err := a.users.List(r.Context(), page, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": list,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// handleUserScoped routes /v1/admin/users/{id} and /v1/admin/users/{id}/role.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/users/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleUserDelete(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "role":
		a.handleUserRole(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, targetID string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, http.MethodPatch)
		return
	}
	actor, ok := session.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, r, session.ErrUnauthenticated)
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.users.UpdateRole(r.Context(), actor, targetID, identity.Role(strings.TrimSpace(strings.ToLower(req.Role))))
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.audit(r, audit.Event{
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		Action:     "user.role.update",
		TargetID:   updated.ID,
		TargetName: updated.DisplayName,
		Detail:     "role set to " + string(updated.Role),
		Severity:   audit.SeverityInfo,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleUserDelete(w http.ResponseWriter, r *http.Request, targetID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	actor, ok := session.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, r, session.ErrUnauthenticated)
		return
	}
	deleted, err := a.users.Delete(r.Context(), actor, targetID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.audit(r, audit.Event{
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		Action:     "user.delete",
		TargetID:   deleted.ID,
		TargetName: deleted.DisplayName,
		Severity:   audit.SeverityWarning,
	})
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
