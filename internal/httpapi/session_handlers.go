package httpapi

import (
	"net/http"
	"time"

	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/session"
)

type registerRequest struct {
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequest struct {
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.users.Register(r.Context(), req.DisplayName, req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.audit(r, audit.Event{
		ActorID:   u.ID,
		ActorName: u.DisplayName,
		Action:    "user.register",
		Severity:  audit.SeverityInfo,
	})
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleLogin(w, r)
	case http.MethodGet:
		a.handleWhoami(w, r)
	case http.MethodDelete:
		a.handleLogout(w, r)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.users.Authenticate(r.Context(), req.DisplayName, req.Password)
	if err != nil {
		a.audit(r, audit.Event{
			ActorName: req.DisplayName,
			Action:    "session.login.failed",
			Detail:    "credential check failed",
			Severity:  audit.SeverityWarning,
		})
		respondError(w, r, err)
		return
	}

	id := u.Identity()
	token, err := a.codec.Sign(id, time.Now())
	if err != nil {
		respondError(w, r, err)
		return
	}
	http.SetCookie(w, session.NewCookie(token, a.cfg.Production()))

	a.audit(r, audit.Event{
		ActorID:   u.ID,
		ActorName: u.DisplayName,
		Action:    "session.login",
		Severity:  audit.SeverityInfo,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *API) handleWhoami(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           id.ID,
		"display_name": id.DisplayName,
		"role":         id.Role,
		"anonymous":    id.IsAnonymous(),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, session.ClearCookie(a.cfg.Production()))
	if id, ok := session.IdentityFromContext(r.Context()); ok && !id.IsAnonymous() {
		a.audit(r, audit.Event{
			ActorID:   id.ID,
			ActorName: id.DisplayName,
			Action:    "session.logout",
			Severity:  audit.SeverityInfo,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// audit stamps the source address before recording. Used for the events
// handlers emit directly; guard and tracker denials record themselves.
func (a *API) audit(r *http.Request, e audit.Event) {
	meta := audit.MetaFromContext(r.Context())
	if e.SourceAddress == "" {
		e.SourceAddress = meta.SourceAddress
	}
	a.rec.Record(r.Context(), e)
}
