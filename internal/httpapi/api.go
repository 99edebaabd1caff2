package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"chatgrid.org/internal/access"
	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/config"
	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/obs"
	"chatgrid.org/internal/quota"
	"chatgrid.org/internal/session"
	"chatgrid.org/internal/users"
)

// ChatService is the boundary to the chat-message business logic, which
// lives outside this layer.
type ChatService interface {
	Post(ctx context.Context, author identity.Identity, text string) (Message, error)
}

// Message is the minimal shape this layer passes back from the collaborator.
type Message struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id,omitempty"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	cfg        *config.Config
	codec      *session.Codec
	resolver   *session.Resolver
	guard      *access.Guard
	users      *users.Service
	quota      *quota.Tracker
	rec        *audit.Recorder
	chat       ChatService
	readyProbe ReadyProbe
	version    string
}

// Deps bundles the collaborators the API composes per route.
type Deps struct {
	Config   *config.Config
	Codec    *session.Codec
	Resolver *session.Resolver
	Guard    *access.Guard
	Users    *users.Service
	Quota    *quota.Tracker
	Audit    *audit.Recorder
	Chat     ChatService
	Probe    ReadyProbe
	Version  string
}

// New wires the routes.
func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		cfg:        d.Config,
		codec:      d.Codec,
		resolver:   d.Resolver,
		guard:      d.Guard,
		users:      d.Users,
		quota:      d.Quota,
		rec:        d.Audit,
		chat:       d.Chat,
		readyProbe: d.Probe,
		version:    d.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/users", a.handleRegister)
	a.mux.HandleFunc("/v1/session", a.handleSession)
	a.mux.HandleFunc("/v1/messages", a.handleMessages)

	// Admin surface: role requirement composed explicitly per route.
	a.mux.Handle("/v1/admin/users", a.requireRole(identity.RoleAdmin, http.HandlerFunc(a.handleUserList)))
	a.mux.Handle("/v1/admin/users/", a.requireRole(identity.RoleAdmin, http.HandlerFunc(a.handleUserScoped)))
	a.mux.Handle("/v1/admin/audit", a.requireRole(identity.RoleAdmin, http.HandlerFunc(a.handleAuditQuery)))
	a.mux.Handle("/v1/admin/audit/purge", a.requireRole(identity.RoleAdmin, http.HandlerFunc(a.handleAuditPurge)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = BurstLimit(h, a.cfg.BurstPerSecond, a.cfg.BurstSize)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestMeta(h)
	return obs.Instrument(h)
}

// requireRole wraps a route with authentication and a role requirement. 401
// when the request resolved to a guest, 403 when the role is insufficient.
func (a *API) requireRole(required identity.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := session.IdentityFromContext(r.Context())
		if !ok || id.IsAnonymous() {
			respondError(w, r, session.ErrUnauthenticated)
			return
		}
		if err := a.guard.RequireRole(r.Context(), id, required, r.Method+" "+obs.CanonicalPath(r.URL.Path)); err != nil {
			respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireIdentity pulls the resolved account from the context, rejecting
// guests with 401.
func (a *API) requireIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok || id.IsAnonymous() {
		respondError(w, r, session.ErrUnauthenticated)
		return identity.Identity{}, false
	}
	return id, true
}

// --- operational handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "chatgrid-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "chatgrid-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
