package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatgrid.org/internal/access"
	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/config"
	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/ids"
	"chatgrid.org/internal/quota"
	"chatgrid.org/internal/session"
	"chatgrid.org/internal/store/memory"
	"chatgrid.org/internal/users"
)

type fakeChat struct{}

func (fakeChat) Post(_ context.Context, author identity.Identity, text string) (Message, error) {
	return Message{
		ID:        ids.New(),
		AuthorID:  author.ID,
		Author:    author.DisplayName,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type testEnv struct {
	handler http.Handler
	codec   *session.Codec
	users   *memory.UserStore
	audits  *memory.AuditStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Environment:     "development",
		SessionSecret:   "test-secret-test-secret-32bytes!",
		UserDailyLimit:  3,
		GuestDailyLimit: 2,
		BurstPerSecond:  1000,
		BurstSize:       1000,
	}
	userStore := memory.NewUserStore()
	auditStore := memory.NewAuditStore()
	rec := audit.NewRecorder(auditStore)
	guard := access.NewGuard(rec)
	codec, err := session.NewCodec(cfg.SessionSecret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	api := New(Deps{
		Config:   cfg,
		Codec:    codec,
		Resolver: session.NewResolver(codec),
		Guard:    guard,
		Users:    users.NewService(userStore, guard),
		Quota:    quota.NewTracker(memory.NewQuotaStore(), quota.WithAudit(rec)),
		Audit:    rec,
		Chat:     fakeChat{},
		Version:  "test",
	})
	return &testEnv{handler: api.Handler(), codec: codec, users: userStore, audits: auditStore}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// addUser seeds an account directly and returns a valid token for it.
func (e *testEnv) addUser(t *testing.T, name string, role identity.Role) (users.User, string) {
	t.Helper()
	now := time.Now().UTC()
	u := users.User{
		ID:          ids.New(),
		DisplayName: name,
		Role:        role,
		// bcrypt of "correct horse", precomputed so seeding stays fast
		PasswordHash: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.users.Create(context.Background(), &u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := e.codec.Sign(u.Identity(), now)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return u, token
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	// No credential at all: 401.
	w := env.do(t, http.MethodGet, "/v1/admin/users", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d, want 401", w.Code)
	}

	// Valid credential, insufficient role: 403.
	_, token := env.addUser(t, "ada", identity.RoleUser)
	w = env.do(t, http.MethodGet, "/v1/admin/users", "", token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("user role: status %d, want 403", w.Code)
	}

	// Admin passes.
	_, admin := env.addUser(t, "root", identity.RoleAdmin)
	w = env.do(t, http.MethodGet, "/v1/admin/users", "", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("admin: status %d, want 200: %s", w.Code, w.Body.String())
	}

	// The 403 was audited with the attempted action.
	_, total, err := env.audits.Find(context.Background(),
		audit.Query{Action: "GET /v1/admin/users", Page: 1, Limit: 10})
	if err != nil || total != 1 {
		t.Fatalf("denial audit: total=%d err=%v", total, err)
	}
}

func TestRegisterLoginWhoamiLogout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/users",
		`{"display_name":"ada","password":"correct horse"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID           string `json:"id"`
		PasswordHash string `json:"password_hash"`
	}
	decodeBody(t, w, &created)
	if created.ID == "" {
		t.Fatal("register response missing id")
	}
	if created.PasswordHash != "" || strings.Contains(w.Body.String(), "$2a$") {
		t.Fatalf("password hash leaked: %s", w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/v1/session",
		`{"display_name":"ada","password":"correct horse"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d: %s", w.Code, w.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("login did not set the session cookie")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie attributes wrong: %+v", cookie)
	}
	if cookie.Secure {
		t.Fatal("cookie must not be Secure in development")
	}

	// Whoami via the cookie.
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.AddCookie(cookie)
	wr := httptest.NewRecorder()
	env.handler.ServeHTTP(wr, req)
	if wr.Code != http.StatusOK {
		t.Fatalf("whoami: status %d", wr.Code)
	}
	var who struct {
		ID        string `json:"id"`
		Role      string `json:"role"`
		Anonymous bool   `json:"anonymous"`
	}
	decodeBody(t, wr, &who)
	if who.ID != created.ID || who.Role != "user" || who.Anonymous {
		t.Fatalf("unexpected whoami: %+v", who)
	}

	// Logout clears the cookie.
	req = httptest.NewRequest(http.MethodDelete, "/v1/session", nil)
	req.AddCookie(cookie)
	wr = httptest.NewRecorder()
	env.handler.ServeHTTP(wr, req)
	if wr.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d", wr.Code)
	}
	for _, c := range wr.Result().Cookies() {
		if c.Name == session.CookieName && c.MaxAge >= 0 {
			t.Fatalf("logout cookie not expired: %+v", c)
		}
	}
}

func TestLoginFailureIs401(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada", identity.RoleUser)

	w := env.do(t, http.MethodPost, "/v1/session",
		`{"display_name":"ada","password":"wrong horse"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &body)
	if body.Error != "authentication required" {
		t.Fatalf("error = %q", body.Error)
	}

	_, total, err := env.audits.Find(context.Background(),
		audit.Query{Action: "session.login.failed", Page: 1, Limit: 10})
	if err != nil || total != 1 {
		t.Fatalf("failure audit: total=%d err=%v", total, err)
	}
}

func TestWhoamiAnonymous(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/v1/session", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var who struct {
		Role      string `json:"role"`
		Anonymous bool   `json:"anonymous"`
	}
	decodeBody(t, w, &who)
	if who.Role != "guest" || !who.Anonymous {
		t.Fatalf("unexpected whoami: %+v", who)
	}
}

func TestMessagesQuotaFlow(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.addUser(t, "ada", identity.RoleUser)

	body := `{"text":"hello"}`
	for i := 1; i <= 3; i++ {
		w := env.do(t, http.MethodPost, "/v1/messages", body, token)
		if w.Code != http.StatusCreated {
			t.Fatalf("message %d: status %d: %s", i, w.Code, w.Body.String())
		}
		if got := w.Header().Get("X-Quota-Limit"); got != "3" {
			t.Fatalf("message %d: X-Quota-Limit = %q", i, got)
		}
	}

	w := env.do(t, http.MethodPost, "/v1/messages", body, token)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit: status %d, want 429", w.Code)
	}
	var denied struct {
		Allowed   bool `json:"allowed"`
		Remaining int  `json:"remaining"`
		Limit     int  `json:"limit"`
	}
	decodeBody(t, w, &denied)
	if denied.Allowed || denied.Remaining != 0 || denied.Limit != 3 {
		t.Fatalf("unexpected denial body: %+v", denied)
	}
	if got := w.Header().Get("X-Quota-Remaining"); got != "0" {
		t.Fatalf("X-Quota-Remaining = %q", got)
	}
}

func TestMessagesGuestUsesSourceAddress(t *testing.T) {
	env := newTestEnv(t)
	body := `{"text":"hello"}`

	// Guest limit is 2 in the test config.
	for i := 1; i <= 2; i++ {
		w := env.do(t, http.MethodPost, "/v1/messages", body, "")
		if w.Code != http.StatusCreated {
			t.Fatalf("guest message %d: status %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodPost, "/v1/messages", body, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("guest over limit: status %d, want 429", w.Code)
	}

	// A different source address has its own allowance.
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	wr := httptest.NewRecorder()
	env.handler.ServeHTTP(wr, req)
	if wr.Code != http.StatusCreated {
		t.Fatalf("second address: status %d", wr.Code)
	}
}

func TestMessagesAdminUnlimited(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.addUser(t, "root", identity.RoleAdmin)

	for i := 1; i <= 10; i++ {
		w := env.do(t, http.MethodPost, "/v1/messages", `{"text":"hi"}`, admin)
		if w.Code != http.StatusCreated {
			t.Fatalf("admin message %d: status %d", i, w.Code)
		}
		if w.Header().Get("X-Quota-Limit") != "" {
			t.Fatal("unlimited responses must not carry quota headers")
		}
	}
}

func TestMessagesValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/messages", `{"text":"   "}`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank text: status %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/v1/messages", "", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("no body: status %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/v1/messages", "", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: status %d", w.Code)
	}
}

func TestAdminRoleUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.addUser(t, "root", identity.RoleAdmin)
	target, _ := env.addUser(t, "ada", identity.RoleUser)

	w := env.do(t, http.MethodPatch, "/v1/admin/users/"+target.ID+"/role",
		`{"role":"premium"}`, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("role update: status %d: %s", w.Code, w.Body.String())
	}
	var updated struct {
		Role string `json:"role"`
	}
	decodeBody(t, w, &updated)
	if updated.Role != "premium" {
		t.Fatalf("role = %q", updated.Role)
	}

	w = env.do(t, http.MethodDelete, "/v1/admin/users/"+target.ID, "", admin)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d: %s", w.Code, w.Body.String())
	}
	if _, err := env.users.Find(context.Background(), target.ID); err == nil {
		t.Fatal("target still present after delete")
	}
}

func TestAdminSelfProtectionIs400(t *testing.T) {
	env := newTestEnv(t)
	adminUser, admin := env.addUser(t, "root", identity.RoleAdmin)

	w := env.do(t, http.MethodPatch, "/v1/admin/users/"+adminUser.ID+"/role",
		`{"role":"user"}`, admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self-demotion: status %d, want 400", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &body)
	if body.Error != "action not permitted on this account" {
		t.Fatalf("error = %q", body.Error)
	}

	w = env.do(t, http.MethodDelete, "/v1/admin/users/"+adminUser.ID, "", admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self-delete: status %d, want 400", w.Code)
	}
}

func TestAuditQueryAndPurge(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.addUser(t, "root", identity.RoleAdmin)

	// Generate some trail: one registration, one failed login.
	env.do(t, http.MethodPost, "/v1/users", `{"display_name":"ada","password":"correct horse"}`, "")
	env.do(t, http.MethodPost, "/v1/session", `{"display_name":"ada","password":"nope"}`, "")

	w := env.do(t, http.MethodGet, "/v1/admin/audit?severity=warning", "", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("query: status %d: %s", w.Code, w.Body.String())
	}
	var page struct {
		Events []struct {
			Action string `json:"action"`
		} `json:"events"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	decodeBody(t, w, &page)
	if page.Pagination.Total != 1 || page.Events[0].Action != "session.login.failed" {
		t.Fatalf("unexpected query result: %+v", page)
	}

	w = env.do(t, http.MethodGet, "/v1/admin/audit?severity=fatal", "", admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad severity: status %d", w.Code)
	}

	// Unscoped purge is refused.
	w = env.do(t, http.MethodPost, "/v1/admin/audit/purge", `{}`, admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unscoped purge: status %d, want 400", w.Code)
	}

	// Scoped purge deletes the info events only.
	w = env.do(t, http.MethodPost, "/v1/admin/audit/purge", `{"severity":"info"}`, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("purge: status %d: %s", w.Code, w.Body.String())
	}
	var purged struct {
		DeletedCount int64 `json:"deletedCount"`
	}
	decodeBody(t, w, &purged)
	if purged.DeletedCount < 1 {
		t.Fatalf("deletedCount = %d", purged.DeletedCount)
	}

	// The warning-severity failed login survived.
	_, total, err := env.audits.Find(context.Background(),
		audit.Query{Action: "session.login.failed", Page: 1, Limit: 10})
	if err != nil || total != 1 {
		t.Fatalf("purge scope leaked: total=%d err=%v", total, err)
	}
}

func TestUnknownRouteIs404JSON(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/nope", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type %q", ct)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeBody(t, w, &body)
	if body.Status != "ok" || body.Version != "test" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
