package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/quota"
	"chatgrid.org/internal/session"
)

type postMessageRequest struct {
	Text string `json:"text"`
}

// handleMessages is the usage-metered route. Guests get limited service
// keyed by source address; authenticated identities are keyed by id. The
// quota is consumed before the collaborator runs, so a rejected request
// never performs the metered action.
func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	id, _ := session.IdentityFromContext(r.Context())
	meta := audit.MetaFromContext(r.Context())

	limit := a.cfg.UserDailyLimit
	if id.IsAnonymous() {
		limit = a.cfg.GuestDailyLimit
	}
	key := quota.Key(id, meta.SourceAddress)

	res, err := a.quota.CheckAndConsume(r.Context(), id, key, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	setQuotaHeaders(w, res)
	if !res.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     "daily message allowance exhausted",
			"allowed":   res.Allowed,
			"remaining": res.Remaining,
			"limit":     res.Limit,
		})
		return
	}

	msg, err := a.chat.Post(r.Context(), id, req.Text)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   msg,
		"remaining": res.Remaining,
		"limit":     res.Limit,
	})
}

func setQuotaHeaders(w http.ResponseWriter, res quota.Result) {
	if res.Limit == quota.Unlimited {
		return
	}
	w.Header().Set("X-Quota-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(res.Remaining))
}
