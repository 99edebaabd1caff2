package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatgrid.org/internal/audit"
)

const defaultTimeout = 3 * time.Second

// Webhook posts event summaries to an external endpoint. Delivery is best
// effort end to end: the recorder swallows every error this returns.
type Webhook struct {
	url    string
	client *http.Client
}

var _ audit.Sink = (*Webhook)(nil)

// NewWebhook constructs a sink for the given URL. An empty URL yields a nil
// sink, which the recorder treats as "notifications disabled".
func NewWebhook(url string, timeout time.Duration) *Webhook {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type summary struct {
	Action        string `json:"action"`
	Severity      string `json:"severity"`
	ActorID       string `json:"actor_id,omitempty"`
	ActorName     string `json:"actor_name,omitempty"`
	TargetID      string `json:"target_id,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Timestamp     string `json:"timestamp"`
	SourceAddress string `json:"source_address,omitempty"`
}

// Send delivers one event summary.
func (w *Webhook) Send(ctx context.Context, e audit.Event) error {
	body, err := json.Marshal(summary{
		Action:        e.Action,
		Severity:      string(e.Severity),
		ActorID:       e.ActorID,
		ActorName:     e.ActorName,
		TargetID:      e.TargetID,
		Detail:        e.Detail,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		SourceAddress: e.SourceAddress,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
