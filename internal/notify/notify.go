// Package notify delivers completion webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/soldocs/soldocs/internal/types"
)

const (
	// EventDocCompleted is the only event currently emitted.
	EventDocCompleted = "doc.completed"

	requestTimeout    = 10 * time.Second
	overviewLimit     = 500
	instructionMarker = "###"
)

// Payload is the webhook wire body.
type Payload struct {
	Event         string               `json:"event"`
	ProgramID     string               `json:"programId"`
	Name          string               `json:"name"`
	Timestamp     time.Time            `json:"timestamp"`
	Documentation DocumentationSummary `json:"documentation"`
}

// DocumentationSummary is the condensed Documentation carried in the
// payload.
type DocumentationSummary struct {
	Overview         string    `json:"overview"`
	InstructionCount int       `json:"instructionCount"`
	IDLHash          string    `json:"idlHash"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// WebhookNotifier POSTs Payloads to a fixed URL. A nil or empty URL
// notifier is a no-op.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// New creates a WebhookNotifier. url may be empty, which disables
// delivery.
func New(url string, log *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
		log:    log,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *WebhookNotifier) Enabled() bool { return n != nil && n.url != "" }

// NotifyCompleted POSTs a doc.completed event for d. Non-2xx responses
// and transport errors are returned to the caller, who decides whether
// they matter.
func (n *WebhookNotifier) NotifyCompleted(ctx context.Context, d *types.Documentation) error {
	if !n.Enabled() {
		return nil
	}

	payload := Payload{
		Event:         EventDocCompleted,
		ProgramID:     d.ProgramID,
		Name:          d.Name,
		Timestamp:     time.Now().UTC(),
		Documentation: summarize(d),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook returned HTTP %d", resp.StatusCode)
	}
	n.log.Debug("webhook delivered", "url", n.url, "program", d.ProgramID)
	return nil
}

func summarize(d *types.Documentation) DocumentationSummary {
	overview := types.TruncateUTF8(d.Overview, overviewLimit)
	count := strings.Count(d.Instructions, instructionMarker)
	if count == 0 {
		count = 1
	}
	return DocumentationSummary{
		Overview:         overview,
		InstructionCount: count,
		IDLHash:          d.IDLHash,
		GeneratedAt:      d.GeneratedAt,
	}
}
