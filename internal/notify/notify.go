// Package notify delivers operator notifications through ntfy.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/man-iishkr/RupX/internal/config"
)

const userAgent = "RupX/1.0"

// Notifier is the notification surface used by the recognition engine.
type Notifier interface {
	UnknownFace(ctx context.Context, projectID, sessionID, trackKey string) error
	SessionSuperseded(ctx context.Context, projectID, oldSessionID, newSessionID string) error
	TrainingCompleted(ctx context.Context, projectID string, identities int, version uint64) error
}

// New builds a notifier backed by ntfy when a topic is configured, and a
// noop notifier otherwise.
func New(cfg config.NotifyConfig) Notifier {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return Noop{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyNotifier{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyNotifier struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyNotifier) UnknownFace(ctx context.Context, projectID, sessionID, trackKey string) error {
	return n.send(ctx, payload{
		title:    "RupX - Unknown Face",
		message:  fmt.Sprintf("Unrecognized face %s keeps appearing in project %s (session %s)", trackKey, projectID, sessionID),
		tags:     []string{"rupx", "unknown", "face"},
		priority: "high",
	})
}

func (n *ntfyNotifier) SessionSuperseded(ctx context.Context, projectID, oldSessionID, newSessionID string) error {
	return n.send(ctx, payload{
		title:   "RupX - Session Replaced",
		message: fmt.Sprintf("Recognition session %s of project %s was replaced by %s", oldSessionID, projectID, newSessionID),
		tags:    []string{"rupx", "session"},
	})
}

func (n *ntfyNotifier) TrainingCompleted(ctx context.Context, projectID string, identities int, version uint64) error {
	return n.send(ctx, payload{
		title:   "RupX - Training Complete",
		message: fmt.Sprintf("Project %s trained: %d identities (version %d)", projectID, identities, version),
		tags:    []string{"rupx", "training", "completed"},
	})
}

func (n *ntfyNotifier) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Noop discards every notification.
type Noop struct{}

func (Noop) UnknownFace(context.Context, string, string, string) error       { return nil }
func (Noop) SessionSuperseded(context.Context, string, string, string) error { return nil }
func (Noop) TrainingCompleted(context.Context, string, int, uint64) error    { return nil }
