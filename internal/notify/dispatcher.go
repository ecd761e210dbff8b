package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yadokani389/taiyaq/internal/models"
)

// Dispatcher delivers one notification to one target. Implementations are
// invoked by the notify worker, outside the registry's critical section;
// errors are counted and logged by the caller, never propagated further.
type Dispatcher interface {
	Dispatch(ctx context.Context, target models.NotifyTarget, orderID uint32, message string) error
}

// Router dispatches to a channel-specific dispatcher. Targets on a channel
// with no registered dispatcher are an error.
type Router struct {
	dispatchers map[models.NotifyChannel]Dispatcher
}

// NewRouter creates a router over the given per-channel dispatchers.
func NewRouter(dispatchers map[models.NotifyChannel]Dispatcher) *Router {
	return &Router{dispatchers: dispatchers}
}

func (r *Router) Dispatch(ctx context.Context, target models.NotifyTarget, orderID uint32, message string) error {
	d, ok := r.dispatchers[target.Channel]
	if !ok {
		return fmt.Errorf("no dispatcher for channel %q", target.Channel)
	}
	return d.Dispatch(ctx, target, orderID, message)
}

// DiscordNotifier posts messages to a Discord webhook. The target is the
// user id to mention.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a Discord webhook notifier.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *DiscordNotifier) Dispatch(ctx context.Context, target models.NotifyTarget, orderID uint32, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("<@%s> %s", target.Target, message),
	}
	if err := postJSON(ctx, n.client, n.webhookURL, nil, payload); err != nil {
		return fmt.Errorf("discord dispatch for order %d: %w", orderID, err)
	}
	return nil
}

// LineNotifier pushes messages through the LINE Messaging API. The target is
// the LINE user id.
type LineNotifier struct {
	channelToken string
	endpoint     string
	client       *http.Client
}

const linePushEndpoint = "https://api.line.me/v2/bot/message/push"

// NewLineNotifier creates a LINE push notifier.
func NewLineNotifier(channelToken string) *LineNotifier {
	return &LineNotifier{
		channelToken: channelToken,
		endpoint:     linePushEndpoint,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *LineNotifier) Dispatch(ctx context.Context, target models.NotifyTarget, orderID uint32, message string) error {
	payload := map[string]interface{}{
		"to": target.Target,
		"messages": []map[string]string{
			{"type": "text", "text": message},
		},
	}
	headers := map[string]string{
		"Authorization": "Bearer " + n.channelToken,
	}
	if err := postJSON(ctx, n.client, n.endpoint, headers, payload); err != nil {
		return fmt.Errorf("line dispatch for order %d: %w", orderID, err)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
