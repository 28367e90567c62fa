package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskmill/internal/config"
	"taskmill/internal/task"
)

const userAgent = "Taskmill-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
// It satisfies the event dispatcher's Notifier interface.
type Service interface {
	NotifyReviewRequested(ctx context.Context, from task.User, reviewerID int64, t *task.Task) error
	NotifyReviewStatusChanged(ctx context.Context, actor task.User, toUserID int64, t *task.Task, status task.ReviewStatus) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
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

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyReviewRequested(ctx context.Context, from task.User, reviewerID int64, t *task.Task) error {
	data := payload{
		title:   "Taskmill - Review Requested",
		message: fmt.Sprintf("%s requested a fresh review of task %d (%s); reviewer %d previously decided it", from.Name, t.ID, t.Name, reviewerID),
		tags:    []string{"taskmill", "review", "requested"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReviewStatusChanged(ctx context.Context, actor task.User, toUserID int64, t *task.Task, status task.ReviewStatus) error {
	data := payload{
		title:   "Taskmill - Review Decided",
		message: fmt.Sprintf("%s marked task %d (%s) as %s; notifying user %d", actor.Name, t.ID, t.Name, status, toUserID),
		tags:    []string{"taskmill", "review", string(status)},
	}
	if status == task.ReviewRejected {
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Taskmill - Test",
		message:  "Notification system test",
		tags:     []string{"taskmill", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
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

type noopService struct{}

func (noopService) NotifyReviewRequested(context.Context, task.User, int64, *task.Task) error {
	return nil
}
func (noopService) NotifyReviewStatusChanged(context.Context, task.User, int64, *task.Task, task.ReviewStatus) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
