package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidrelay/internal/config"
)

const userAgent = "vidrelay/1.0"

// CycleSummary carries the counts reported at the end of a sync cycle.
type CycleSummary struct {
	Uploaded   int
	Downloaded int
	Failed     int
	Duration   time.Duration
}

// Service defines the notifications the sync engine emits.
type Service interface {
	NotifyDownloaded(ctx context.Context, filename, output string) error
	NotifyCycleCompleted(ctx context.Context, summary CycleSummary) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
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

func (n *ntfyService) NotifyDownloaded(ctx context.Context, filename, output string) error {
	message := fmt.Sprintf("Converted file ready: %s", strings.TrimSpace(filename))
	if output = strings.TrimSpace(output); output != "" {
		message += "\nSaved to: " + output
	}
	return n.send(ctx, payload{
		title:   "vidrelay - Download Complete",
		message: message,
		tags:    []string{"vidrelay", "download", "completed"},
	})
}

func (n *ntfyService) NotifyCycleCompleted(ctx context.Context, summary CycleSummary) error {
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "vidrelay - Cycle Complete"
	message := fmt.Sprintf("Uploaded %d, downloaded %d in %s", summary.Uploaded, summary.Downloaded, duration)
	priority := ""
	if summary.Failed > 0 {
		title = "vidrelay - Cycle Complete (with errors)"
		message = fmt.Sprintf("Uploaded %d, downloaded %d, failed %d in %s", summary.Uploaded, summary.Downloaded, summary.Failed, duration)
		priority = "high"
	}
	return n.send(ctx, payload{
		title:    title,
		message:  message,
		tags:     []string{"vidrelay", "cycle", "completed"},
		priority: priority,
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	return n.send(ctx, payload{
		title:    "vidrelay - Error",
		message:  builder.String(),
		tags:     []string{"vidrelay", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "vidrelay - Test",
		message:  "Notification system test",
		tags:     []string{"vidrelay", "test"},
		priority: "low",
	})
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

func (noopService) NotifyDownloaded(context.Context, string, string) error   { return nil }
func (noopService) NotifyCycleCompleted(context.Context, CycleSummary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error         { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
