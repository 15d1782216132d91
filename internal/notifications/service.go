package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"dramaforge/internal/config"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
)

const userAgent = "Dramaforge-Go/0.1.0"

// Message is one ntfy push.
type Message struct {
	Title    string
	Body     string
	Tags     []string
	Priority string
}

// Notifier publishes workflow milestones to an ntfy topic.
type Notifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger

	workflowComplete bool
	workflowFail     bool
	stageFail        bool

	wg sync.WaitGroup
}

// New builds a notifier from cfg. Enabled reports false when no topic is set.
func New(cfg config.Notifications, logger *slog.Logger) *Notifier {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		endpoint:         strings.TrimSpace(cfg.NtfyTopic),
		client:           &http.Client{Timeout: timeout},
		timeout:          timeout,
		logger:           logging.NewComponentLogger(logger, "notifications"),
		workflowComplete: cfg.WorkflowComplete,
		workflowFail:     cfg.WorkflowFail,
		stageFail:        cfg.StageFail,
	}
}

// Enabled reports whether a topic is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// Listener returns a bus listener that forwards selected events.
func (n *Notifier) Listener() events.Listener {
	return func(evt events.Event) error {
		msg, ok := n.messageFor(evt)
		if !ok {
			return nil
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := n.Publish(ctx, msg); err != nil {
				logging.WarnWithContext(n.logger, "notification delivery failed", "notification_failed",
					logging.String(logging.FieldProjectID, evt.ProjectID),
					logging.String("event", string(evt.Type)),
					logging.String(logging.FieldErrorHint, "check ntfy_topic and network reachability"),
					logging.String(logging.FieldImpact, "the milestone was not pushed"),
					logging.Error(err))
			}
		}()
		return nil
	}
}

// Flush waits for in-flight deliveries.
func (n *Notifier) Flush() {
	n.wg.Wait()
}

func (n *Notifier) messageFor(evt events.Event) (Message, bool) {
	if !n.Enabled() {
		return Message{}, false
	}
	switch evt.Type {
	case events.WorkflowComplete:
		if !n.workflowComplete {
			return Message{}, false
		}
		return Message{
			Title: "Dramaforge - Complete",
			Body:  fmt.Sprintf("✅ Project %s finished", evt.ProjectID),
			Tags:  []string{"dramaforge", "workflow", "completed"},
		}, true
	case events.WorkflowFail:
		if !n.workflowFail {
			return Message{}, false
		}
		return Message{
			Title:    "Dramaforge - Failed",
			Body:     fmt.Sprintf("❌ Project %s failed at %s: %s", evt.ProjectID, stageLabel(evt), errorText(evt)),
			Tags:     []string{"dramaforge", "workflow", "failed"},
			Priority: "high",
		}, true
	case events.StageFail:
		if !n.stageFail {
			return Message{}, false
		}
		return Message{
			Title: "Dramaforge - Stage Failed",
			Body:  fmt.Sprintf("Stage %s of %s failed (%s): %s", stageLabel(evt), evt.ProjectID, evt.Class, errorText(evt)),
			Tags:  []string{"dramaforge", "stage", "failed"},
		}, true
	default:
		return Message{}, false
	}
}

func stageLabel(evt events.Event) string {
	if evt.StageID == "" {
		return "unknown stage"
	}
	return evt.StageID
}

func errorText(evt events.Event) string {
	if text := strings.TrimSpace(evt.Error); text != "" {
		return text
	}
	return "unknown"
}

// Publish posts msg to the topic. It is a no-op when no topic is configured.
func (n *Notifier) Publish(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	if msg.Priority != "" && msg.Priority != "default" {
		req.Header.Set("Priority", msg.Priority)
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

// Test sends a low-priority test message.
func (n *Notifier) Test(ctx context.Context) error {
	return n.Publish(ctx, Message{
		Title:    "Dramaforge - Test",
		Body:     "🧪 Notification system test",
		Tags:     []string{"dramaforge", "test"},
		Priority: "low",
	})
}
