package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"dramaforge/internal/config"
	"dramaforge/internal/events"
	"dramaforge/internal/notifications"
	"dramaforge/internal/services"
)

type capture struct {
	mu       sync.Mutex
	requests []captured
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.requests = append(c.requests, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) all() []captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]captured(nil), c.requests...)
}

func TestNotifierIsNoopWithoutTopic(t *testing.T) {
	n := notifications.New(config.Notifications{WorkflowComplete: true}, nil)
	if n.Enabled() {
		t.Fatal("notifier enabled without a topic")
	}
	if err := n.Test(context.Background()); err != nil {
		t.Fatalf("Test: %v", err)
	}
	_ = n.Listener()(events.Event{Type: events.WorkflowComplete, ProjectID: "p"})
	n.Flush()
}

func TestListenerFormatsMilestones(t *testing.T) {
	tests := []struct {
		name           string
		event          events.Event
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:        "workflow complete",
			event:       events.Event{Type: events.WorkflowComplete, ProjectID: "harbor"},
			expectTitle: "Dramaforge - Complete",
			expectBody:  "✅ Project harbor finished",
			expectTags:  "dramaforge,workflow,completed",
		},
		{
			name:           "workflow fail",
			event:          events.Event{Type: events.WorkflowFail, ProjectID: "harbor", StageID: "script", Error: "no chapters"},
			expectTitle:    "Dramaforge - Failed",
			expectBody:     "❌ Project harbor failed at script: no chapters",
			expectTags:     "dramaforge,workflow,failed",
			expectPriority: "high",
		},
		{
			name:        "stage fail",
			event:       events.Event{Type: events.StageFail, ProjectID: "harbor", StageID: "image", Class: services.ClassFatal},
			expectTitle: "Dramaforge - Stage Failed",
			expectBody:  "Stage image of harbor failed (fatal): unknown",
			expectTags:  "dramaforge,stage,failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c capture
			srv := c.server(t)
			n := notifications.New(config.Notifications{
				NtfyTopic:        srv.URL,
				RequestTimeout:   5,
				WorkflowComplete: true,
				WorkflowFail:     true,
				StageFail:        true,
			}, nil)

			if err := n.Listener()(tc.event); err != nil {
				t.Fatalf("listener: %v", err)
			}
			n.Flush()

			got := c.all()
			if len(got) != 1 {
				t.Fatalf("requests = %d, want 1", len(got))
			}
			req := got[0]
			if req.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, req.title)
			}
			if req.body != tc.expectBody {
				t.Fatalf("expected body %q, got %q", tc.expectBody, req.body)
			}
			if req.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, req.tags)
			}
			if req.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, req.priority)
			}
		})
	}
}

func TestListenerHonorsDisabledFlags(t *testing.T) {
	var c capture
	srv := c.server(t)
	n := notifications.New(config.Notifications{NtfyTopic: srv.URL, WorkflowFail: true}, nil)
	listener := n.Listener()

	for _, evt := range []events.Event{
		{Type: events.WorkflowComplete, ProjectID: "p"},
		{Type: events.StageFail, ProjectID: "p", StageID: "voice"},
		{Type: events.StageProgress, ProjectID: "p", Progress: 50},
		{Type: events.WorkflowFail, ProjectID: "p", StageID: "voice", Error: "boom"},
	} {
		_ = listener(evt)
	}
	n.Flush()

	got := c.all()
	if len(got) != 1 || got[0].title != "Dramaforge - Failed" {
		t.Fatalf("unexpected requests %+v", got)
	}
}

func TestPublishReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer srv.Close()

	n := notifications.New(config.Notifications{NtfyTopic: srv.URL}, nil)
	if err := n.Test(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
