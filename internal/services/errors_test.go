package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"

	"dramaforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "render", "image", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"render", "image", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient marker", services.Wrap(services.ErrTransient, "script", "generate", "rate limited", nil), true},
		{"timeout marker", services.Wrap(services.ErrTimeout, "", "", "", nil), true},
		{"validation marker", services.Wrap(services.ErrValidation, "parse", "", "empty input", nil), false},
		{"configuration wins over message", services.Wrap(services.ErrConfiguration, "", "", "network settings missing", nil), false},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"message fragment", errors.New("ETIMEDOUT while calling provider"), true},
		{"context cancelled", context.Canceled, false},
		{"plain", errors.New("bad prompt"), false},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestClassifyAndDetails(t *testing.T) {
	if class := services.Classify(context.Canceled); class != services.ClassCancelled {
		t.Fatalf("expected cancelled, got %s", class)
	}
	err := services.Wrap(services.ErrValidation, "parse", "input", "no chapters", nil)
	if class := services.Classify(err); class != services.ClassFatal {
		t.Fatalf("expected fatal, got %s", class)
	}
	details := services.Details(err)
	if details.Kind != services.ErrValidation.Error() {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if details.Message != "parse: input: no chapters" {
		t.Fatalf("unexpected message %q", details.Message)
	}
}
