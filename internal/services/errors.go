package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled")
)

// Class is the coarse failure classification carried on stage failure events.
type Class string

const (
	ClassTransient Class = "transient"
	ClassFatal     Class = "fatal"
	ClassCancelled Class = "cancelled"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto the transient/fatal/cancelled taxonomy.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassCancelled
	case IsRetryable(err):
		return ClassTransient
	default:
		return ClassFatal
	}
}

// IsRetryable is the default retry classifier. Input and configuration errors
// are never retried; network and timeout failures are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ETIMEDOUT):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

var retryableFragments = []string{
	"network",
	"timeout",
	"econnrefused",
	"etimedout",
	"enotfound",
}

// ErrorDetails is the user-facing breakdown of a wrapped error.
type ErrorDetails struct {
	Kind    string
	Class   Class
	Message string
}

// Details extracts the marker label and a readable message from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Class: Classify(err), Message: strings.TrimSpace(err.Error())}
	for _, marker := range []error{ErrValidation, ErrConfiguration, ErrNotFound, ErrTimeout, ErrExternalTool, ErrCancelled, ErrTransient} {
		if errors.Is(err, marker) {
			details.Kind = marker.Error()
			details.Message = strings.TrimSpace(strings.TrimPrefix(details.Message, marker.Error()+":"))
			break
		}
	}
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
