package generators

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dramaforge/internal/services"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	Wait       time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// RetryAfter exposes the server's Retry-After hint to the retry policy.
func (e *StatusError) RetryAfter() time.Duration { return e.Wait }

// classifyStatus tags a StatusError with the services marker that matches its
// status code.
func classifyStatus(stage string, err *StatusError) error {
	switch {
	case err.StatusCode == http.StatusRequestTimeout,
		err.StatusCode == http.StatusTooManyRequests,
		err.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, stage, err.Provider, "provider unavailable", err)
	case err.StatusCode == http.StatusUnauthorized, err.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, stage, err.Provider, "provider rejected credentials", err)
	default:
		return services.Wrap(services.ErrValidation, stage, err.Provider, "provider rejected request", err)
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}
