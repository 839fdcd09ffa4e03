package push

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error classifies push delivery failures as transient or permanent.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := []string{"push error"}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether the next sweep or tick may succeed with the same send.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pushErr *Error
	if errors.As(err, &pushErr) {
		return pushErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
