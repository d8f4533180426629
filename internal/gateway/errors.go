package gateway

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
)

// Error is a failed gateway call. Transient failures leave the entry's retry
// budget in play; permanent ones are still counted but never expected to heal.
type Error struct {
	StatusCode int
	Body       string
	Message    string
	Transient  bool
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("gateway")
	if e.StatusCode > 0 {
		b.WriteString(" status ")
		b.WriteString(strconv.Itoa(e.StatusCode))
	}
	for _, s := range []string{strings.TrimSpace(e.Message), causeText(e.Cause)} {
		if s != "" {
			b.WriteString(": ")
			b.WriteString(s)
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsTransient reports whether repeating the call later could succeed.
// Deadlines and network timeouts count as transient; cancellation does not.
func IsTransient(err error) bool {
	var (
		gwErr  *Error
		netErr net.Error
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &gwErr):
		return gwErr.Transient
	case errors.As(err, &netErr):
		return netErr.Timeout()
	default:
		return false
	}
}
