package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxRetries is the retry budget applied when the producer does not set one.
const DefaultMaxRetries = 3

// Kind identifies what a notification is about.
type Kind string

const (
	KindMessage     Kind = "message"
	KindCall        Kind = "call"
	KindRemoteWipe  Kind = "remote-wipe"
	KindKeyRotation Kind = "key-rotation"
)

type kindText struct {
	title string
	body  string
}

var kindTexts = map[Kind]kindText{
	KindMessage:     {title: "New Message", body: "You have received a new encrypted message"},
	KindCall:        {title: "Incoming Call", body: "You have an incoming encrypted call"},
	KindRemoteWipe:  {title: "Security Alert", body: "A remote wipe has been requested for this device"},
	KindKeyRotation: {title: "Security Update", body: "Your encryption keys are being rotated"},
}

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	_, ok := kindTexts[k]
	return ok
}

// Title returns the human-readable title shown for this kind, or "" for unknown kinds.
func (k Kind) Title() string { return kindTexts[k].title }

// Body returns the human-readable body shown for this kind, or "" for unknown kinds.
func (k Kind) Body() string { return kindTexts[k].body }

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrInvalidArgument, s)
	}
	return k, nil
}

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindMessage, KindCall, KindRemoteWipe, KindKeyRotation}
}

// Priority is forwarded to the gateway as metadata; it does not affect queue order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrInvalidArgument, s)
	}
	return pr, nil
}

// State is derived from SentAt and FailedAt; it is never stored.
type State string

const (
	StatePending State = "PENDING"
	StateSent    State = "SENT"
	StateFailed  State = "FAILED"
)

func (s State) String() string { return string(s) }

// NotificationEntry is one queued end-to-end-encrypted push notification.
type NotificationEntry struct {
	ID          string
	DeviceRef   string
	Kind        Kind
	Payload     []byte
	Priority    Priority
	CreatedAt   time.Time
	ScheduledAt time.Time
	SentAt      *time.Time
	FailedAt    *time.Time
	RetryCount  int
	MaxRetries  int
	// LastAttemptAt is the time of the most recent failed attempt. An entry is
	// re-armed for dispatch only once ScheduledAt moves past it.
	LastAttemptAt *time.Time
}

func (e *NotificationEntry) State() State {
	switch {
	case e.SentAt != nil:
		return StateSent
	case e.FailedAt != nil:
		return StateFailed
	default:
		return StatePending
	}
}

func (e *NotificationEntry) IsTerminal() bool {
	return e.State() != StatePending
}

// IsArmed reports whether the entry's current schedule has not been consumed
// by a failed attempt yet.
func (e *NotificationEntry) IsArmed() bool {
	return e.LastAttemptAt == nil || e.ScheduledAt.After(*e.LastAttemptAt)
}

// IsDue reports whether the entry may be dispatched at now.
func (e *NotificationEntry) IsDue(now time.Time) bool {
	return e.SentAt == nil &&
		e.FailedAt == nil &&
		e.RetryCount < e.MaxRetries &&
		!e.ScheduledAt.After(now) &&
		e.IsArmed()
}

// MarkSent records a successful delivery.
func (e *NotificationEntry) MarkSent(now time.Time) error {
	if e.IsTerminal() {
		return fmt.Errorf("%w: entry %s is already %s", ErrConflict, e.ID, e.State())
	}
	sentAt := now
	e.SentAt = &sentAt
	return nil
}

// MarkAttemptFailed consumes one unit of retry budget and reports whether the
// entry became terminal.
func (e *NotificationEntry) MarkAttemptFailed(now time.Time) (bool, error) {
	if e.IsTerminal() {
		return false, fmt.Errorf("%w: entry %s is already %s", ErrConflict, e.ID, e.State())
	}
	if e.RetryCount >= e.MaxRetries {
		return false, fmt.Errorf("%w: entry %s has no retry budget left", ErrValidation, e.ID)
	}

	attemptAt := now
	e.RetryCount++
	e.LastAttemptAt = &attemptAt
	if e.RetryCount >= e.MaxRetries {
		failedAt := now
		e.FailedAt = &failedAt
		return true, nil
	}
	return false, nil
}

func (e *NotificationEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: entry id is required", ErrValidation)
	}
	if strings.TrimSpace(e.DeviceRef) == "" {
		return fmt.Errorf("%w: device reference is required", ErrValidation)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, e.Kind)
	}
	if !e.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, e.Priority)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative (got %d)", ErrValidation, e.MaxRetries)
	}
	if e.RetryCount < 0 || e.RetryCount > e.MaxRetries {
		return fmt.Errorf("%w: retry count %d outside [0, %d]", ErrValidation, e.RetryCount, e.MaxRetries)
	}
	if e.SentAt != nil && e.FailedAt != nil {
		return fmt.Errorf("%w: entry cannot be both sent and failed", ErrValidation)
	}
	return nil
}
