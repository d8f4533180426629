package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditOutcome is the result recorded for one delivery attempt.
type AuditOutcome string

const (
	AuditOutcomeSuccess        AuditOutcome = "success"
	AuditOutcomeFailure        AuditOutcome = "failure"
	AuditOutcomeRetryScheduled AuditOutcome = "retry-scheduled"
)

func (o AuditOutcome) String() string { return string(o) }

func (o AuditOutcome) IsValid() bool {
	switch o {
	case AuditOutcomeSuccess, AuditOutcomeFailure, AuditOutcomeRetryScheduled:
		return true
	}
	return false
}

// AuditRecord is an append-only trace of one delivery attempt.
type AuditRecord struct {
	ID            string
	EntryID       string
	Outcome       AuditOutcome
	GatewayDetail json.RawMessage
	RecordedAt    time.Time
}

func (r *AuditRecord) Validate() error {
	if strings.TrimSpace(r.EntryID) == "" {
		return fmt.Errorf("%w: audit entry id is required", ErrValidation)
	}
	if !r.Outcome.IsValid() {
		return fmt.Errorf("%w: invalid audit outcome %q", ErrValidation, r.Outcome)
	}
	if len(r.GatewayDetail) > 0 && !json.Valid(r.GatewayDetail) {
		return fmt.Errorf("%w: gateway detail must be valid JSON", ErrValidation)
	}
	return nil
}
