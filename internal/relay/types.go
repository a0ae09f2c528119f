package relay

import (
	"fmt"
	"time"
)

// BindingState marks whether a stored binding relays traffic.
type BindingState string

const (
	BindingActive  BindingState = "active"
	BindingStopped BindingState = "stopped"
)

// ChannelBinding is one configured source -> target relay pair. Immutable
// per relay run; updates replace the runtime binding.
type ChannelBinding struct {
	ID        string       `json:"id"`
	SourceID  int64        `json:"source_id"`
	TargetID  int64        `json:"target_id"`
	Owner     string       `json:"owner,omitempty"`
	State     BindingState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BindingStatus summarizes a binding's accumulated activity.
type BindingStatus struct {
	Binding          ChannelBinding `json:"binding"`
	TotalMatched     int64          `json:"total_matched"`
	ConfirmedCount   int64          `json:"confirmed_count"`
	UnconfirmedCount int64          `json:"unconfirmed_count"`
	LastActivityAt   *time.Time     `json:"last_activity_at,omitempty"`
}

// ActivityKind tags one audit entry in a binding's activity record.
type ActivityKind string

const (
	ActivityForwarded     ActivityKind = "forwarded"
	ActivityForwardedEdit ActivityKind = "forwarded_edit"
)

// ValidationError is a configuration failure surfaced to the operator with a
// remediation hint. Never fatal to the process.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Hint   string `json:"hint"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason, hint string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Hint: hint}
}
