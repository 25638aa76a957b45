package model

import "time"

// Outcomes of an external call.
const (
	OutcomePending = "pending"
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
)

// ParsedEmail is the audit record written after a reply body has been
// run through the extractor.
type ParsedEmail struct {
	MessageID string `json:"message_id,omitempty"`
	UID       uint32 `json:"uid,omitempty"`
	Subject   string `json:"subject,omitempty"`

	Event      DecisionEvent `json:"event"`
	HasComment bool          `json:"has_comment"`
}

// ExternalCall is the audit record of one call to the workflow API. It is
// written once before the request (OutcomePending) and again with the
// result under the same ID.
type ExternalCall struct {
	ID         string            `json:"id"`
	RequestID  string            `json:"request_id"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	StatusCode int               `json:"status_code"`
	Outcome    string            `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
	StartedAt  time.Time         `json:"started_at"`
}
