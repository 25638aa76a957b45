package model

// UnknownSender is used when an inbound message carries no From address.
const UnknownSender = "unknown"

// InboxCredentials identifies the watched mailbox account. It is built once
// from configuration and never mutated.
type InboxCredentials struct {
	Host               string
	Port               string
	Username           string
	Password           Secret
	TLS                bool
	InsecureSkipVerify bool
	Mailbox            string
}

// Addr returns host:port.
func (c InboxCredentials) Addr() string {
	return c.Host + ":" + c.Port
}

// RawMessage is an inbound message as delivered by the mailbox session.
// Usually exactly one of TextBody and HTMLBody is set; both empty is a
// valid message that produces nothing.
type RawMessage struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	TextBody  string
	HTMLBody  string
}

// Sender returns the From address, or UnknownSender when absent.
func (m RawMessage) Sender() string {
	if m.From == "" {
		return UnknownSender
	}
	return m.From
}

// DecisionEvent is the structured reply forwarded to the workflow API.
type DecisionEvent struct {
	// RequestID correlates to the outgoing approval request. Events without
	// one are never forwarded.
	RequestID string `json:"id"`

	// Approved is nil when the reply did not state a decision. The
	// downstream API decides what a nil decision means.
	Approved *bool `json:"approved"`

	// Comment is free text; empty when none was given.
	Comment string `json:"comment"`

	FromAddress string `json:"from"`
}

// Forwardable reports whether the event carries a request id.
func (e DecisionEvent) Forwardable() bool {
	return e.RequestID != ""
}
