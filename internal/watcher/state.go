// Package watcher supervises the mailbox connection: it reconnects with
// exponential backoff, pauses after repeated failures and checks liveness.
package watcher

import (
	"fmt"
	"time"
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is an input to the state machine.
type Event int

const (
	EventStart Event = iota
	EventCooldownElapsed
	EventUnreachable
	EventConnected
	EventError
	EventStreamEnd
	EventClosed
	EventLivenessFailed
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventCooldownElapsed:
		return "cooldown_elapsed"
	case EventUnreachable:
		return "unreachable"
	case EventConnected:
		return "connected"
	case EventError:
		return "error"
	case EventStreamEnd:
		return "stream_end"
	case EventClosed:
		return "closed"
	case EventLivenessFailed:
		return "liveness_failed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

func (e Event) isFailure() bool {
	switch e {
	case EventError, EventStreamEnd, EventClosed, EventLivenessFailed:
		return true
	}
	return false
}

// ActionKind tells the supervisor what to do after a transition.
type ActionKind int

const (
	ActionNone ActionKind = iota
	// ActionConnect starts a connection attempt now.
	ActionConnect
	// ActionRetry schedules a connection attempt after Delay.
	ActionRetry
	// ActionCooldown pauses reconnecting for Delay, then sends
	// EventCooldownElapsed.
	ActionCooldown
	// ActionReprobe schedules a reachability check after Delay without
	// using up a reconnect attempt.
	ActionReprobe
)

// Action is the side effect requested by a transition.
type Action struct {
	Kind  ActionKind
	Delay time.Duration
}

// Policy holds the reconnect tuning.
type Policy struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxAttempts      int
	Cooldown         time.Duration
	UnreachableRetry time.Duration
}

// DefaultPolicy returns the production reconnect settings.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:        15 * time.Second,
		MaxDelay:         60 * time.Second,
		MaxAttempts:      5,
		Cooldown:         5 * time.Minute,
		UnreachableRetry: 30 * time.Second,
	}
}

// Delay returns the backoff before reconnect attempt n (1-based):
// min(base * 2^(n-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Machine is the reconnect state machine. It performs no I/O and is not
// safe for concurrent use; the Supervisor serializes access.
type Machine struct {
	policy  Policy
	state   State
	attempt int
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine(p Policy) *Machine {
	return &Machine{policy: p, state: Disconnected}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Attempt returns the number of reconnect attempts since the last success.
func (m *Machine) Attempt() int { return m.attempt }

// Apply feeds ev into the machine and returns the action to perform.
func (m *Machine) Apply(ev Event) Action {
	switch {
	case ev == EventStart:
		if m.state == Disconnected || m.state == Degraded {
			m.state = Connecting
			return Action{Kind: ActionConnect}
		}

	case ev == EventCooldownElapsed:
		m.attempt = 0
		m.state = Connecting
		return Action{Kind: ActionConnect}

	case ev == EventUnreachable:
		if m.state == Connecting {
			m.state = Disconnected
			return Action{Kind: ActionReprobe, Delay: m.policy.UnreachableRetry}
		}

	case ev == EventConnected:
		if m.state == Connecting {
			m.state = Connected
			m.attempt = 0
		}

	case ev.isFailure():
		if m.state != Connecting && m.state != Connected {
			// A reconnect is already pending for this failure.
			return Action{}
		}
		if m.attempt >= m.policy.MaxAttempts {
			m.state = Disconnected
			return Action{Kind: ActionCooldown, Delay: m.policy.Cooldown}
		}
		m.attempt++
		m.state = Degraded
		return Action{Kind: ActionRetry, Delay: m.policy.Delay(m.attempt)}
	}

	return Action{}
}
