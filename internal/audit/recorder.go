package audit

import (
	"context"
	"sync"

	"github.com/nhle/approval-watcher/internal/model"
)

// Recorder keeps records in memory. It backs tests and the extract CLI.
type Recorder struct {
	mu     sync.Mutex
	parsed []model.ParsedEmail
	calls  []model.ExternalCall
}

// EmailParsed implements Sink.
func (r *Recorder) EmailParsed(_ context.Context, rec model.ParsedEmail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsed = append(r.parsed, rec)
}

// ExternalCall implements Sink.
func (r *Recorder) ExternalCall(_ context.Context, call model.ExternalCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

// Parsed returns a copy of the parsed-email records.
func (r *Recorder) Parsed() []model.ParsedEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ParsedEmail(nil), r.parsed...)
}

// Calls returns a copy of the external call records.
func (r *Recorder) Calls() []model.ExternalCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ExternalCall(nil), r.calls...)
}
