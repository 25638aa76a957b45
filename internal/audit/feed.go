package audit

import (
	"context"
	"sync"

	"github.com/nhle/approval-watcher/internal/model"
)

// Feed keeps the most recent finished external calls for display. Pending
// records are ignored.
type Feed struct {
	mu    sync.Mutex
	size  int
	calls []model.ExternalCall
}

// NewFeed creates a Feed holding at most size calls.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{size: size}
}

// EmailParsed implements Sink.
func (f *Feed) EmailParsed(context.Context, model.ParsedEmail) {}

// ExternalCall implements Sink.
func (f *Feed) ExternalCall(_ context.Context, call model.ExternalCall) {
	if call.Outcome == model.OutcomePending {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
	if len(f.calls) > f.size {
		f.calls = append(f.calls[:0:0], f.calls[len(f.calls)-f.size:]...)
	}
}

// Recent returns the held calls, newest first.
func (f *Feed) Recent() []model.ExternalCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.ExternalCall, len(f.calls))
	for i, c := range f.calls {
		out[len(f.calls)-1-i] = c
	}
	return out
}
