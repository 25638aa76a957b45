package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/approval-watcher/internal/audit"
	"github.com/nhle/approval-watcher/internal/forward"
	"github.com/nhle/approval-watcher/internal/logging"
	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/watcher"
)

type fakeForwarder struct {
	mu     sync.Mutex
	events []model.DecisionEvent
	err    error
}

func (f *fakeForwarder) Forward(_ context.Context, ev model.DecisionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeForwarder) calls() []model.DecisionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DecisionEvent(nil), f.events...)
}

func TestProcessForwardsDecision(t *testing.T) {
	fwd := &fakeForwarder{}
	rec := &audit.Recorder{}
	p := NewProcessor(fwd, rec, nil)

	res := p.Process(context.Background(), model.RawMessage{
		UID:      3,
		From:     "boss@example.com",
		TextBody: "id=REQ-1\napproved=true\nКомментарий: fine",
	})

	require.True(t, res.Forwarded)
	require.NoError(t, res.ForwardErr)
	require.Len(t, fwd.calls(), 1)

	ev := fwd.calls()[0]
	assert.Equal(t, "REQ-1", ev.RequestID)
	assert.Equal(t, "boss@example.com", ev.FromAddress)
	require.NotNil(t, ev.Approved)
	assert.True(t, *ev.Approved)
	assert.Equal(t, "fine", ev.Comment)

	parsed := rec.Parsed()
	require.Len(t, parsed, 1)
	assert.Equal(t, uint32(3), parsed[0].UID)
	assert.True(t, parsed[0].HasComment)
}

func TestProcessHTMLOnly(t *testing.T) {
	fwd := &fakeForwarder{}
	p := NewProcessor(fwd, nil, nil)

	res := p.Process(context.Background(), model.RawMessage{
		From:     "a@b",
		HTMLBody: "<html><body><p>id=9</p><p>approved=false</p></body></html>",
	})

	require.True(t, res.Forwarded)
	require.NotNil(t, res.Event.Approved)
	assert.False(t, *res.Event.Approved)
	assert.Equal(t, "9", res.Event.RequestID)
}

func TestProcessSkipsEmpty(t *testing.T) {
	fwd := &fakeForwarder{}
	rec := &audit.Recorder{}
	logger, observed := logging.NewTestLogger()
	p := NewProcessor(fwd, rec, logger)

	res := p.Process(context.Background(), model.RawMessage{TextBody: "  \n", HTMLBody: ""})

	assert.True(t, res.Empty)
	assert.Empty(t, fwd.calls())
	assert.Empty(t, rec.Parsed())
	assert.Equal(t, 1, observed.FilterMessage("email content is empty, skipping").Len())
}

func TestProcessWithoutIDNotForwarded(t *testing.T) {
	fwd := &fakeForwarder{}
	rec := &audit.Recorder{}
	p := NewProcessor(fwd, rec, nil)

	res := p.Process(context.Background(), model.RawMessage{TextBody: "approved=true, thanks"})

	assert.False(t, res.Forwarded)
	assert.Empty(t, fwd.calls())
	require.Len(t, rec.Parsed(), 1, "the parse is audited even without an id")
	assert.Equal(t, model.UnknownSender, rec.Parsed()[0].Event.FromAddress)
}

func TestProcessForwardErrorIsContained(t *testing.T) {
	fwd := &fakeForwarder{err: errors.New("boom")}
	p := NewProcessor(fwd, nil, nil)

	var res Result
	assert.NotPanics(t, func() {
		res = p.Process(context.Background(), model.RawMessage{TextBody: "id=1"})
	})
	assert.False(t, res.Forwarded)
	assert.EqualError(t, res.ForwardErr, "boom")
}

func TestPoolProcessesAndDrains(t *testing.T) {
	fwd := &fakeForwarder{}
	pool := NewPool(context.Background(), NewProcessor(fwd, nil, nil), 3, 2, nil)

	for i := range 10 {
		require.True(t, pool.Submit(model.RawMessage{UID: uint32(i), TextBody: "id=x"}))
	}
	pool.Close()

	assert.Len(t, fwd.calls(), 10)
	assert.False(t, pool.Submit(model.RawMessage{TextBody: "id=late"}), "closed pool rejects")
	pool.Close()
}

func TestPoolSubmitAfterCancel(t *testing.T) {
	block := make(chan struct{})
	fwd := &blockingForwarder{release: block}
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, NewProcessor(fwd, nil, nil), 1, 0, nil)

	require.True(t, pool.Submit(model.RawMessage{TextBody: "id=1"}))
	cancel()
	assert.False(t, pool.Submit(model.RawMessage{TextBody: "id=2"}))

	close(block)
	pool.Close()
	assert.Equal(t, int32(1), fwd.n.Load())
}

type blockingForwarder struct {
	release chan struct{}
	n       atomic.Int32
}

func (f *blockingForwarder) Forward(context.Context, model.DecisionEvent) error {
	<-f.release
	f.n.Add(1)
	return nil
}

// stubSession stays connected until closed.
type stubSession struct {
	done      chan struct{}
	once      sync.Once
	onMessage func(model.RawMessage) bool
}

func (s *stubSession) Running() bool         { return true }
func (s *stubSession) Done() <-chan struct{} { return s.done }
func (s *stubSession) Err() error            { return nil }
func (s *stubSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type stubDialer struct {
	sessions chan *stubSession
}

func (d *stubDialer) Probe(context.Context) error { return nil }

func (d *stubDialer) Dial(_ context.Context, onMessage func(model.RawMessage) bool) (watcher.Session, error) {
	s := &stubSession{done: make(chan struct{}), onMessage: onMessage}
	d.sessions <- s
	return s, nil
}

func TestDownstreamFailureLeavesConnectionAlone(t *testing.T) {
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "down"})
	}))
	defer api.Close()

	rec := &audit.Recorder{}
	client := forward.NewClient(api.URL, "tok", time.Second, rec, nil)
	pool := NewPool(context.Background(), NewProcessor(client, rec, nil), 2, 8, nil)

	dialer := &stubDialer{sessions: make(chan *stubSession, 1)}
	sup := watcher.NewSupervisor(dialer, pool.Submit, watcher.Options{
		Policy: watcher.Policy{
			BaseDelay:   time.Hour,
			MaxDelay:    time.Hour,
			MaxAttempts: 5,
			Cooldown:    time.Hour,
		},
		LivenessInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	var sess *stubSession
	select {
	case sess = <-dialer.sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never dialed")
	}
	require.Eventually(t, func() bool {
		return sup.Status().State == watcher.Connected
	}, 2*time.Second, 5*time.Millisecond)

	for range 3 {
		assert.True(t, sess.onMessage(model.RawMessage{From: "a@b", TextBody: "id=7 approved=true"}))
	}
	pool.Close()

	assert.Equal(t, int32(3), hits.Load())
	st := sup.Status()
	assert.Equal(t, watcher.Connected, st.State)
	assert.Equal(t, 0, st.Attempt)
	assert.Empty(t, st.LastError)

	calls := rec.Calls()
	require.Len(t, calls, 6)
	assert.Equal(t, model.OutcomeFailed, calls[len(calls)-1].Outcome)

	cancel()
	require.NoError(t, <-done)
}
