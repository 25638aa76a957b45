package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/model"
)

// ErrStreamEnded marks a session the server hung up on.
var ErrStreamEnded = errors.New("mailbox stream ended")

// ErrLivenessFailed is recorded when the periodic check finds the session
// no longer running.
var ErrLivenessFailed = errors.New("connection is not active")

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("supervisor already running")

// Session is a live mailbox connection.
type Session interface {
	// Running reports whether the underlying connection is still up.
	Running() bool
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
	// Err explains why the session ended: nil for a plain close,
	// ErrStreamEnded (wrapped) for a server hang-up, anything else for a
	// protocol or network error.
	Err() error
	Close() error
}

// Dialer opens mailbox sessions.
type Dialer interface {
	// Probe checks raw reachability of the server.
	Probe(ctx context.Context) error
	// Dial connects and starts delivering new messages to onMessage. A
	// message for which onMessage returns false must stay unseen.
	Dial(ctx context.Context, onMessage func(model.RawMessage) bool) (Session, error)
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a Supervisor.
type Options struct {
	Policy           Policy
	LivenessInterval time.Duration
	ProbeTimeout     time.Duration

	// AfterFunc replaces time.AfterFunc, for tests.
	AfterFunc AfterFunc
	Logger    *zap.Logger
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State          State     `json:"state"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
	LastError      string    `json:"last_error,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitzero"`
	NextRetry      time.Time `json:"next_retry,omitzero"`
}

// Supervisor keeps one mailbox session alive. All state changes go through
// the Machine under mu; callbacks from sessions that have been replaced are
// dropped by comparing generations.
type Supervisor struct {
	dialer    Dialer
	onMessage func(model.RawMessage) bool
	opts      Options
	logger    *zap.Logger

	// gen identifies the current connection attempt. It is read without mu
	// on the message path.
	gen atomic.Uint64
	wg  sync.WaitGroup

	mu             sync.Mutex
	ctx            context.Context
	started        bool
	stopped        bool
	machine        *Machine
	session        Session
	pending        Timer
	liveness       Timer
	lastErr        error
	connectedSince time.Time
	nextRetry      time.Time

	// released is closed once the last torn-down session has finished
	// closing. A new dial waits for it.
	released <-chan struct{}
}

// NewSupervisor creates a supervisor. onMessage is called for every new
// message from the current session, on the session's goroutine, and
// reports whether the message was accepted.
func NewSupervisor(dialer Dialer, onMessage func(model.RawMessage) bool, opts Options) *Supervisor {
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = 2 * time.Minute
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Policy.MaxAttempts <= 0 || opts.Policy.BaseDelay <= 0 {
		opts.Policy = DefaultPolicy()
	}
	if onMessage == nil {
		onMessage = func(model.RawMessage) bool { return true }
	}

	s := &Supervisor{
		dialer:    dialer,
		onMessage: onMessage,
		opts:      opts,
		logger:    opts.Logger.Named("watcher"),
		machine:   NewMachine(opts.Policy),
		ctx:       context.Background(),
	}
	observeState(Disconnected)
	return s
}

// Run starts the supervisor and blocks until ctx is cancelled. On return
// the session is closed and no timers remain.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = true
	s.ctx = ctx
	s.applyLocked(EventStart, nil)
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.stopped = true
	s.gen.Add(1)
	s.stopTimersLocked()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			s.logger.Warn("closing session", zap.Error(err))
		}
	}
	s.wg.Wait()
	s.logger.Info("watcher stopped")
	return nil
}

// Reconnect drops the current session and connects again immediately with
// a fresh attempt counter.
func (s *Supervisor) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return
	}
	s.logger.Info("manual reconnect requested")
	s.stopTimersLocked()
	s.teardownLocked()
	// A manual reconnect behaves like the end of a cooldown.
	s.applyLocked(EventCooldownElapsed, nil)
}

// Status returns a snapshot of the supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:          s.machine.State(),
		Attempt:        s.machine.Attempt(),
		MaxAttempts:    s.opts.Policy.MaxAttempts,
		ConnectedSince: s.connectedSince,
		NextRetry:      s.nextRetry,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// handle applies ev if it belongs to the current generation.
func (s *Supervisor) handle(gen uint64, ev Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.gen.Load() {
		s.logger.Debug("dropping stale event", zap.Stringer("event", ev))
		return
	}
	s.applyLocked(ev, err)
}

func (s *Supervisor) applyLocked(ev Event, err error) {
	prev := s.machine.State()
	act := s.machine.Apply(ev)
	cur := s.machine.State()

	if err != nil && (act.Kind != ActionNone || prev != cur) {
		s.lastErr = err
	}
	if prev != cur {
		s.logger.Debug("state transition",
			zap.Stringer("event", ev),
			zap.Stringer("from", prev),
			zap.Stringer("to", cur),
		)
		observeState(cur)
	}

	switch ev {
	case EventConnected:
		if cur == Connected {
			s.connectedSince = time.Now()
			s.nextRetry = time.Time{}
			s.lastErr = nil
			s.logger.Info("connected to IMAP server")
			s.armLivenessLocked(s.gen.Load())
		}
	case EventUnreachable:
		s.logger.Error("IMAP server is unreachable, check network or server status",
			zap.Error(err),
			zap.Duration("retry_in", act.Delay),
		)
	}

	switch act.Kind {
	case ActionConnect:
		s.startLocked()

	case ActionRetry:
		s.teardownLocked()
		reconnectsTotal.Inc()
		s.logger.Warn("reconnecting",
			zap.Stringer("cause", ev),
			zap.Error(err),
			zap.Int("attempt", s.machine.Attempt()),
			zap.Int("max_attempts", s.opts.Policy.MaxAttempts),
			zap.Duration("retry_in", act.Delay),
		)
		s.scheduleLocked(act.Delay, EventStart)

	case ActionCooldown:
		s.teardownLocked()
		s.logger.Error("maximum reconnect attempts reached, pausing reconnect attempts",
			zap.Stringer("cause", ev),
			zap.Error(err),
			zap.Duration("cooldown", act.Delay),
		)
		s.scheduleLocked(act.Delay, EventCooldownElapsed)

	case ActionReprobe:
		s.scheduleLocked(act.Delay, EventStart)
	}
}

// startLocked begins a connection attempt in the background.
func (s *Supervisor) startLocked() {
	if s.stopped {
		return
	}
	s.teardownLocked()
	gen := s.gen.Add(1)
	s.nextRetry = time.Time{}
	s.connectedSince = time.Time{}
	released := s.released

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connect(gen, released)
	}()
}

func (s *Supervisor) connect(gen uint64, released <-chan struct{}) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	// Never hold two connections: the previous session must be closed
	// before the next dial.
	if released != nil {
		select {
		case <-released:
		case <-ctx.Done():
			return
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	err := s.dialer.Probe(probeCtx)
	cancel()
	if err != nil {
		s.handle(gen, EventUnreachable, err)
		return
	}

	s.logger.Info("starting IMAP session")
	sess, err := s.dialer.Dial(ctx, func(msg model.RawMessage) bool {
		return s.deliver(gen, msg)
	})
	if err != nil {
		s.handle(gen, EventError, err)
		return
	}

	s.mu.Lock()
	if s.stopped || gen != s.gen.Load() {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	s.session = sess
	s.applyLocked(EventConnected, nil)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.watchSession(gen, sess)
	}()
}

// watchSession turns the end of sess into a state machine event.
func (s *Supervisor) watchSession(gen uint64, sess Session) {
	<-sess.Done()

	err := sess.Err()
	ev := EventError
	switch {
	case err == nil:
		ev = EventClosed
		err = errors.New("connection closed")
	case errors.Is(err, ErrStreamEnded):
		ev = EventStreamEnd
	}
	s.handle(gen, ev, err)
}

// deliver passes msg on unless its session has been replaced. A message
// from a replaced session is refused so it stays unseen.
func (s *Supervisor) deliver(gen uint64, msg model.RawMessage) bool {
	if gen != s.gen.Load() {
		s.logger.Debug("refusing message from stale session", zap.Uint32("uid", msg.UID))
		return false
	}
	return s.onMessage(msg)
}

func (s *Supervisor) armLivenessLocked(gen uint64) {
	if s.liveness != nil {
		s.liveness.Stop()
	}
	s.liveness = s.opts.AfterFunc(s.opts.LivenessInterval, func() {
		s.checkLiveness(gen)
	})
}

func (s *Supervisor) checkLiveness(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.gen.Load() || s.session == nil {
		return
	}
	if s.session.Running() {
		s.logger.Debug("IMAP connection is active")
		s.armLivenessLocked(gen)
		return
	}

	livenessFailures.Inc()
	s.logger.Warn("IMAP connection is not active, reconnecting")
	s.applyLocked(EventLivenessFailed, ErrLivenessFailed)
}

func (s *Supervisor) scheduleLocked(d time.Duration, ev Event) {
	if s.pending != nil {
		s.pending.Stop()
	}
	gen := s.gen.Load()
	s.nextRetry = time.Now().Add(d)
	s.pending = s.opts.AfterFunc(d, func() {
		s.handle(gen, ev, nil)
	})
}

func (s *Supervisor) stopTimersLocked() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if s.liveness != nil {
		s.liveness.Stop()
		s.liveness = nil
	}
	s.nextRetry = time.Time{}
}

// teardownLocked detaches the current session and closes it in the
// background, since Close may wait on a message callback. The next connect
// waits on released.
func (s *Supervisor) teardownLocked() {
	if s.liveness != nil {
		s.liveness.Stop()
		s.liveness = nil
	}
	if s.session == nil {
		return
	}

	sess := s.session
	s.session = nil
	s.connectedSince = time.Time{}

	released := make(chan struct{})
	s.released = released

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(released)
		if err := sess.Close(); err != nil {
			s.logger.Warn("closing session", zap.Error(err))
		}
	}()
}
