package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/watcher"
)

const (
	// defaultIdleRefresh restarts IDLE before the 29 minute server timeout.
	defaultIdleRefresh  = 25 * time.Minute
	defaultPollInterval = time.Minute

	// closeGrace bounds how long a failed session waits to learn whether
	// the server hung up.
	closeGrace = time.Second
)

var errConnClosed = errors.New("connection closed")

// WatchOptions tunes how a Session waits for new mail.
type WatchOptions struct {
	// IdleRefresh restarts IDLE periodically.
	IdleRefresh time.Duration
	// PollInterval is the sweep period on servers without IDLE, or when
	// DisableIdle is set.
	PollInterval time.Duration
	DisableIdle  bool
}

// Handler receives one message. It returns false when the message was not
// accepted; such a message stays unseen and is offered again by a later
// sweep.
type Handler func(model.RawMessage) bool

// Session is a live mailbox watch. Every unseen message is offered to the
// handler and marked \Seen once the handler accepted it.
type Session struct {
	client  *imapclient.Client
	handler Handler
	opts    WatchOptions
	logger  *zap.Logger

	// wake is signalled by the unilateral EXISTS handler.
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	closing bool
	running bool
	err     error
	lastUID imap.UID
}

// Watch connects, performs the initial unseen sweep and then waits in IDLE
// (or polls) for new mail. handler runs on the session goroutine and must
// not block for long.
func (c *IMAPClient) Watch(ctx context.Context, opts WatchOptions, handler Handler) (*Session, error) {
	if opts.IdleRefresh <= 0 {
		opts.IdleRefresh = defaultIdleRefresh
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if handler == nil {
		handler = func(model.RawMessage) bool { return true }
	}

	s := &Session{
		handler: handler,
		opts:    opts,
		logger:  c.logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		running: true,
	}

	client, err := c.Connect(ctx, &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					s.notify()
				}
			},
		},
	})
	if err != nil {
		return nil, err
	}
	s.client = client

	go s.run()
	return s, nil
}

// Running reports whether the connection is still up.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended. It is nil after Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops delivery and closes the connection. It waits for the run loop
// to exit.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	err := s.client.Close()
	<-s.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing IMAP connection: %w", err)
	}
	return nil
}

func (s *Session) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Session) run() {
	defer close(s.done)

	wait := s.idle
	if s.opts.DisableIdle || !s.client.Caps().Has(imap.CapIdle) {
		s.logger.Info("IDLE unavailable, polling for new mail",
			zap.Duration("interval", s.opts.PollInterval))
		wait = s.poll
	}

	var err error
	for err == nil {
		if err = s.drain(); err != nil {
			break
		}
		err = wait()
	}

	s.finish(err)
}

// finish records the terminal error. A deliberate Close ends cleanly; a
// connection the server dropped is reported as watcher.ErrStreamEnded.
func (s *Session) finish(err error) {
	closed := false
	if !s.isClosing() {
		// Pending commands fail before the reader goroutine exits, so a
		// hang-up can surface here slightly ahead of Closed.
		select {
		case <-s.client.Closed():
			closed = true
		case <-time.After(closeGrace):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.closing {
		s.err = nil
		return
	}

	if closed {
		s.err = fmt.Errorf("%w: %v", watcher.ErrStreamEnded, err)
	} else {
		s.err = err
	}
	_ = s.client.Close()
}

// drain fetches every unseen message above lastUID and offers it to the
// handler. Only accepted messages advance lastUID and are marked seen.
func (s *Session) drain() error {
	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching unseen messages: %w", err)
	}

	var uids []imap.UID
	for _, uid := range searchData.AllUIDs() {
		if uid > s.lastUID {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return nil
	}

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var delivered []imap.UID
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			s.logger.Warn("skipping unreadable message", zap.Error(err))
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		if s.isClosing() {
			break
		}

		s.logger.Info("new email received", zap.Uint32("uid", uint32(buf.UID)))
		if !s.handler(messageFromBuffer(buf, raw)) {
			s.logger.Warn("message not accepted, leaving it unseen", zap.Uint32("uid", uint32(buf.UID)))
			continue
		}
		delivered = append(delivered, buf.UID)
		if buf.UID > s.lastUID {
			s.lastUID = buf.UID
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}
	if len(delivered) == 0 {
		return nil
	}

	storeCmd := s.client.Store(imap.UIDSetNum(delivered...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking messages seen: %w", err)
	}
	return nil
}

// idle waits for an EXISTS notification, the refresh interval or the
// connection going away.
func (s *Session) idle() error {
	idleCmd, err := s.client.Idle()
	if err != nil {
		return fmt.Errorf("starting IDLE: %w", err)
	}

	timer := time.NewTimer(s.opts.IdleRefresh)
	defer timer.Stop()

	select {
	case <-s.wake:
	case <-timer.C:
		s.logger.Debug("refreshing IDLE")
	case <-s.client.Closed():
		_ = idleCmd.Close()
		return errConnClosed
	}

	if err := idleCmd.Close(); err != nil {
		return fmt.Errorf("stopping IDLE: %w", err)
	}
	if err := idleCmd.Wait(); err != nil {
		return fmt.Errorf("IDLE: %w", err)
	}
	return nil
}

// poll waits for the poll interval or the connection going away. A NOOP
// lets the server report new mail, which also wakes the next sweep.
func (s *Session) poll() error {
	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()

	select {
	case <-s.wake:
	case <-timer.C:
	case <-s.client.Closed():
		return errConnClosed
	}

	if err := s.client.Noop().Wait(); err != nil {
		return fmt.Errorf("NOOP: %w", err)
	}
	return nil
}
