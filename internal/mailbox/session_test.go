package mailbox

import (
	"bytes"
	"context"
	"io"
	"log"
	"math"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/watcher"
)

const (
	testUser     = "approvals"
	testPassword = "secret"
	waitFor      = 3 * time.Second
	tick         = 10 * time.Millisecond
)

type memServer struct {
	srv  *imapserver.Server
	user *imapmemserver.User
	host string
	port string
}

// startMemServer runs an in-memory IMAP server on a loopback port.
func startMemServer(t *testing.T) *memServer {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	require.NoError(t, user.Create("INBOX", nil))
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}},
		InsecureAuth: true,
		Logger:       log.New(io.Discard, "", 0),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return &memServer{srv: srv, user: user, host: host, port: port}
}

func (m *memServer) client() *IMAPClient {
	return NewIMAPClient(model.InboxCredentials{
		Host:               m.host,
		Port:               m.port,
		Username:           testUser,
		Password:           model.Secret(testPassword),
		InsecureSkipVerify: true,
		Mailbox:            "INBOX",
	}, nil)
}

func (m *memServer) deliver(t *testing.T, id string) {
	t.Helper()
	raw := crlf("From: boss@example.com\n" +
		"Subject: Re: approval " + id + "\n" +
		"Message-Id: <" + id + "@example.com>\n" +
		"Content-Type: text/plain; charset=utf-8\n" +
		"\n" +
		"id=" + id + " approved=true\n")
	_, err := m.user.Append("INBOX", bytes.NewReader(raw), &imap.AppendOptions{})
	require.NoError(t, err)
}

func (m *memServer) unseen() uint32 {
	data, err := m.user.Status("INBOX", &imap.StatusOptions{NumUnseen: true})
	if err != nil || data.NumUnseen == nil {
		return math.MaxUint32
	}
	return *data.NumUnseen
}

func collect(got chan model.RawMessage, accept bool) Handler {
	return func(msg model.RawMessage) bool {
		got <- msg
		return accept
	}
}

func receive(t *testing.T, got chan model.RawMessage) model.RawMessage {
	t.Helper()
	select {
	case msg := <-got:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message delivered")
		return model.RawMessage{}
	}
}

func watch(t *testing.T, m *memServer, opts WatchOptions, h Handler) *Session {
	t.Helper()
	sess, err := m.client().Watch(context.Background(), opts, h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestSessionSweepsUnseenAndMarksSeen(t *testing.T) {
	m := startMemServer(t)
	m.deliver(t, "41")

	got := make(chan model.RawMessage, 4)
	sess := watch(t, m, WatchOptions{}, collect(got, true))

	msg := receive(t, got)
	assert.Equal(t, "boss@example.com", msg.From)
	assert.Equal(t, "41@example.com", msg.MessageID)
	assert.Contains(t, msg.TextBody, "id=41 approved=true")
	assert.NotZero(t, msg.UID)

	require.Eventually(t, func() bool { return m.unseen() == 0 }, waitFor, tick)
	assert.True(t, sess.Running())

	require.NoError(t, sess.Close())
	assert.NoError(t, sess.Err(), "a deliberate close is not an error")
	assert.False(t, sess.Running())
}

func TestSessionDeliversNewMailDuringIdle(t *testing.T) {
	m := startMemServer(t)
	m.deliver(t, "1")

	got := make(chan model.RawMessage, 4)
	watch(t, m, WatchOptions{}, collect(got, true))
	first := receive(t, got)

	m.deliver(t, "2")
	second := receive(t, got)
	assert.Contains(t, second.TextBody, "id=2")
	assert.Greater(t, second.UID, first.UID)

	select {
	case dup := <-got:
		t.Fatalf("message %d delivered twice", dup.UID)
	case <-time.After(200 * time.Millisecond):
	}
	require.Eventually(t, func() bool { return m.unseen() == 0 }, waitFor, tick)
}

func TestSessionPollsWithoutIdle(t *testing.T) {
	m := startMemServer(t)

	got := make(chan model.RawMessage, 4)
	watch(t, m, WatchOptions{DisableIdle: true, PollInterval: 20 * time.Millisecond}, collect(got, true))

	m.deliver(t, "7")
	msg := receive(t, got)
	assert.Contains(t, msg.TextBody, "id=7")
}

func TestSessionRefusedMessageStaysUnseen(t *testing.T) {
	m := startMemServer(t)
	m.deliver(t, "9")

	refused := make(chan model.RawMessage, 4)
	first := watch(t, m, WatchOptions{}, collect(refused, false))
	receive(t, refused)
	require.NoError(t, first.Close())
	assert.Equal(t, uint32(1), m.unseen())

	got := make(chan model.RawMessage, 4)
	watch(t, m, WatchOptions{}, collect(got, true))
	msg := receive(t, got)
	assert.Contains(t, msg.TextBody, "id=9")
	require.Eventually(t, func() bool { return m.unseen() == 0 }, waitFor, tick)
}

func TestSessionServerHangUp(t *testing.T) {
	m := startMemServer(t)

	sess := watch(t, m, WatchOptions{}, collect(make(chan model.RawMessage, 1), true))
	require.NoError(t, m.srv.Close())

	select {
	case <-sess.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end after the server went away")
	}
	assert.ErrorIs(t, sess.Err(), watcher.ErrStreamEnded)
	assert.False(t, sess.Running())
}

func TestWatchRejectsBadPassword(t *testing.T) {
	m := startMemServer(t)
	c := m.client()
	c.creds.Password = model.Secret("wrong")

	_, err := c.Watch(context.Background(), WatchOptions{}, nil)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}
