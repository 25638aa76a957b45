package mailbox

import (
	"context"

	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/watcher"
)

// Dialer opens mailbox sessions for the connection supervisor.
type Dialer struct {
	client *IMAPClient
	opts   WatchOptions
}

// NewDialer returns a watcher.Dialer backed by client.
func NewDialer(client *IMAPClient, opts WatchOptions) *Dialer {
	return &Dialer{client: client, opts: opts}
}

// Probe checks that the IMAP port accepts TCP connections. The caller
// bounds it with ctx.
func (d *Dialer) Probe(ctx context.Context) error {
	return Probe(ctx, d.client.creds.Host, d.client.creds.Port, 0)
}

// Dial connects and starts watching the mailbox.
func (d *Dialer) Dial(
	ctx context.Context, onMessage func(model.RawMessage) bool,
) (watcher.Session, error) {
	s, err := d.client.Watch(ctx, d.opts, onMessage)
	if err != nil {
		return nil, err
	}
	return s, nil
}
