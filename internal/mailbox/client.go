// Package mailbox watches an IMAP folder for new messages using go-imap v2.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/model"
)

// AuthError indicates the server rejected the configured credentials.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IMAPClient dials and authenticates against a single IMAP account.
type IMAPClient struct {
	creds  model.InboxCredentials
	logger *zap.Logger
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(creds model.InboxCredentials, logger *zap.Logger) *IMAPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAPClient{
		creds:  creds,
		logger: logger.Named("mailbox"),
	}
}

// Connect establishes a connection to the IMAP server, authenticates and
// selects the configured mailbox. The caller is responsible for closing
// the returned client.
func (c *IMAPClient) Connect(
	_ context.Context, opts *imapclient.Options,
) (*imapclient.Client, error) {
	addr := c.creds.Addr()

	if opts == nil {
		opts = &imapclient.Options{}
	}
	if c.creds.InsecureSkipVerify {
		opts.TLSConfig = &tls.Config{
			ServerName:         c.creds.Host,
			InsecureSkipVerify: true, //nolint:gosec // opt-in for self-signed test servers
		}
	}

	var client *imapclient.Client
	var err error

	switch {
	case c.creds.TLS:
		client, err = imapclient.DialTLS(addr, opts)
	case c.creds.InsecureSkipVerify:
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.creds.Username, c.creds.Password.Value()).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{
			Username: c.creds.Username,
			Message:  fmt.Sprintf("authentication failed: %v", err),
		}
	}

	if _, err := client.Select(c.creds.Mailbox, nil).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("selecting %s: %w", c.creds.Mailbox, err)
	}

	c.logger.Info("connected to IMAP server",
		zap.String("addr", addr),
		zap.String("mailbox", c.creds.Mailbox),
	)
	return client, nil
}

// ErrUnreachable is returned by Probe when no TCP connection could be made.
var ErrUnreachable = errors.New("IMAP server unreachable")

// Probe checks that host:port accepts TCP connections within timeout.
// Nothing is sent on the connection.
func Probe(ctx context.Context, host, port string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	_ = conn.Close()
	return nil
}
