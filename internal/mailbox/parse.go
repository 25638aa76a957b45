package mailbox

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // KOI8-R, windows-1251 and friends
	"github.com/emersion/go-message/mail"

	"github.com/nhle/approval-watcher/internal/model"
)

// ParseMessage decodes a raw RFC 5322 message into a RawMessage. The first
// text/plain and text/html inline parts win; attachments are ignored.
func ParseMessage(raw []byte) model.RawMessage {
	var msg model.RawMessage

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		// Not MIME at all: treat the whole thing as plain text.
		msg.TextBody = string(raw)
		return msg
	}
	defer mr.Close()

	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = addrs[0].Address
	}
	msg.Subject, _ = mr.Header.Subject()
	msg.MessageID, _ = mr.Header.MessageID()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && msg.TextBody == "":
			msg.TextBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && msg.HTMLBody == "":
			msg.HTMLBody = string(body)
		}
	}

	return msg
}

// messageFromBuffer builds a RawMessage from a fetched message, falling back
// to the envelope when the MIME header lacks a sender or subject.
func messageFromBuffer(
	buf *imapclient.FetchMessageBuffer, raw []byte,
) model.RawMessage {
	msg := ParseMessage(raw)
	msg.UID = uint32(buf.UID)

	if buf.Envelope != nil {
		if msg.From == "" && len(buf.Envelope.From) > 0 {
			msg.From = buf.Envelope.From[0].Addr()
		}
		if msg.Subject == "" {
			msg.Subject = buf.Envelope.Subject
		}
		if msg.MessageID == "" {
			msg.MessageID = buf.Envelope.MessageID
		}
	}

	return msg
}
