package mailbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMessagePlain(t *testing.T) {
	raw := crlf(`From: Anna <anna@example.com>
Subject: Re: approval
Message-Id: <abc@example.com>
Content-Type: text/plain; charset=utf-8

id=42
approved=true
`)

	msg := ParseMessage(raw)
	assert.Equal(t, "anna@example.com", msg.From)
	assert.Equal(t, "Re: approval", msg.Subject)
	assert.Equal(t, "abc@example.com", msg.MessageID)
	assert.Contains(t, msg.TextBody, "id=42")
	assert.Empty(t, msg.HTMLBody)
}

func TestParseMessageAlternative(t *testing.T) {
	raw := crlf(`From: boss@example.com
Subject: decision
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/html; charset=utf-8
Content-Transfer-Encoding: base64

PHA+aWQ9NzwvcD48cD5hcHByb3ZlZD1mYWxzZTwvcD4=
--b1
Content-Type: text/plain; charset=utf-8

id=7 approved=false
--b1--
`)

	msg := ParseMessage(raw)
	assert.Equal(t, "boss@example.com", msg.From)
	assert.Equal(t, "<p>id=7</p><p>approved=false</p>", msg.HTMLBody)
	assert.Equal(t, "id=7 approved=false", strings.TrimSpace(msg.TextBody))
}

func TestParseMessageWindows1251(t *testing.T) {
	raw := crlf(`From: boss@example.com
Content-Type: text/plain; charset=windows-1251
Content-Transfer-Encoding: quoted-printable

=CA=EE=EC=EC=E5=ED=F2=E0=F0=E8=E9: =EE=EA
id=3D42
approved=3Dtrue
`)

	msg := ParseMessage(raw)
	assert.Contains(t, msg.TextBody, "Комментарий: ок")
	assert.Contains(t, msg.TextBody, "id=42")
}

func TestParseMessageAttachmentIgnored(t *testing.T) {
	raw := crlf(`From: boss@example.com
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b2"

--b2
Content-Type: text/plain

id=1 approved=true
--b2
Content-Type: text/plain
Content-Disposition: attachment; filename="notes.txt"

id=999
--b2--
`)

	msg := ParseMessage(raw)
	assert.Contains(t, msg.TextBody, "id=1")
	assert.NotContains(t, msg.TextBody, "999")
}
