// Package normalize turns an inbound message into a single text blob for
// field extraction.
package normalize

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nhle/approval-watcher/internal/model"
)

// Normalize returns the text to extract fields from. A non-blank plain text
// body is returned unchanged; otherwise the HTML body is reduced to its
// text content with whitespace collapsed. ok is false when the message has
// no usable body, including when the markup cannot be parsed.
func Normalize(msg model.RawMessage) (text string, ok bool) {
	if strings.TrimSpace(msg.TextBody) != "" {
		return msg.TextBody, true
	}

	if msg.HTMLBody == "" {
		return "", false
	}

	text, err := HTMLText(msg.HTMLBody)
	if err != nil || text == "" {
		return "", false
	}
	return text, true
}

// HTMLText renders the text content of an HTML document: every text node
// in document order, whitespace runs collapsed to a single space, trimmed.
// Script, style and head contents are skipped. Line breaks and block
// elements separate their neighbours so adjacent labels do not fuse.
func HTMLText(markup string) (text string, err error) {
	// x/net/html is lenient, but a malformed document must never take the
	// watcher down.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", errParse
		}
	}()

	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	walk(doc, &b)
	return strings.Join(strings.Fields(b.String()), " "), nil
}

var errParse = errors.New("normalize: unparseable markup")

func walk(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head, atom.Noscript, atom.Template:
			return
		case atom.Br:
			b.WriteByte(' ')
			return
		}
	}

	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
	if block {
		b.WriteByte(' ')
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Td, atom.Th,
		atom.Table, atom.Blockquote, atom.Pre, atom.Hr, atom.Section, atom.Article,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Body:
		return true
	}
	return false
}
