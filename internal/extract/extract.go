// Package extract reads the decision fields out of a normalized reply body.
//
// Replies are produced by a mail-client action link whose body carries a
// fixed label grammar:
//
//	Комментарий: <free text>
//	id: <request id>
//	approved: true|false
//
// Labels are case-insensitive and may appear in any order. Extraction is a
// strict match: a missing or malformed field comes back empty, never
// guessed.
package extract

import (
	"regexp"
	"strings"

	"github.com/nhle/approval-watcher/internal/model"
)

// CommentLabel is the localized "comment" label.
const CommentLabel = "Комментарий"

var (
	idPattern       = regexp.MustCompile(`(?i)\bid\s*[:=]\s*([\w-]+)`)
	approvedPattern = regexp.MustCompile(`(?i)\bapproved\s*[:=]\s*(\w+)`)
	commentPattern  = regexp.MustCompile(`(?is)` + CommentLabel + `\s*:?(.*)`)

	// nextLabel marks where a comment ends.
	nextLabel = regexp.MustCompile(`(?i)\b(?:id|approved)\s*[:=]`)
)

// Fields is the result of Extract.
type Fields struct {
	// ID is empty when no id label was found.
	ID string

	// Approved is nil unless the approved label carried true or false.
	Approved *bool

	// Comment is the trimmed comment text. HasComment distinguishes an
	// empty comment from a missing label.
	Comment    string
	HasComment bool
}

// Extract applies the label grammar to text. It has no side effects.
func Extract(text string) Fields {
	var f Fields

	if m := idPattern.FindStringSubmatch(text); m != nil {
		f.ID = m[1]
	}

	if m := approvedPattern.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "true":
			v := true
			f.Approved = &v
		case "false":
			v := false
			f.Approved = &v
		}
	}

	if m := commentPattern.FindStringSubmatch(text); m != nil {
		rest := m[1]
		if loc := nextLabel.FindStringIndex(rest); loc != nil {
			rest = rest[:loc[0]]
		}
		f.Comment = strings.TrimSpace(rest)
		f.HasComment = true
	}

	return f
}

// Event builds the decision event for a reply from the given sender.
func (f Fields) Event(from string) model.DecisionEvent {
	return model.DecisionEvent{
		RequestID:   f.ID,
		Approved:    f.Approved,
		Comment:     f.Comment,
		FromAddress: from,
	}
}
