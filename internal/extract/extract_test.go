package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestExtractAnyLabelOrder(t *testing.T) {
	parts := []string{"id: abc-123", "approved: true", "Комментарий: looks good"}
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		var seq []string
		for _, i := range order {
			seq = append(seq, parts[i])
		}
		text := "Документ согласован. " + strings.Join(seq, " ")

		t.Run(text, func(t *testing.T) {
			f := Extract(text)
			assert.Equal(t, "abc-123", f.ID)
			require.NotNil(t, f.Approved)
			assert.True(t, *f.Approved)
			assert.Equal(t, "looks good", f.Comment)
			assert.True(t, f.HasComment)
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		id         string
		approved   *bool
		comment    string
		hasComment bool
	}{
		{
			name:     "undecided value stays nil",
			text:     "approved: maybe",
			approved: nil,
		},
		{
			name: "no id",
			text: "no id here",
		},
		{
			name:     "explicit false",
			text:     "id=REQ_9 approved=false",
			id:       "REQ_9",
			approved: boolPtr(false),
		},
		{
			name:     "case insensitive labels and values",
			text:     "ID: x1\nAPPROVED: TRUE\nкомментарий: ok",
			id:       "x1",
			approved: boolPtr(true),
			comment:  "ok", hasComment: true,
		},
		{
			name:     "value prefix is not a match",
			text:     "id: 5 approved: trueish",
			id:       "5",
			approved: nil,
		},
		{
			name:       "empty comment",
			text:       "Комментарий:\n id: 7",
			id:         "7",
			comment:    "",
			hasComment: true,
		},
		{
			name:       "comment to end of text spans lines",
			text:       "id: 8\nКомментарий: first line\nsecond line\n",
			id:         "8",
			comment:    "first line\nsecond line",
			hasComment: true,
		},
		{
			name:       "reply rendered from markup",
			text:       "Документ Договор 17 согласован. Комментарий: не указан id: 42 approved: true",
			id:         "42",
			approved:   boolPtr(true),
			comment:    "не указан",
			hasComment: true,
		},
		{
			name:       "first id wins",
			text:       "id: first id: second Комментарий: c",
			id:         "first",
			comment:    "c",
			hasComment: true,
		},
		{
			name: "id must be a whole word",
			text: "uuid: 123 paid: yes",
		},
		{
			name:       "quoted reply text does not leak into comment",
			text:       "Комментарий: see attached approved: false id: a-b-c",
			id:         "a-b-c",
			approved:   boolPtr(false),
			comment:    "see attached",
			hasComment: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Extract(tt.text)
			assert.Equal(t, tt.id, f.ID)
			assert.Equal(t, tt.approved, f.Approved)
			assert.Equal(t, tt.comment, f.Comment)
			assert.Equal(t, tt.hasComment, f.HasComment)
		})
	}
}

func TestEventCarriesSender(t *testing.T) {
	ev := Extract("id: 1 approved: true").Event("boss@example.com")
	assert.Equal(t, "1", ev.RequestID)
	assert.Equal(t, "boss@example.com", ev.FromAddress)
	assert.True(t, ev.Forwardable())

	assert.False(t, Extract("no id here").Event("x").Forwardable())
}

func FuzzExtract(f *testing.F) {
	f.Add("id: abc-123 approved: true Комментарий: looks good")
	f.Add("approved: maybe")
	f.Add("Комментарий")
	f.Fuzz(func(t *testing.T, s string) {
		got := Extract(s)
		if got.ID != "" && !idPattern.MatchString(s) {
			t.Fatalf("id %q without label in %q", got.ID, s)
		}
		if got.Comment != strings.TrimSpace(got.Comment) {
			t.Fatalf("comment not trimmed: %q", got.Comment)
		}
	})
}
