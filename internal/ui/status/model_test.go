package status

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/approval-watcher/internal/keys"
	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/watcher"
)

type fakeSupervisor struct {
	st         watcher.Status
	reconnects int
}

func (f *fakeSupervisor) Status() watcher.Status { return f.st }
func (f *fakeSupervisor) Reconnect()             { f.reconnects++ }

type fakeFeed []model.ExternalCall

func (f fakeFeed) Recent() []model.ExternalCall { return f }

func press(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestViewShowsStateAndActivity(t *testing.T) {
	sup := &fakeSupervisor{st: watcher.Status{
		State:       watcher.Degraded,
		Attempt:     2,
		MaxAttempts: 5,
		LastError:   "connection reset",
		NextRetry:   time.Now().Add(30 * time.Second),
	}}
	feed := fakeFeed{{
		RequestID:  "REQ-9",
		Outcome:    model.OutcomeFailed,
		StatusCode: 500,
		StartedAt:  time.Now(),
	}}

	m := New(sup, feed, keys.DefaultKeyMap(), "INBOX")
	view := m.View()

	assert.Contains(t, view, "degraded")
	assert.Contains(t, view, "2/5")
	assert.Contains(t, view, "connection reset")
	assert.Contains(t, view, "id=REQ-9")
	assert.Contains(t, view, "500")
}

func TestReconnectKey(t *testing.T) {
	sup := &fakeSupervisor{st: watcher.Status{State: watcher.Connected}}
	m := New(sup, nil, keys.DefaultKeyMap(), "INBOX")

	next, _ := m.Update(press('r'))
	assert.Equal(t, 1, sup.reconnects)
	assert.Contains(t, next.View(), "Reconnect requested")
}

func TestQuitKey(t *testing.T) {
	m := New(&fakeSupervisor{}, nil, keys.DefaultKeyMap(), "INBOX")

	_, cmd := m.Update(press('q'))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestTickRefreshesStatus(t *testing.T) {
	sup := &fakeSupervisor{st: watcher.Status{State: watcher.Connecting}}
	m := New(sup, nil, keys.DefaultKeyMap(), "INBOX")

	sup.st = watcher.Status{State: watcher.Connected}
	next, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.Contains(t, next.View(), "connected")
	assert.Contains(t, next.View(), "No calls yet")
}
