// Package status is the terminal dashboard shown by "approvald watch --tui".
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/approval-watcher/internal/keys"
	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/theme"
	"github.com/nhle/approval-watcher/internal/watcher"
)

// refreshInterval is how often the view polls the supervisor.
const refreshInterval = time.Second

// Supervisor is the part of the connection supervisor the view drives.
type Supervisor interface {
	Status() watcher.Status
	Reconnect()
}

// ActivitySource lists recent workflow API calls, newest first.
type ActivitySource interface {
	Recent() []model.ExternalCall
}

type tickMsg time.Time

// Model is the status dashboard.
type Model struct {
	sup      Supervisor
	feed     ActivitySource
	keys     *keys.KeyMap
	help     help.Model
	spinner  spinner.Model
	viewport viewport.Model
	mailbox  string

	status   watcher.Status
	calls    []model.ExternalCall
	notice   string
	showHelp bool
	width    int
	height   int
}

// New creates the dashboard. mailbox is shown in the header.
func New(sup Supervisor, feed ActivitySource, km *keys.KeyMap, mailbox string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	vp := viewport.New(80, 10)
	vp.Style = lipgloss.NewStyle()

	m := Model{
		sup:      sup,
		feed:     feed,
		keys:     km,
		help:     help.New(),
		spinner:  sp,
		viewport: vp,
		mailbox:  mailbox,
		width:    80,
		height:   24,
	}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the spinner and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update handles messages for the dashboard.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = max(msg.Height-12, 3)
		m.viewport.SetContent(m.renderActivity())
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Reconnect):
			m.sup.Reconnect()
			m.notice = "Reconnect requested"
			m.refresh()
			return m, nil

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	m.status = m.sup.Status()
	if m.feed != nil {
		m.calls = m.feed.Recent()
	}
	m.viewport.SetContent(m.renderActivity())
}

// View renders the dashboard.
func (m Model) View() string {
	header := theme.HeaderStyle.Render("approval-watcher") + " " +
		theme.HelpStyle.Render(m.mailbox)

	sections := []string{
		header,
		theme.PanelStyle.Width(max(m.width-4, 20)).Render(m.renderConnection()),
		lipgloss.NewStyle().Bold(true).Render("Recent workflow API calls"),
		m.viewport.View(),
	}

	if m.showHelp {
		m.help.ShowAll = true
	}
	footer := m.help.View(m.keys)
	if m.notice != "" {
		footer = theme.StatusBarStyle.Render(m.notice) + "  " + footer
	}
	sections = append(sections, footer)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderConnection() string {
	st := m.status
	state := st.State.String()

	indicator := theme.StateStyle(state).Render(state)
	if st.State == watcher.Connecting {
		indicator = m.spinner.View() + indicator
	}

	lines := []string{
		theme.LabelStyle.Render("State") + indicator,
		theme.LabelStyle.Render("Attempt") + fmt.Sprintf("%d/%d", st.Attempt, st.MaxAttempts),
	}
	if !st.ConnectedSince.IsZero() {
		lines = append(lines, theme.LabelStyle.Render("Connected for")+
			time.Since(st.ConnectedSince).Truncate(time.Second).String())
	}
	if !st.NextRetry.IsZero() {
		wait := time.Until(st.NextRetry).Truncate(time.Second)
		lines = append(lines, theme.LabelStyle.Render("Next attempt")+"in "+max(wait, 0).String())
	}
	if st.LastError != "" {
		lines = append(lines, theme.LabelStyle.Render("Last error")+theme.ErrorStyle.Render(st.LastError))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderActivity() string {
	if len(m.calls) == 0 {
		return theme.HelpStyle.Render("No calls yet")
	}

	var b strings.Builder
	for _, c := range m.calls {
		status := "-"
		if c.StatusCode > 0 {
			status = fmt.Sprintf("%d", c.StatusCode)
		}
		fmt.Fprintf(&b, "%s  %s  %-4s  id=%s",
			c.StartedAt.Format("15:04:05"),
			theme.OutcomeStyle(c.Outcome).Render(fmt.Sprintf("%-6s", c.Outcome)),
			status,
			c.RequestID,
		)
		if c.Error != "" {
			b.WriteString("  " + theme.ErrorStyle.Render(c.Error))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
