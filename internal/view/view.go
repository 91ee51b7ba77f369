// Package view renders a chat session in the terminal and turns key presses
// into session transitions.
package view

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/comigor/chatbox-go/internal/config"
	"github.com/comigor/chatbox-go/internal/logger"
	"github.com/comigor/chatbox-go/internal/session"
	"github.com/comigor/chatbox-go/internal/transport"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	sendLabel     = "[ Send ]"
)

// ReplyMsg carries the outcome of a dispatched request back to the UI loop.
type ReplyMsg struct{ session.Reply }

// Model is the root bubbletea model of the chat view.
type Model struct {
	session  *session.Session
	fetcher  transport.Fetcher
	input    textinput.Model
	viewport viewport.Model
	markdown *glamour.TermRenderer
	// mdStyle is nil when bot messages are rendered as plain text.
	mdStyle glamour.TermRendererOption

	width, height int
}

// Option customizes a Model.
type Option func(*Model)

// WithMarkdownStyle renders bot messages as markdown in the named glamour
// style ("dark", "light", "notty", ...).
func WithMarkdownStyle(style string) Option {
	return func(m *Model) { m.mdStyle = glamour.WithStandardStyle(style) }
}

// New creates the view over s. Sends are dispatched through f.
func New(s *session.Session, f transport.Fetcher, cfg config.ViewConfig, opts ...Option) *Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = cfg.Placeholder
	ti.Focus()

	m := &Model{
		session:  s,
		fetcher:  f,
		input:    ti,
		viewport: viewport.New(defaultWidth, defaultHeight-2),
	}
	if cfg.Markdown {
		m.mdStyle = glamour.WithAutoStyle()
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resize(defaultWidth, defaultHeight)
	return m
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.session.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.send()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.session.SetInput(m.input.Value())
		return m, cmd

	case ReplyMsg:
		m.session.Apply(msg.Reply)
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send runs the synchronous half of a send and returns the command that
// performs the fetch. Blank input yields no command.
func (m *Model) send() tea.Cmd {
	req, ok := m.session.Submit()
	if !ok {
		return nil
	}
	m.input.Reset()
	m.refresh()

	f := m.fetcher
	return func() tea.Msg {
		return ReplyMsg{session.Dispatch(f, req)}
	}
}

func (m *Model) View() string {
	sep := separatorStyle.Render(strings.Repeat("─", m.width))
	controls := lipgloss.JoinHorizontal(lipgloss.Top, m.input.View(), " ", buttonStyle.Render(sendLabel))
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		sep,
		controls,
	)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(height-2, 1)
	m.input.Width = max(width-len(m.input.Prompt)-len(sendLabel)-2, 1)
	m.rebuildMarkdown()
	m.refresh()
}

// rebuildMarkdown creates a renderer that wraps at the current width.
func (m *Model) rebuildMarkdown() {
	if m.mdStyle == nil {
		return
	}
	r, err := glamour.NewTermRenderer(m.mdStyle, glamour.WithWordWrap(m.width))
	if err != nil {
		logger.L.Warn("markdown renderer unavailable, using plain text", "error", err)
		m.markdown = nil
		return
	}
	m.markdown = r
}

func (m *Model) refresh() {
	m.viewport.SetContent(Render(m.session.Messages(), m.width, m.markdown))
	m.viewport.GotoBottom()
}

// Render lays out messages one row each in insertion order: user messages
// aligned right, bot messages left. Bot replies go through md when it is
// non-nil; failed replies are always plain.
func Render(messages []session.Message, width int, md *glamour.TermRenderer) string {
	rows := make([]string, 0, len(messages))
	for _, msg := range messages {
		text := msg.Text
		if md != nil && msg.Sender == session.SenderBot && !msg.Failed {
			if out, err := md.Render(text); err == nil {
				text = strings.Trim(out, "\n")
			}
		}
		rows = append(rows, renderRow(msg, text, width))
	}
	return strings.Join(rows, "\n")
}

func renderRow(msg session.Message, text string, width int) string {
	style := botStyle
	switch {
	case msg.Sender == session.SenderUser:
		style = userStyle
	case msg.Failed:
		style = failedStyle
	}
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(text)
}
