package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gen2brain/beeep"

	"github.com/murmur/chat-client/internal/chat"
	"github.com/murmur/chat-client/internal/client"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	senderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	editedStyle = lipgloss.NewStyle().Faint(true)
	typingStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
	notifStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	badgeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

// Messages feeding the bubbletea loop.
type (
	coreUpdateMsg client.Update
	roomsMsg      []chat.Room
	roomSwitchMsg struct{ err error }
	sendResultMsg struct{ err error }
	rosterErrMsg  struct{ err error }
)

type model struct {
	core   *client.Core
	roster *roster
	user   chat.User

	rooms   []chat.Room
	roomIdx int

	vp    viewport.Model
	input textinput.Model

	width  int
	height int
	ready  bool

	inboxSeen int
	status    string
	lastErr   string
	dead      bool
}

func newModel(core *client.Core, ros *roster, user chat.User) model {
	ti := textinput.New()
	ti.Placeholder = "Enter a message.."
	ti.Focus()
	ti.CharLimit = 2000

	return model{
		core:    core,
		roster:  ros,
		user:    user,
		roomIdx: -1,
		input:   ti,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.listenUpdates(), m.loadRooms())
}

// listenUpdates forwards one core update into the loop, then re-arms.
func (m model) listenUpdates() tea.Cmd {
	updates := m.core.Updates()
	return func() tea.Msg {
		return coreUpdateMsg(<-updates)
	}
}

func (m model) loadRooms() tea.Cmd {
	ros := m.roster
	return func() tea.Msg {
		rooms, err := ros.Rooms(context.Background())
		if err != nil {
			return rosterErrMsg{err: err}
		}
		return roomsMsg(rooms)
	}
}

func (m model) switchRoom(r chat.Room) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		return roomSwitchMsg{err: core.SetActiveRoom(context.Background(), r)}
	}
}

func (m model) sendMessage(content string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		_, err := core.Send(context.Background(), content)
		return sendResultMsg{err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 7
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.refreshMessages()
		return m, nil

	case roomsMsg:
		m.rooms = msg
		if m.roomIdx < 0 && len(m.rooms) > 0 {
			m.roomIdx = 0
			return m, m.switchRoom(m.rooms[0])
		}
		return m, nil

	case roomSwitchMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		} else {
			m.lastErr = ""
		}
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			// Failed sends leave the view untouched; just report.
			m.lastErr = "failed to send the message"
		}
		return m, nil

	case rosterErrMsg:
		m.lastErr = msg.err.Error()
		return m, nil

	case coreUpdateMsg:
		cmd := m.handleCoreUpdate(client.Update(msg))
		return m, tea.Batch(m.listenUpdates(), cmd)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *model) handleCoreUpdate(up client.Update) tea.Cmd {
	switch up.Kind {
	case client.UpdateMessages, client.UpdateTyping:
		m.refreshMessages()
	case client.UpdateInbox:
		entries := m.core.Notifications()
		if len(entries) > m.inboxSeen {
			latest := entries[0]
			if err := beeep.Notify("Murmur", notificationLine(latest), ""); err != nil {
				log.Printf("ui: desktop notification: %v", err)
			}
		}
		m.inboxSeen = len(entries)
	case client.UpdateRoster:
		// A preview we hold went stale; refetch the conversation list.
		return m.loadRooms()
	case client.UpdateDisconnected:
		m.dead = true
		m.status = "disconnected"
		if up.Err != nil {
			m.lastErr = up.Err.Error()
		}
	case client.UpdateError:
		if up.Err != nil {
			m.lastErr = up.Err.Error()
		}
	}
	return nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "tab":
		if len(m.rooms) == 0 {
			return m, nil
		}
		m.roomIdx = (m.roomIdx + 1) % len(m.rooms)
		return m, m.switchRoom(m.rooms[m.roomIdx])

	case "ctrl+x":
		// Dismiss the newest notification.
		if entries := m.core.Notifications(); len(entries) > 0 {
			m.core.DismissNotification(entries[0].Message.ID)
			m.inboxSeen--
		}
		return m, nil

	case "enter":
		content := strings.TrimSpace(m.input.Value())
		if content == "" || m.dead {
			return m, nil
		}
		m.input.Reset()
		return m, m.sendMessage(content)
	}

	// Everything else is composing activity.
	var cmd tea.Cmd
	before := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before && !m.dead {
		m.core.Keystroke()
	}
	return m, cmd
}

func (m *model) refreshMessages() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, msg := range m.core.Messages() {
		b.WriteString(senderStyle.Render(msg.Sender.Name))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		if msg.Edited() {
			b.WriteString(" ")
			b.WriteString(editedStyle.Render("(edited)"))
		}
		b.WriteString("\n")
	}
	m.vp.SetContent(b.String())
	m.vp.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder

	b.WriteString(headerStyle.Render(m.headerLine()))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")

	if m.core.RemoteTyping() {
		b.WriteString(typingStyle.Render("typing..."))
	}
	b.WriteString("\n")

	for i, e := range m.core.Notifications() {
		if i == 3 {
			b.WriteString(notifStyle.Render(fmt.Sprintf("  ...and %d more", len(m.core.Notifications())-3)))
			b.WriteString("\n")
			break
		}
		b.WriteString(notifStyle.Render("• " + notificationLine(e)))
		b.WriteString("\n")
	}

	if m.lastErr != "" {
		b.WriteString(errorStyle.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	return b.String()
}

func (m model) headerLine() string {
	room, ok := m.core.ActiveRoom()
	title := "no conversation selected"
	if ok {
		if room.IsGroup {
			title = strings.ToUpper(room.Name)
		} else {
			title = room.Counterpart(m.user.ID).Name
		}
	}

	unread := 0
	for _, n := range m.core.UnreadByRoom() {
		unread += n
	}
	line := title
	if unread > 0 {
		line += "  " + badgeStyle.Render(fmt.Sprintf("[%d unread]", unread))
	}
	if m.status != "" {
		line += "  (" + m.status + ")"
	}
	return line
}

func notificationLine(e chat.Entry) string {
	if e.Room.IsGroup {
		return fmt.Sprintf("New message in %s", e.Room.Name)
	}
	return fmt.Sprintf("New message from %s", e.Message.Sender.Name)
}
