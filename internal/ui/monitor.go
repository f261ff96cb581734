// Package ui renders a live terminal view of the rooms hosted by the
// service.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meszmate/mucd/internal/component"
	"github.com/meszmate/mucd/internal/ui/theme"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// Source provides room snapshots
type Source interface {
	Snapshot() []muc.Summary
}

type tickMsg time.Time

// Model is the root Bubble Tea model of the monitor
type Model struct {
	source  Source
	stats   func() component.Stats
	styles  *theme.Styles
	title   string
	refresh time.Duration

	rooms    []muc.Summary
	selected int
	updated  time.Time

	showOccupants bool
	roomWidth     int
	width         int
	height        int
	ready         bool
	quitting      bool
}

// New creates a monitor reading from source. stats may be nil.
func New(title string, source Source, stats func() component.Stats, styles *theme.Styles, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = time.Second
	}
	return Model{
		source:        source,
		stats:         stats,
		styles:        styles,
		title:         title,
		refresh:       refresh,
		showOccupants: true,
		roomWidth:     32,
	}
}

// Run shows the monitor until the user quits or ctx is done
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init takes the first snapshot
func (m Model) Init() tea.Cmd {
	return func() tea.Msg {
		return tickMsg(time.Now())
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "j", "down":
			if m.selected < len(m.rooms)-1 {
				m.selected++
			}
		case "k", "up":
			if m.selected > 0 {
				m.selected--
			}
		case "g", "home":
			m.selected = 0
		case "G", "end":
			if len(m.rooms) > 0 {
				m.selected = len(m.rooms) - 1
			}
		case "o":
			m.showOccupants = !m.showOccupants
		}

	case tickMsg:
		m.rooms = m.source.Snapshot()
		m.updated = time.Time(msg)
		if m.selected >= len(m.rooms) {
			m.selected = max(len(m.rooms)-1, 0)
		}
		return m, m.tick()
	}

	return m, nil
}

// Selected returns the highlighted room, if any
func (m Model) Selected() (muc.Summary, bool) {
	if m.selected < 0 || m.selected >= len(m.rooms) {
		return muc.Summary{}, false
	}
	return m.rooms[m.selected], true
}

// View renders the monitor
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	header := m.styles.Header.Render(m.title)
	list := m.roomsView()
	body := list
	if m.showOccupants {
		body = lipgloss.JoinHorizontal(lipgloss.Top, list, " ", m.detailView())
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.statusView())
}

func (m Model) roomsView() string {
	var b strings.Builder
	b.WriteString(m.styles.Group.Render(fmt.Sprintf("Rooms (%d)", len(m.rooms))))
	b.WriteString("\n")

	if len(m.rooms) == 0 {
		b.WriteString(m.styles.Muted.Render(" no rooms"))
		return m.styles.Border.Width(m.roomWidth).Render(b.String())
	}

	for i, r := range m.rooms {
		var indicator string
		if r.Locked {
			indicator = m.styles.Locked.Render("⊘")
		} else {
			indicator = m.styles.Open.Render("●")
		}
		name := r.Address.String()
		count := strconv.Itoa(len(r.Occupants))
		if limit := m.roomWidth - len(count) - 5; limit > 1 && len(name) > limit {
			name = name[:limit-1] + "…"
		}
		line := " " + indicator + " " + name + " " + m.styles.Muted.Render(count)
		if i == m.selected {
			line = m.styles.Selected.Render(line)
		} else {
			line = m.styles.Room.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return m.styles.Border.Width(m.roomWidth).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) detailView() string {
	room, ok := m.Selected()
	if !ok {
		return ""
	}

	var b strings.Builder
	title := room.Address.String()
	if room.Config.Name != "" {
		title = room.Config.Name + " " + m.styles.Muted.Render(title)
	}
	b.WriteString(m.styles.Group.Render(title))
	b.WriteString("\n")
	if room.Subject.IsSet() {
		b.WriteString(m.styles.Base.Render("Subject: " + room.Subject.Text))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.Muted.Render(flags(room)))
	b.WriteString("\n")

	var moderators, participants, visitors []muc.Occupant
	for _, o := range room.Occupants {
		switch o.Role {
		case muc.RoleModerator:
			moderators = append(moderators, o)
		case muc.RoleParticipant:
			participants = append(participants, o)
		case muc.RoleVisitor:
			visitors = append(visitors, o)
		}
	}

	groups := []struct {
		name  string
		list  []muc.Occupant
		style lipgloss.Style
	}{
		{"Moderators", moderators, m.styles.Moderator},
		{"Participants", participants, m.styles.Participant},
		{"Visitors", visitors, m.styles.Visitor},
	}
	for _, g := range groups {
		if len(g.list) == 0 {
			continue
		}
		b.WriteString(m.styles.Group.Render(g.name))
		b.WriteString("\n")
		for _, o := range g.list {
			b.WriteString(" " + g.style.Render(badge(room.Affiliations[o.JID.String()])+o.Nick))
			if len(o.Resources) > 1 {
				b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" ×%d", len(o.Resources))))
			}
			b.WriteString("\n")
		}
	}

	width := m.width - m.roomWidth - 5
	if width < 20 {
		width = 20
	}
	return m.styles.Border.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) statusView() string {
	parts := []string{fmt.Sprintf("%d rooms", len(m.rooms))}
	occupants := 0
	for _, r := range m.rooms {
		occupants += len(r.Occupants)
	}
	parts = append(parts, fmt.Sprintf("%d occupants", occupants))
	if m.stats != nil {
		s := m.stats()
		parts = append(parts, fmt.Sprintf("in %d", s.Received), fmt.Sprintf("out %d", s.Sent), fmt.Sprintf("refused %d", s.Refused))
		if s.Dropped > 0 {
			parts = append(parts, m.styles.Error.Render(fmt.Sprintf("dropped %d", s.Dropped)))
		}
	}
	if !m.updated.IsZero() {
		parts = append(parts, m.updated.Format("15:04:05"))
	}
	return m.styles.StatusBar.Render(strings.Join(parts, " │ "))
}

func badge(a muc.Affiliation) string {
	switch a {
	case muc.AffiliationOwner:
		return "&"
	case muc.AffiliationAdmin:
		return "@"
	case muc.AffiliationMember:
		return "+"
	}
	return ""
}

func flags(r muc.Summary) string {
	var f []string
	f = append(f, string(r.Config.Anonymity))
	if r.Locked {
		f = append(f, "locked")
	}
	if r.Config.MembersOnly {
		f = append(f, "members-only")
	}
	if r.Config.Moderated {
		f = append(f, "moderated")
	}
	if r.Config.PasswordProtected {
		f = append(f, "password")
	}
	if r.Config.Persistent {
		f = append(f, "persistent")
	}
	if r.Config.Logging {
		f = append(f, "logged")
	}
	return strings.Join(f, " · ")
}
