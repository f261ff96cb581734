package theme

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
)

// Theme represents a monitor color theme
type Theme struct {
	Name        string       `toml:"name"`
	Description string       `toml:"description"`
	Colors      ColorsConfig `toml:"colors"`
	Rooms       RoomsConfig  `toml:"rooms"`
}

// ColorsConfig contains the base color palette
type ColorsConfig struct {
	Primary    string `toml:"primary"`
	Foreground string `toml:"foreground"`
	Background string `toml:"background"`
	Muted      string `toml:"muted"`
	Border     string `toml:"border"`
	Error      string `toml:"error"`
	Warning    string `toml:"warning"`
	Success    string `toml:"success"`
}

// RoomsConfig contains room list styles
type RoomsConfig struct {
	HeaderFg    string `toml:"header_fg"`
	HeaderBg    string `toml:"header_bg"`
	SelectedFg  string `toml:"selected_fg"`
	SelectedBg  string `toml:"selected_bg"`
	GroupFg     string `toml:"group_fg"`
	ModeratorFg string `toml:"moderator_fg"`
	VisitorFg   string `toml:"visitor_fg"`
}

// Styles contains the compiled lipgloss styles for a theme
type Styles struct {
	Base   lipgloss.Style
	Border lipgloss.Style
	Muted  lipgloss.Style

	Header   lipgloss.Style
	Selected lipgloss.Style
	Room     lipgloss.Style
	Group    lipgloss.Style

	Moderator   lipgloss.Style
	Participant lipgloss.Style
	Visitor     lipgloss.Style

	Locked    lipgloss.Style
	Open      lipgloss.Style
	StatusBar lipgloss.Style
	Error     lipgloss.Style
}

// Manager handles theme loading and switching
type Manager struct {
	themes      map[string]*Theme
	current     *Theme
	currentName string
	styles      *Styles
	themeDirs   []string
}

// NewManager creates a theme manager with the built-in themes, nord selected
func NewManager(themeDirs ...string) *Manager {
	m := &Manager{
		themes:    make(map[string]*Theme),
		themeDirs: themeDirs,
	}

	m.themes["nord"] = NordTheme()
	m.themes["gruvbox"] = GruvboxTheme()

	m.current = m.themes["nord"]
	m.currentName = "nord"
	m.styles = compileStyles(m.current)

	return m
}

// NordTheme is the default theme
func NordTheme() *Theme {
	return &Theme{
		Name:        "nord",
		Description: "Arctic blue",
		Colors: ColorsConfig{
			Primary:    "#88C0D0",
			Foreground: "#D8DEE9",
			Background: "#2E3440",
			Muted:      "#4C566A",
			Border:     "#434C5E",
			Error:      "#BF616A",
			Warning:    "#EBCB8B",
			Success:    "#A3BE8C",
		},
		Rooms: RoomsConfig{
			HeaderFg:    "#2E3440",
			HeaderBg:    "#88C0D0",
			SelectedFg:  "#ECEFF4",
			SelectedBg:  "#434C5E",
			GroupFg:     "#81A1C1",
			ModeratorFg: "#B48EAD",
			VisitorFg:   "#4C566A",
		},
	}
}

// GruvboxTheme is a warm retro theme
func GruvboxTheme() *Theme {
	return &Theme{
		Name:        "gruvbox",
		Description: "Retro groove",
		Colors: ColorsConfig{
			Primary:    "#FABD2F",
			Foreground: "#EBDBB2",
			Background: "#282828",
			Muted:      "#928374",
			Border:     "#504945",
			Error:      "#FB4934",
			Warning:    "#FE8019",
			Success:    "#B8BB26",
		},
		Rooms: RoomsConfig{
			HeaderFg:    "#282828",
			HeaderBg:    "#FABD2F",
			SelectedFg:  "#FBF1C7",
			SelectedBg:  "#504945",
			GroupFg:     "#83A598",
			ModeratorFg: "#D3869B",
			VisitorFg:   "#928374",
		},
	}
}

// LoadTheme loads a theme from a TOML file
func (m *Manager) LoadTheme(name string) error {
	for _, dir := range m.themeDirs {
		path := filepath.Join(dir, name+".toml")
		if _, err := os.Stat(path); err == nil {
			var theme Theme
			if _, err := toml.DecodeFile(path, &theme); err != nil {
				return fmt.Errorf("failed to parse theme file %s: %w", path, err)
			}
			theme.Name = name
			m.themes[name] = &theme
			return nil
		}
	}
	return fmt.Errorf("theme %s not found", name)
}

// SetTheme switches to a different theme
func (m *Manager) SetTheme(name string) error {
	theme, ok := m.themes[name]
	if !ok {
		if err := m.LoadTheme(name); err != nil {
			return err
		}
		theme = m.themes[name]
	}
	m.current = theme
	m.currentName = name
	m.styles = compileStyles(theme)
	return nil
}

// CurrentName returns the current theme name
func (m *Manager) CurrentName() string {
	return m.currentName
}

// Styles returns the compiled styles for the current theme
func (m *Manager) Styles() *Styles {
	return m.styles
}

// AvailableThemes returns the sorted names of the loaded themes
func (m *Manager) AvailableThemes() []string {
	names := make([]string, 0, len(m.themes))
	for name := range m.themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func compileStyles(t *Theme) *Styles {
	s := &Styles{}

	s.Base = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Foreground))

	s.Border = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(t.Colors.Border))

	s.Muted = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Muted))

	s.Header = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Rooms.HeaderFg)).
		Background(lipgloss.Color(t.Rooms.HeaderBg)).
		Bold(true).
		Padding(0, 1)

	s.Selected = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Rooms.SelectedFg)).
		Background(lipgloss.Color(t.Rooms.SelectedBg)).
		Bold(true)

	s.Room = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Foreground))

	s.Group = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Rooms.GroupFg)).
		Bold(true)

	s.Moderator = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Rooms.ModeratorFg))

	s.Participant = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Foreground))

	s.Visitor = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Rooms.VisitorFg)).
		Italic(true)

	s.Locked = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Warning))

	s.Open = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Success))

	s.StatusBar = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Foreground)).
		Background(lipgloss.Color(t.Colors.Border)).
		Padding(0, 1)

	s.Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Colors.Error)).
		Bold(true)

	return s
}
