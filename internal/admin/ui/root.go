package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/notepid/relaybot/internal/admin/app"
)

type screen int

const (
	screenHome screen = iota
	screenSettings
	screenUsers
	screenAdmins
	screenMessages
)

// subModel is one screen reachable from the home menu.
type subModel interface {
	Update(msg tea.Msg) tea.Cmd
	View() string
	SetSize(w, h int)
	Finished() bool
}

type rootModel struct {
	app *app.App

	width  int
	height int

	active screen

	homeList list.Model
	sub      subModel
}

type menuItem struct {
	title string
	desc  string
	to    screen
}

func (m menuItem) Title() string       { return m.title }
func (m menuItem) Description() string { return m.desc }
func (m menuItem) FilterValue() string { return m.title }

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func NewRootModel(a *app.App) tea.Model {
	items := []list.Item{
		menuItem{title: "Users", desc: "Block, unblock, history, console passwords", to: screenUsers},
		menuItem{title: "Admins", desc: "Add or remove admins", to: screenAdmins},
		menuItem{title: "Messages", desc: "Recent relayed messages", to: screenMessages},
		menuItem{title: "Settings", desc: "Limits and reference secret", to: screenSettings},
		menuItem{title: "Quit", desc: "Exit", to: -1},
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = a.Config.Bot.Name + " Admin"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)

	return &rootModel{
		app:      a,
		active:   screenHome,
		homeList: l,
	}
}

func (m *rootModel) Init() tea.Cmd {
	return nil
}

func (m *rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.homeList.SetSize(msg.Width, msg.Height-4)
		if m.sub != nil {
			m.sub.SetSize(msg.Width, msg.Height)
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}

	if m.active == screenHome || m.sub == nil {
		return m.updateHome(msg)
	}

	cmd := m.sub.Update(msg)
	if m.sub.Finished() {
		m.active = screenHome
		m.sub = nil
	}
	return m, cmd
}

func (m *rootModel) updateHome(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.homeList, cmd = m.homeList.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		if it, ok := m.homeList.SelectedItem().(menuItem); ok {
			if it.to == -1 {
				return m, tea.Quit
			}
			m.activate(it.to)
			return m, nil
		}
	}
	return m, cmd
}

func (m *rootModel) activate(s screen) {
	m.active = s
	switch s {
	case screenSettings:
		m.sub = newSettingsModel(m.app)
	case screenUsers:
		m.sub = newUsersModel(m.app)
	case screenAdmins:
		m.sub = newAdminsModel(m.app)
	case screenMessages:
		m.sub = newMessagesModel(m.app)
	}
	if m.sub != nil {
		m.sub.SetSize(m.width, m.height)
	}
}

func (m *rootModel) View() string {
	if m.active == screenHome || m.sub == nil {
		return m.homeList.View() + "\n" + m.statsLine()
	}
	return m.sub.View()
}

func (m *rootModel) statsLine() string {
	s, err := m.app.Stats()
	if err != nil {
		return errStyle.Render("Error: ") + err.Error()
	}
	return dimStyle.Render(fmt.Sprintf("%s users • %s messages • %d admins • %s storage",
		humanize.Comma(int64(s.Users)), humanize.Comma(int64(s.Messages)), s.Admins, m.app.Store.Driver))
}
