package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"

	"github.com/notepid/relaybot/internal/admin/app"
	"github.com/notepid/relaybot/internal/relay"
	"github.com/notepid/relaybot/internal/router"
	"github.com/notepid/relaybot/internal/user"
)

type usersModel struct {
	app *app.App

	width  int
	height int

	Done bool

	state usersState

	list   list.Model
	err    error
	status string

	selected *user.User
	history  string

	form *huh.Form

	newPassword string
	pwConfirm   string
	pwSave      bool
}

type usersState int

const (
	usersStateList usersState = iota
	usersStateDetail
	usersStateHistory
	usersStateSetPassword
)

type userItem struct {
	id    string
	title string
	desc  string
	kind  string
}

func (i userItem) Title() string       { return i.title }
func (i userItem) Description() string { return i.desc }
func (i userItem) FilterValue() string { return i.title + " " + i.id }

func newUsersModel(a *app.App) *usersModel {
	m := &usersModel{app: a, state: usersStateList}
	m.reloadList()
	return m
}

func (m *usersModel) Finished() bool { return m.Done }

func (m *usersModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *usersModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "esc", "q", "enter":
				m.err = nil
				m.state = usersStateList
				m.form = nil
				m.selected = nil
				m.reloadList()
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "q":
			if m.state == usersStateList && m.list.FilterState() != list.Filtering {
				m.Done = true
				return nil
			}
		case "esc":
			if m.state != usersStateList || m.list.FilterState() == list.Unfiltered {
				m.back()
				return nil
			}
		}
	}

	switch m.state {
	case usersStateList:
		return m.updateList(msg)
	case usersStateDetail:
		return m.updateDetail(msg)
	case usersStateHistory:
		return nil
	case usersStateSetPassword:
		return m.updateForm(msg)
	default:
		return nil
	}
}

func (m *usersModel) updateList(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" && m.list.FilterState() != list.Filtering {
		it, ok := m.list.SelectedItem().(userItem)
		if !ok {
			return cmd
		}
		u, err := m.app.User(it.id)
		if err != nil {
			m.err = err
			return nil
		}
		m.selected = u
		m.status = ""
		m.state = usersStateDetail
		m.list = m.newActionList()
		return nil
	}
	return cmd
}

func (m *usersModel) updateDetail(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		it, ok := m.list.SelectedItem().(userItem)
		if !ok {
			return cmd
		}
		switch it.kind {
		case "toggle_block":
			blocked, err := m.app.ToggleBlock(m.selected.ID)
			if err != nil {
				m.err = err
				return nil
			}
			if blocked {
				m.status = "User blocked."
			} else {
				m.status = "User unblocked."
			}
			m.refreshSelected()
			m.list = m.newActionList()
		case "history":
			entries, err := m.app.History(m.selected.ID)
			if err != nil {
				m.err = err
				return nil
			}
			m.history = relay.FormatHistory(m.selected.ID, entries)
			m.state = usersStateHistory
		case "set_password":
			m.startSetPassword()
		case "back":
			m.back()
		}
		return nil
	}
	return cmd
}

func (m *usersModel) updateForm(msg tea.Msg) tea.Cmd {
	if m.form == nil {
		m.err = fmt.Errorf("internal error: form not initialized")
		return nil
	}
	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f
	if m.form.State == huh.StateCompleted {
		if m.pwSave && m.selected != nil {
			if err := m.app.SetConsolePassword(m.selected.ID, m.newPassword); err != nil {
				m.err = err
				return nil
			}
			m.status = "Console password updated."
		}
		m.refreshSelected()
		m.form = nil
		m.state = usersStateDetail
		m.list = m.newActionList()
		return nil
	}
	return cmd
}

func (m *usersModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Users error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case usersStateList:
		return m.list.View() + "\n(q to quit, / to filter, enter to select)"
	case usersStateDetail:
		if m.selected == nil {
			return "No user selected\n\n(esc to go back)"
		}
		m.list.Title = "Actions"
		out := titleStyle.Render(router.FormatUser(m.selected)) + "\n" + m.detailMeta() + "\n"
		if m.status != "" {
			out += okStyle.Render(m.status) + "\n"
		}
		return out + m.list.View() + "\n(esc to go back)"
	case usersStateHistory:
		return m.history + "\n\n(esc to go back)"
	default:
		return m.form.View() + "\n\n(esc to go back)"
	}
}

func (m *usersModel) detailMeta() string {
	u := m.selected
	state := "active"
	if u.Blocked {
		state = "blocked"
	}
	pw := "not set"
	if u.ConsolePasswordHash != "" {
		pw = "set"
	}
	return fmt.Sprintf("Status: %s\nFirst seen: %s\nLast active: %s\nConsole password: %s\n",
		state, humanize.Time(u.CreatedAt), humanize.Time(u.LastActive), pw)
}

func (m *usersModel) reloadList() {
	users, err := m.app.Users()
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(users))
	for _, u := range users {
		title := u.DisplayName
		if title == "" {
			title = u.ID
		}
		desc := []string{"id " + u.ID}
		if u.Username != "" {
			desc = append(desc, "@"+u.Username)
		}
		if u.Blocked {
			desc = append(desc, "blocked")
		}
		desc = append(desc, "active "+humanize.Time(u.LastActive))
		items = append(items, userItem{id: u.ID, title: title, desc: strings.Join(desc, " • "), kind: "user"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(true)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
	m.list.Title = "Users"
}

func (m *usersModel) newActionList() list.Model {
	block := userItem{title: "Block", desc: "Stop relaying this user's messages", kind: "toggle_block"}
	if m.selected != nil && m.selected.Blocked {
		block = userItem{title: "Unblock", desc: "Relay this user's messages again", kind: "toggle_block"}
	}
	items := []list.Item{
		block,
		userItem{title: "History", desc: "Recent conversation", kind: "history"},
		userItem{title: "Set console password", desc: "Required for admin logins over SSH and websocket", kind: "set_password"},
		userItem{title: "Back", desc: "Return to users list", kind: "back"},
	}
	l := list.New(items, list.NewDefaultDelegate(), m.width, m.height-10)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)
	return l
}

func (m *usersModel) startSetPassword() {
	m.state = usersStateSetPassword
	m.newPassword = ""
	m.pwConfirm = ""
	m.pwSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("New password").Description("Leave empty to clear").
				EchoMode(huh.EchoModePassword).Value(&m.newPassword),
			huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&m.pwConfirm).Validate(func(s string) error {
				if s != m.newPassword {
					return fmt.Errorf("passwords do not match")
				}
				return nil
			}),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save password?").Value(&m.pwSave),
		),
	)
}

func (m *usersModel) back() {
	switch m.state {
	case usersStateList:
		m.Done = true
	case usersStateDetail:
		m.state = usersStateList
		m.selected = nil
		m.form = nil
		m.reloadList()
	default:
		m.state = usersStateDetail
		m.form = nil
		m.list = m.newActionList()
	}
}

func (m *usersModel) refreshSelected() {
	if m.selected == nil {
		return
	}
	if u, err := m.app.User(m.selected.ID); err == nil {
		m.selected = u
	}
}
