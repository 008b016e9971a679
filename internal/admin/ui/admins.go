package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/huh"

	"github.com/notepid/relaybot/internal/admin/app"
	"github.com/notepid/relaybot/internal/scripting"
)

type adminsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	list   list.Model
	form   *huh.Form
	err    error
	status string

	addID   string
	target  string
	confirm bool
}

type adminItem struct {
	id   string
	kind string
}

func (i adminItem) Title() string {
	if i.kind == "add" {
		return "+ Add admin"
	}
	return i.id
}

func (i adminItem) Description() string {
	if i.kind == "add" {
		return "Grant admin rights to a user id"
	}
	return "enter to remove"
}

func (i adminItem) FilterValue() string { return i.id }

func newAdminsModel(a *app.App) *adminsModel {
	m := &adminsModel{app: a}
	m.reload()
	return m
}

func (m *adminsModel) Finished() bool { return m.Done }

func (m *adminsModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-4)
}

func (m *adminsModel) reload() {
	ids, err := m.app.Admins()
	if err != nil {
		m.err = err
		return
	}
	items := []list.Item{adminItem{kind: "add"}}
	for _, id := range ids {
		items = append(items, adminItem{id: id, kind: "admin"})
	}
	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-4)
	m.list.Title = fmt.Sprintf("Admins (%d)", len(ids))
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(false)
}

func (m *adminsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "esc", "q", "enter":
				m.err = nil
				m.form = nil
				m.reload()
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			if m.form != nil {
				m.form = nil
				return nil
			}
			m.Done = true
			return nil
		case "q":
			if m.form == nil {
				m.Done = true
				return nil
			}
		}
	}

	if m.form != nil {
		return m.updateForm(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		it, ok := m.list.SelectedItem().(adminItem)
		if !ok {
			return cmd
		}
		m.status = ""
		if it.kind == "add" {
			m.startAdd()
		} else {
			m.startRemove(it.id)
		}
		return m.form.Init()
	}
	return cmd
}

func (m *adminsModel) updateForm(msg tea.Msg) tea.Cmd {
	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f
	if m.form.State != huh.StateCompleted {
		return cmd
	}

	switch {
	case m.target == "":
		id := strings.TrimSpace(m.addID)
		if err := m.app.AddAdmin(id); err != nil {
			m.err = err
			return nil
		}
		m.status = "Added " + id + " as admin."
	case m.confirm:
		if err := m.app.RemoveAdmin(m.target); err != nil {
			m.err = err
			return nil
		}
		m.status = "Removed " + m.target + " from admins."
	}
	m.form = nil
	m.reload()
	return nil
}

func (m *adminsModel) startAdd() {
	m.addID = ""
	m.target = ""
	m.form = huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("User id").Value(&m.addID).Validate(func(s string) error {
			return scripting.ValidateUserID(strings.TrimSpace(s))
		}),
	))
}

func (m *adminsModel) startRemove(id string) {
	m.target = id
	m.confirm = false
	m.form = huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Remove " + id + " from admins?").Value(&m.confirm),
	))
}

func (m *adminsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Admins error: %v\n\nPress Enter/Esc to go back.", m.err)
	}
	if m.form != nil {
		return m.form.View() + "\n\n(esc to cancel)"
	}
	out := m.list.View()
	if m.status != "" {
		out += "\n" + okStyle.Render(m.status)
	}
	return out + "\n(q to go back)"
}
