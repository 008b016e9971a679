package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/dustin/go-humanize"

	"github.com/notepid/relaybot/internal/admin/app"
	"github.com/notepid/relaybot/internal/message"
)

const recentLimit = 100

type messagesModel struct {
	app *app.App

	width  int
	height int

	Done bool

	list list.Model
	err  error

	detail *message.Entry
}

type msgItem struct {
	entry message.Entry
}

func (i msgItem) Title() string {
	text := strings.ReplaceAll(i.entry.Content, "\n", " ")
	if r := []rune(text); len(r) > 60 {
		text = string(r[:60]) + "..."
	}
	return text
}

func (i msgItem) Description() string {
	who := "from " + i.entry.UserID
	if i.entry.Direction == message.AdminToUser {
		who = "admin " + i.entry.AdminID + " to " + i.entry.UserID
	}
	return who + " • " + humanize.Time(i.entry.CreatedAt)
}

func (i msgItem) FilterValue() string { return i.entry.UserID + " " + i.entry.Content }

func newMessagesModel(a *app.App) *messagesModel {
	m := &messagesModel{app: a}
	m.reload()
	return m
}

func (m *messagesModel) Finished() bool { return m.Done }

func (m *messagesModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *messagesModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "esc", "q", "enter":
				m.Done = true
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc", "q":
			if m.list.FilterState() == list.Filtering {
				break
			}
			if m.detail != nil {
				m.detail = nil
				return nil
			}
			if msg.String() == "q" || m.list.FilterState() == list.Unfiltered {
				m.Done = true
				return nil
			}
		case "r":
			if m.detail == nil && m.list.FilterState() != list.Filtering {
				m.reload()
				return nil
			}
		}
	}

	if m.detail != nil {
		return nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" && m.list.FilterState() != list.Filtering {
		if it, ok := m.list.SelectedItem().(msgItem); ok {
			e := it.entry
			m.detail = &e
			return nil
		}
	}
	return cmd
}

func (m *messagesModel) reload() {
	entries, err := m.app.Recent(recentLimit)
	if err != nil {
		m.err = err
		return
	}
	items := make([]list.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, msgItem{entry: e})
	}
	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.Title = "Recent messages"
	m.list.SetShowStatusBar(true)
	m.list.SetFilteringEnabled(true)
}

func (m *messagesModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Messages error: %v\n\nPress Enter/Esc to go back.", m.err)
	}
	if m.detail != nil {
		e := m.detail
		header := fmt.Sprintf("User: %s\nDirection: %s\nDate: %s (%s)",
			e.UserID, e.Direction, e.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(e.CreatedAt))
		if e.AdminID != "" {
			header += "\nAdmin: " + e.AdminID
		}
		return titleStyle.Render(header) + "\n\n" + e.Content + "\n\n(esc back)"
	}
	return m.list.View() + "\n(r reload, / filter, esc back)"
}
