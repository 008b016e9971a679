package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"

	"github.com/notepid/relaybot/internal/admin/app"
)

type settingsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	form   *huh.Form
	err    error
	status string

	rotate bool
}

func newSettingsModel(a *app.App) *settingsModel {
	m := &settingsModel{app: a}
	m.form = m.buildForm()
	return m
}

func (m *settingsModel) buildForm() *huh.Form {
	m.rotate = false
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Rotate thread reference secret?").
				Description("Reply, Block and History buttons on already delivered messages stop working after the bot restarts.").
				Value(&m.rotate),
		),
	)
}

func (m *settingsModel) Finished() bool { return m.Done }

func (m *settingsModel) SetSize(w, h int) {
	m.width, m.height = w, h
}

func (m *settingsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "esc", "q", "enter":
				m.Done = true
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
		m.Done = true
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
		if m.rotate {
			if m.app.Config.Relay.RefSecret != "" {
				m.status = "The secret is set in the config file; edit relay.ref_secret instead."
			} else if err := m.app.RotateRefSecret(); err != nil {
				m.err = err
				return nil
			} else {
				m.status = "Reference secret rotated. Restart the bot to apply."
			}
		}
		m.form = m.buildForm()
		return m.form.Init()
	}
	return cmd
}

func (m *settingsModel) summary() string {
	c := m.app.Config
	var b strings.Builder
	fmt.Fprintf(&b, "Bot name:          %s\n", c.Bot.Name)
	fmt.Fprintf(&b, "Storage:           %s (%s)\n", c.Storage.Driver, c.Storage.Path)
	fmt.Fprintf(&b, "Rate limit:        %d messages per %s, min interval %s over the last %d\n",
		c.RateLimit.MaxMessages, c.RateLimit.Window, c.RateLimit.MinInterval, c.RateLimit.History)
	fmt.Fprintf(&b, "Broadcast:         %d concurrent, %s/s, timeout %s\n",
		c.Broadcast.Concurrency, humanize.Ftoa(c.Broadcast.PerSecond), c.Broadcast.SendTimeout)
	fmt.Fprintf(&b, "Reply session TTL: %s\n", c.Bot.ReplySessionTTL)
	fmt.Fprintf(&b, "History limit:     %d\n", c.Bot.HistoryLimit)
	fmt.Fprintf(&b, "Listeners:         ssh :%d, websocket :%d, health :%d (max %d sessions)\n",
		c.Server.SSHPort, c.Server.WSPort, c.Server.HealthPort, c.Server.MaxSessions)
	fmt.Fprintf(&b, "Reference secret:  %s\n", m.app.RefSecretSource())
	return b.String()
}

func (m *settingsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Settings error: %v\n\nPress Enter/Esc to go back.", m.err)
	}
	out := titleStyle.Render("Settings") + "\n\n" + m.summary() + "\n"
	if m.status != "" {
		out += okStyle.Render(m.status) + "\n\n"
	}
	return out + m.form.View() + "\n\n(esc to go back)"
}
