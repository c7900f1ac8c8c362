package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/nm-openvpn/vpn"
)

type pickerKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Choose key.Binding
	Quit   key.Binding
}

var pickerKeys = pickerKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "set up")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// pickerModel lets the user choose a server from the catalog.
type pickerModel struct {
	servers []vpn.Server
	cursor  int
	chosen  int
	keys    pickerKeyMap
}

func newPicker(servers []vpn.Server) pickerModel {
	return pickerModel{servers: servers, chosen: -1, keys: pickerKeys}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.servers)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, m.keys.Choose):
		if len(m.servers) > 0 {
			m.chosen = m.cursor
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Choose a server"))
	b.WriteString("\n\n")

	for i, s := range m.servers {
		cursor := "  "
		line := fmt.Sprintf("%-10s %-24s load %3d%%", s.Name, s.Label, s.Load)
		if i == m.cursor {
			cursor = okStyle.Render("> ")
			line = okStyle.Render(line)
		}
		b.WriteString(cursor + line + "\n")
	}

	help := []string{}
	for _, k := range []key.Binding{m.keys.Up, m.keys.Down, m.keys.Choose, m.keys.Quit} {
		h := k.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString("\n" + dimStyle.Render(strings.Join(help, " • ")) + "\n")
	return b.String()
}

// selected returns the chosen server, if any.
func (m pickerModel) selected() (vpn.Server, bool) {
	if m.chosen < 0 || m.chosen >= len(m.servers) {
		return vpn.Server{}, false
	}
	return m.servers[m.chosen], true
}
