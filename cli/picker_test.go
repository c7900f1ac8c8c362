package cli

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/nm-openvpn/vpn"
)

func testServers() []vpn.Server {
	return []vpn.Server{
		{Name: "CH#1", Label: "Zurich", Load: 12},
		{Name: "DE#3", Label: "Frankfurt", Load: 40},
		{Name: "NL#7", Label: "Amsterdam", Load: 73},
	}
}

func press(m pickerModel, keys ...tea.KeyMsg) (pickerModel, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(pickerModel)
	}
	return m, cmd
}

var (
	keyUp    = tea.KeyMsg{Type: tea.KeyUp}
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
	keyJ     = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}}
)

func TestPicker_Navigation(t *testing.T) {
	tests := []struct {
		name       string
		keys       []tea.KeyMsg
		wantCursor int
	}{
		{"start", nil, 0},
		{"down", []tea.KeyMsg{keyDown}, 1},
		{"vim down", []tea.KeyMsg{keyJ, keyJ}, 2},
		{"clamped bottom", []tea.KeyMsg{keyDown, keyDown, keyDown, keyDown}, 2},
		{"clamped top", []tea.KeyMsg{keyUp}, 0},
		{"down up", []tea.KeyMsg{keyDown, keyDown, keyUp}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := press(newPicker(testServers()), tt.keys...)
			if m.cursor != tt.wantCursor {
				t.Errorf("cursor = %d, want %d", m.cursor, tt.wantCursor)
			}
			if cmd != nil {
				t.Error("navigation should not quit")
			}
			if _, ok := m.selected(); ok {
				t.Error("nothing should be selected while navigating")
			}
		})
	}
}

func TestPicker_Choose(t *testing.T) {
	m, cmd := press(newPicker(testServers()), keyDown, keyEnter)
	if cmd == nil {
		t.Fatal("enter should quit the program")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("enter should return tea.Quit")
	}
	got, ok := m.selected()
	if !ok || got.Name != "DE#3" {
		t.Errorf("selected() = %v, %v, want DE#3", got.Name, ok)
	}
}

func TestPicker_Quit(t *testing.T) {
	m, cmd := press(newPicker(testServers()), keyDown, keyEsc)
	if cmd == nil {
		t.Fatal("esc should quit the program")
	}
	if _, ok := m.selected(); ok {
		t.Error("quitting should not select a server")
	}

	empty, _ := press(newPicker(nil), keyEnter)
	if _, ok := empty.selected(); ok {
		t.Error("an empty picker cannot select")
	}
}

func TestPicker_View(t *testing.T) {
	m, _ := press(newPicker(testServers()), keyDown)
	view := m.View()

	for _, want := range []string{"Choose a server", "CH#1", "Frankfurt", "73%", "enter set up"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
	if !strings.Contains(view, "> ") {
		t.Error("View() should mark the cursor row")
	}
}

func TestPicker_IgnoresOtherMessages(t *testing.T) {
	m := newPicker(testServers())
	next, cmd := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	if cmd != nil || next.(pickerModel).cursor != 0 {
		t.Error("non-key messages should be ignored")
	}
}
