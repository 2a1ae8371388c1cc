// Package tui provides the terminal device-setup screen: pick the controller
// input and output from the live MIDI device list and save them to config.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/james-see/patchbay/pkg/config"
	"github.com/james-see/patchbay/pkg/midi"
)

var (
	patchAmber = lipgloss.Color("#FFB000")
	cableBlue  = lipgloss.Color("#4FC3F7")
	silverGray = lipgloss.Color("#C0C0C0")
	darkGray   = lipgloss.Color("#333333")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(patchAmber).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(patchAmber).
			Bold(true).
			PaddingLeft(2)

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(cableBlue).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(patchAmber).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(patchAmber).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateInput State = iota
	StateOutput
	StateSaving
	StateResult
)

// maxEvents is how many hot-plug lines the footer keeps.
const maxEvents = 4

// Model is the device-setup screen.
type Model struct {
	state     State
	manager   *midi.Manager
	cfg       *config.Config
	cfgPath   string
	threshold float64
	changes   chan midi.Change

	candidates []midi.Scored
	index      int
	input      string
	output     string
	events     []string

	spinner spinner.Model
	err     error
	width   int
	height  int
}

// deviceChangeMsg carries one hot-plug change into Update.
type deviceChangeMsg midi.Change

// savedMsg signals the config write finished.
type savedMsg struct{ err error }

// New creates the model. The manager should already have been polled once;
// the model subscribes to its changes.
func New(manager *midi.Manager, cfg *config.Config, cfgPath string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(patchAmber)

	changes := make(chan midi.Change, 16)
	manager.OnChange(func(c midi.Change) {
		select {
		case changes <- c:
		default:
		}
	})

	m := Model{
		state:     StateInput,
		manager:   manager,
		cfg:       cfg,
		cfgPath:   cfgPath,
		threshold: cfg.MIDI.FuzzyThreshold,
		changes:   changes,
		spinner:   s,
	}
	if m.threshold <= 0 {
		m.threshold = midi.DefaultMatchThreshold
	}
	m.rank()
	return m
}

// Init starts listening for hot-plug changes.
func (m Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		return deviceChangeMsg(<-m.changes)
	}
}

// target is the name the current list is ranked against: the configured
// controller for inputs, the chosen input for outputs so the same
// hardware floats to the top.
func (m Model) target() string {
	if m.state == StateOutput {
		if m.cfg.MIDI.ControllerOutput != "" {
			return m.cfg.MIDI.ControllerOutput
		}
		return m.input
	}
	return m.cfg.MIDI.ControllerInput
}

func (m *Model) rank() {
	typ := midi.Input
	if m.state == StateOutput {
		typ = midi.Output
	}
	keep := ""
	if m.index < len(m.candidates) {
		keep = m.candidates[m.index].ID
	}
	m.candidates = m.manager.Rank(typ, m.target())
	m.index = 0
	for i, c := range m.candidates {
		if c.ID == keep {
			m.index = i
		}
	}
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case StateInput, StateOutput:
			return m.updateList(msg)
		case StateResult:
			if k := msg.String(); k == "enter" || k == "esc" || k == "q" || k == "ctrl+c" {
				return m, tea.Quit
			}
		}

	case deviceChangeMsg:
		m.events = append(m.events, fmt.Sprintf("%s %s", msg.Kind, msg.Device.Name()))
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		if m.state == StateInput || m.state == StateOutput {
			m.rank()
		}
		return m, m.waitForChange()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case savedMsg:
		m.state = StateResult
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.index > 0 {
			m.index--
		}
	case "down", "j":
		if m.index < len(m.candidates)-1 {
			m.index++
		}
	case "r":
		if err := m.manager.Poll(); err != nil {
			m.err = err
		}
		m.rank()
	case "enter", "s":
		name := ""
		if msg.String() == "enter" && m.index < len(m.candidates) {
			name = m.candidates[m.index].Name
		}
		if m.state == StateInput {
			m.input = name
			m.state = StateOutput
			m.index = 0
			m.candidates = nil
			m.rank()
			return m, nil
		}
		m.output = name
		m.state = StateSaving
		return m, tea.Batch(m.spinner.Tick, m.save())
	case "esc":
		if m.state == StateOutput {
			m.state = StateInput
			m.candidates = nil
			m.rank()
		}
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// save writes the choices. A skipped direction keeps its saved value.
func (m Model) save() tea.Cmd {
	cfg := *m.cfg
	if m.input != "" {
		cfg.MIDI.ControllerInput = m.input
	}
	if m.output != "" {
		cfg.MIDI.ControllerOutput = m.output
	}
	path := m.cfgPath
	return func() tea.Msg {
		return savedMsg{err: config.Save(path, &cfg)}
	}
}

// Choice returns the selected input and output names; empty means skipped.
func (m Model) Choice() (input, output string) { return m.input, m.output }

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(lipgloss.NewStyle().Foreground(patchAmber).Bold(true).Render("PATCHBAY · device setup"))
	s.WriteString("\n\n")

	switch m.state {
	case StateInput, StateOutput:
		s.WriteString(m.viewList())
	case StateSaving:
		s.WriteString(boxStyle.Render(fmt.Sprintf("%s Saving %s...", m.spinner.View(), m.cfgPath)))
	case StateResult:
		s.WriteString(m.viewResult())
	}

	if len(m.events) > 0 {
		s.WriteString("\n")
		s.WriteString(statusStyle.Render(strings.Join(m.events, "\n")))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓: navigate • enter: select • s: skip • r: rescan • esc: back • q: quit"))

	return s.String()
}

func (m Model) viewList() string {
	var s strings.Builder

	title := " SELECT CONTROLLER INPUT "
	if m.state == StateOutput {
		title = " SELECT CONTROLLER OUTPUT "
	}
	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n")
	if t := m.target(); t != "" {
		s.WriteString(menuStyle.Render(fmt.Sprintf("matching %q", t)))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	if len(m.candidates) == 0 {
		s.WriteString(offlineStyle.Render("no devices found; plug one in or press r"))
		return boxStyle.Render(s.String())
	}
	for i, c := range m.candidates {
		line := c.Name
		if m.target() != "" {
			line = fmt.Sprintf("%s  %3.0f%%", line, c.Score*100)
			if c.Score >= m.threshold {
				line += " ✓"
			}
		}
		switch {
		case i == m.index:
			s.WriteString(selectedStyle.Render("▸ " + line))
		case c.State != midi.Connected:
			s.WriteString(offlineStyle.Render("  " + line + " (disconnected)"))
		default:
			s.WriteString(menuStyle.Render("  " + line))
		}
		s.WriteString("\n")
	}
	return boxStyle.Render(s.String())
}

func (m Model) viewResult() string {
	var s strings.Builder

	if m.err != nil {
		s.WriteString(titleStyle.Render(" ERROR "))
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Save failed: %s", m.err.Error())))
	} else {
		s.WriteString(titleStyle.Render(" SAVED "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render("✓ Controller saved"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Input:  %s\n", orSkipped(m.input)))
		s.WriteString(fmt.Sprintf("Output: %s\n", orSkipped(m.output)))
		s.WriteString(fmt.Sprintf("Config: %s", m.cfgPath))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press enter to exit"))

	return boxStyle.Render(s.String())
}

func orSkipped(name string) string {
	if name == "" {
		return "(unchanged)"
	}
	return name
}

// Run polls devices in the background and runs the setup screen until the
// user quits.
func Run(ctx context.Context, manager *midi.Manager, cfg *config.Config, cfgPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = manager.Run(ctx) }()

	p := tea.NewProgram(New(manager, cfg, cfgPath), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
