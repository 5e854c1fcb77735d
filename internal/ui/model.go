package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Phase is the step the recorder is in
type Phase int

const (
	PhaseRecording Phase = iota
	PhaseUploading
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseRecording:
		return "Recording"
	case PhaseUploading:
		return "Uploading"
	case PhaseDone:
		return "Done"
	}
	return "Unknown"
}

// ProgressMsg reports recording progress
type ProgressMsg struct {
	Elapsed  time.Duration
	Duration time.Duration
}

// PhaseMsg moves the UI to another phase with a status line
type PhaseMsg struct {
	Phase  Phase
	Status string
}

// DoneMsg ends the UI with a final status line
type DoneMsg struct {
	Status string
	Failed bool
}

const barWidth = 40

// Model is the recorder TUI state
type Model struct {
	device   string
	server   string
	phase    Phase
	elapsed  time.Duration
	duration time.Duration
	status   string
	failed   bool

	interrupted bool
	interrupt   func()
}

// NewModel creates a model; interrupt is called when the user presses q or ctrl+c
func NewModel(device, server string, duration time.Duration, interrupt func()) Model {
	return Model{
		device:    device,
		server:    server,
		duration:  duration,
		phase:     PhaseRecording,
		interrupt: interrupt,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case ProgressMsg:
		if msg.Elapsed > m.elapsed {
			m.elapsed = msg.Elapsed
		}
		if msg.Duration > 0 {
			m.duration = msg.Duration
		}
	case PhaseMsg:
		m.phase = msg.Phase
		m.status = msg.Status
	case DoneMsg:
		m.phase = PhaseDone
		m.status = msg.Status
		m.failed = msg.Failed
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.phase == PhaseDone {
			return m, tea.Quit
		}
		if !m.interrupted {
			m.interrupted = true
			m.status = "Interrupting..."
			if m.interrupt != nil {
				m.interrupt()
			}
		}
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Edge recorder  device %s  server %s\n\n", m.device, orDash(m.server))
	fmt.Fprintf(&b, "%-10s [%s] %5.1f%% (%.1f/%gs)\n",
		m.phase, renderBar(m.elapsed, m.duration, barWidth), m.fraction()*100,
		m.elapsed.Seconds(), m.duration.Seconds())

	if m.status != "" {
		prefix := ""
		if m.failed {
			prefix = "Error: "
		}
		fmt.Fprintf(&b, "\n%s%s\n", prefix, m.status)
	}

	if m.phase != PhaseDone {
		b.WriteString("\nq: interrupt\n")
	}

	return b.String()
}

func (m Model) fraction() float64 {
	if m.duration <= 0 {
		return 0
	}
	f := float64(m.elapsed) / float64(m.duration)
	if f > 1 {
		return 1
	}
	return f
}

func renderBar(value, max time.Duration, width int) string {
	filled := 0
	if max > 0 {
		filled = int(int64(value) * int64(width) / int64(max))
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
