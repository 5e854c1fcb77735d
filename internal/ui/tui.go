package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Run creates the program for model; the caller starts it with Run
func Run(model Model) *tea.Program {
	return tea.NewProgram(model)
}

// Reporter forwards recorder events to a running program
type Reporter struct {
	program *tea.Program
}

// NewReporter creates a reporter for program
func NewReporter(program *tea.Program) *Reporter {
	return &Reporter{program: program}
}

// Progress sends a recording progress update
func (r *Reporter) Progress(elapsed, duration time.Duration) {
	r.program.Send(ProgressMsg{Elapsed: elapsed, Duration: duration})
}

// Phase moves the UI to phase
func (r *Reporter) Phase(phase Phase, status string) {
	r.program.Send(PhaseMsg{Phase: phase, Status: status})
}

// Done shows the final status and stops the program
func (r *Reporter) Done(status string, failed bool) {
	r.program.Send(DoneMsg{Status: status, Failed: failed})
}
