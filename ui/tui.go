package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/franksops/paperup/engine"
	"github.com/franksops/paperup/presenter"
)

// ensure interface is implemented
var _ presenter.Notifier = (*Board)(nil)

// UIState is the aggregated state rendered by the TUI.
type UIState struct {
	Tasks        []engine.Task
	Notification *presenter.Notification
	Done         bool
}

// Board collects store snapshots and the presenter's status display for the
// TUI. It is safe for concurrent use.
type Board struct {
	mu    sync.Mutex
	state UIState
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Observe records a store snapshot.
func (b *Board) Observe(tasks []engine.Task) {
	b.mu.Lock()
	b.state.Tasks = tasks
	b.mu.Unlock()
}

// Show replaces the status display.
func (b *Board) Show(n presenter.Notification) error {
	b.mu.Lock()
	b.state.Notification = &n
	b.mu.Unlock()
	return nil
}

// Withdraw removes the status display.
func (b *Board) Withdraw() error {
	b.mu.Lock()
	b.state.Notification = nil
	b.mu.Unlock()
	return nil
}

// MarkDone flags that no more uploads will run.
func (b *Board) MarkDone() {
	b.mu.Lock()
	b.state.Done = true
	b.mu.Unlock()
}

// Snapshot returns a copy of the board state.
func (b *Board) Snapshot() UIState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	s.Tasks = append([]engine.Task(nil), b.state.Tasks...)
	if b.state.Notification != nil {
		n := *b.state.Notification
		s.Notification = &n
	}
	return s
}

// TaskControl is the part of the task store the TUI acts on.
type TaskControl interface {
	Cancel(id string) error
	Remove(id string) error
}

// TUIModel implements the tea.Model interface
type TUIModel struct {
	state    UIState
	control  TaskControl
	selected int
	status   string

	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	noteStyle    lipgloss.Style
	selectStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg is sent periodically to update the UI state
type TUIUpdateMsg struct {
	State UIState
}

func NewTUIModel(initial UIState, control TaskControl) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 30

	return TUIModel{
		state:        initial,
		control:      control,
		spinner:      s,
		progress:     prog,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		noteStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		selectStyle:  lipgloss.NewStyle().Bold(true),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
	)
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.state.Tasks)-1 {
				m.selected++
			}
		case "c":
			// cancel action of the status display
			if n := m.state.Notification; n != nil && n.Cancel != nil {
				m.status = resultText("cancel "+n.FileName, n.Cancel())
			}
		case "x":
			if t, ok := m.selectedTask(); ok && m.control != nil {
				m.status = resultText("cancel "+t.FileName, m.control.Cancel(t.ID))
			}
		case "d":
			if t, ok := m.selectedTask(); ok && m.control != nil {
				m.status = resultText("dismiss "+t.FileName, m.control.Remove(t.ID))
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(msg.Width/3, 10)

		headerHeight := 5
		footerHeight := 3
		m.viewport = viewport.New(msg.Width, max(msg.Height-headerHeight-footerHeight, 1))

	case TUIUpdateMsg:
		m.state = msg.State
		if m.selected >= len(m.state.Tasks) {
			m.selected = max(len(m.state.Tasks)-1, 0)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) selectedTask() (engine.Task, bool) {
	if m.selected < 0 || m.selected >= len(m.state.Tasks) {
		return engine.Task{}, false
	}
	return m.state.Tasks[m.selected], true
}

func resultText(action string, err error) string {
	if err != nil {
		return fmt.Sprintf("%s: %v", action, err)
	}
	return action + ": ok"
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.titleStyle.Render("paperup")))

	// Persistent status display
	if n := m.state.Notification; n != nil {
		sb.WriteString(m.noteStyle.Render(n.Text()) + "\n")
		sb.WriteString(m.progress.ViewAs(float64(n.Percent)/100) + "\n\n")
	} else {
		sb.WriteString(m.infoStyle.Render("No upload running") + "\n\n")
	}

	// Task list
	var list strings.Builder
	if len(m.state.Tasks) == 0 {
		list.WriteString(m.infoStyle.Render("No tasks..."))
	}
	for i, t := range m.state.Tasks {
		line := m.taskLine(t)
		if i == m.selected {
			line = m.selectStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		list.WriteString(line + "\n")
	}
	m.viewport.SetContent(list.String())
	sb.WriteString(m.viewport.View())

	// Footer
	if m.status != "" {
		sb.WriteString("\n" + m.infoStyle.Render(m.status))
	}
	help := m.helpStyle.Render("q: quit • j/k: select • c: cancel current • x: cancel selected • d: dismiss")
	if m.state.Done {
		help = m.successStyle.Render("All uploads settled.") + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func (m TUIModel) taskLine(t engine.Task) string {
	name := truncateLeft(t.FileName, 32)
	switch t.Status {
	case engine.StatusUploading:
		return fmt.Sprintf("%-32s %s %3d%% %-11s ETA %s", name, m.progress.ViewAs(t.Progress.Fraction()),
			t.Progress.Percentage(), presenter.FormatBytesPerSecond(t.Progress.Speed),
			formatETA(t.Progress.Speed, t.Progress.TotalBytes, t.Progress.BytesTransferred))
	case engine.StatusFailed:
		return fmt.Sprintf("%-32s %s %s", name, m.errorStyle.Render(string(t.Status)), t.Error)
	case engine.StatusCompleted:
		return fmt.Sprintf("%-32s %s %s", name, m.successStyle.Render(string(t.Status)), presenter.FormatSize(t.Progress.TotalBytes))
	default:
		return fmt.Sprintf("%-32s %s", name, m.infoStyle.Render(string(t.Status)))
	}
}

// truncateLeft keeps the last runes of s so the result is at most width
// runes, marking the cut with "...".
func truncateLeft(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return "..." + string(r[len(r)-(width-3):])
}

func formatETA(bytesPerSec int64, totalBytes, doneBytes int64) string {
	if bytesPerSec <= 0 || totalBytes == 0 {
		return "Calculating..."
	}

	remaining := totalBytes - doneBytes
	if remaining <= 0 {
		return "0s"
	}

	d := time.Duration(float64(remaining) / float64(bytesPerSec) * float64(time.Second))
	if d.Hours() > 24 {
		return "> 1d"
	}

	return d.Round(time.Second).String()
}
