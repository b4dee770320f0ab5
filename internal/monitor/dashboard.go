// Package monitor provides the kravd API client and the terminal dashboard
// behind `kravctl watch`.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/kravscan/internal/jobs"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxErrorLines   = 5
	requestTimeout  = 5 * time.Second
)

// JobSource is the part of the API the dashboard needs.
type JobSource interface {
	Status(ctx context.Context, id string) (*jobs.Job, error)
	Revoke(ctx context.Context, id string) (*jobs.Job, error)
}

// Model represents the BubbleTea dashboard model
type Model struct {
	source     JobSource
	jobID      string
	interval   time.Duration
	lastUpdate time.Time
	job        *jobs.Job
	err        error
	quitting   bool
	started    time.Time

	// Progress steps advanced per refresh, for the rate sparkline.
	history []float64
	last    int

	bar progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard that polls one job.
func NewModel(source JobSource, jobID string, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		source:   source,
		jobID:    jobID,
		interval: interval,
		started:  time.Now(),
		history:  make([]float64, 0, historySize),
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

// Job returns the last fetched job, nil before the first refresh.
func (m Model) Job() *jobs.Job { return m.job }

// stateBadge renders the job state with a status symbol.
func stateBadge(s jobs.State) string {
	switch s {
	case jobs.StateSuccess:
		return healthyStyle.Render("✓ " + FormatState(s))
	case jobs.StateFailure:
		return errorStyle.Render("✗ " + FormatState(s))
	case jobs.StateRevoked:
		return warningStyle.Render("⊘ " + FormatState(s))
	default:
		return warningStyle.Render("● " + FormatState(s))
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type jobMsg struct{ job *jobs.Job }
type errMsg struct{ err error }

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return fetchJob(m.source, m.jobID)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchJob(source JobSource, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		job, err := source.Status(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return jobMsg{job}
	}
}

func revokeJob(source JobSource, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		job, err := source.Revoke(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return jobMsg{job}
	}
}

func (m Model) terminal() bool {
	return m.job != nil && m.job.State.Terminal()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchJob(m.source, m.jobID)
		case "x":
			if m.terminal() {
				return m, nil
			}
			return m, revokeJob(m.source, m.jobID)
		}

	case tickMsg:
		if m.terminal() {
			return m, nil
		}
		return m, fetchJob(m.source, m.jobID)

	case jobMsg:
		wasTerminal := m.terminal()
		cur := msg.job.Progress.Current
		m.history = appendToHistory(m.history, float64(max(cur-m.last, 0)))
		m.last = cur
		m.job = msg.job
		m.lastUpdate = time.Now()
		m.err = nil
		if m.terminal() || wasTerminal {
			return m, nil
		}
		return m, tick(m.interval)

	case errMsg:
		m.err = msg.err
		if m.terminal() {
			return m, nil
		}
		return m, tick(m.interval)
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.job == nil && m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render(" kravscan Job Monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot fetch job") + "\n"
	content += "\n"
	content += dimStyle.Render("Job: ") + valueStyle.Render(m.jobID) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("15:04:05")
	}

	b.WriteString(headerStyle.Render(" kravscan Job Monitor ") + "\n")
	if m.job == nil {
		b.WriteString(dimStyle.Render("loading "+m.jobID+"…") + "\n")
		return containerStyle.Render(b.String())
	}
	job := m.job

	elapsed := time.Since(job.CreatedAt)
	if job.FinishedAt != nil {
		elapsed = job.FinishedAt.Sub(job.CreatedAt)
	}
	fmt.Fprintf(&b, "%s   %s   %s   %s\n",
		stateBadge(job.State),
		dimStyle.Render("Elapsed:"),
		valueStyle.Render(FormatElapsed(elapsed)),
		dimStyle.Render(lastUpdateStr))

	b.WriteString("\n" + sectionStyle.Render("┃ Job") + "\n")
	b.WriteString(labelStyle.Render("  ID: ") + valueStyle.Render(job.ID) + "\n")
	b.WriteString(labelStyle.Render("  Dir: ") + valueStyle.Render(job.Params.WorkDir) + "\n")
	mode := job.Params.Mode
	if mode == "" {
		mode = "global"
	}
	minScore := "default"
	if m := job.Params.MinScore; m != nil {
		minScore = fmt.Sprintf("%.0f", *m)
	}
	b.WriteString(labelStyle.Render("  Mode: ") + valueStyle.Render(mode) +
		labelStyle.Render("  Min score: ") + valueStyle.Render(minScore) + "\n")
	if len(job.Params.Standards) > 0 {
		b.WriteString(labelStyle.Render("  Standards: ") + valueStyle.Render(strings.Join(job.Params.Standards, ", ")) + "\n")
	}
	if job.Attempts > 1 {
		b.WriteString(labelStyle.Render("  Attempts: ") + warningStyle.Render(fmt.Sprintf("%d", job.Attempts)) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Progress") + "\n")
	ratio := ProgressRatio(job.Progress)
	b.WriteString(labelStyle.Render("  ") + m.bar.ViewAs(ratio) + " " + dimStyle.Render(FormatPercentage(ratio)) + "\n")
	b.WriteString(labelStyle.Render("  Step: ") + valueStyle.Render(job.Progress.Message) + "\n")
	b.WriteString(labelStyle.Render("  Rate: ") + createSparkline(m.history) + "\n")

	if job.Result != nil {
		b.WriteString("\n" + sectionStyle.Render("┃ Result") + "\n")
		b.WriteString(labelStyle.Render("  Documents: ") + valueStyle.Render(fmt.Sprintf("%d", job.Result.Documents)) +
			labelStyle.Render("  Requirements: ") + valueStyle.Render(fmt.Sprintf("%d", job.Result.NumRequirements())) +
			labelStyle.Render("  Uncertain: ") + valueStyle.Render(fmt.Sprintf("%d", job.Result.NumUncertain())) + "\n")
		if job.Result.Artifact != "" {
			b.WriteString(labelStyle.Render("  Artifact: ") + valueStyle.Render(job.Result.Artifact) + "\n")
		}
	}

	if len(job.Errors) > 0 {
		b.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("┃ Errors (%d)", len(job.Errors))) + "\n")
		for _, e := range tail(job.Errors, maxErrorLines) {
			b.WriteString("  " + errorStyle.Render(Truncate(e, 72)) + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n" + warningStyle.Render("⚠ "+m.err.Error()) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ")
	if !job.State.Terminal() {
		footer += footerKeyStyle.Render("[x]") + footerStyle.Render(" revoke  ") +
			footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	}
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
