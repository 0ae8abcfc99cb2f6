package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/akidb/akidb/internal/metrics"
)

var (
	statsHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("51")).
				Bold(true).
				Padding(0, 1)
	statsSectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true).MarginTop(1)
	statsLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	statsValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	statsDimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statsWarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	statsFooterStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1)
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var once bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show live Collection Service metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput || once {
				snap := current.svc.Metrics()
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(snap)
				}
				printStatsOnce(cmd, snap)
				return nil
			}

			p := tea.NewProgram(newStatsModel(interval))
			_, err := p.Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output one JSON snapshot and exit")
	cmd.Flags().BoolVar(&once, "once", false, "print one text snapshot and exit, skipping the live dashboard")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "dashboard refresh interval")

	return cmd
}

func printStatsOnce(cmd *cobra.Command, snap metrics.Snapshot) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "collections created: %d  deleted: %d\n", snap.CollectionsCreated, snap.CollectionsDeleted)
	fmt.Fprintf(w, "vectors inserted:    %d\n", snap.VectorsInserted)
	fmt.Fprintf(w, "searches performed:  %d\n", snap.SearchesPerformed)
	fmt.Fprintf(w, "uploads:             %d succeeded, %d failed\n", snap.UploadsSucceeded, snap.UploadsFailed)
	fmt.Fprintf(w, "gate wait latency:   %v\n", snap.GateWaitLatency)
	fmt.Fprintf(w, "uptime:              %s\n", snap.Uptime.Round(time.Second))
	for id, state := range snap.CircuitBreakerState {
		fmt.Fprintf(w, "  breaker[%s] = %s, dlq depth = %d\n", id, state, snap.DLQDepth[id])
	}
}

type statsTickMsg time.Time

// statsModel is the stats dashboard's bubbletea model, polling the live
// Collection Service in-process rather than over HTTP — the CLI and the
// service it reports on share one address space.
type statsModel struct {
	interval time.Duration
	snap     metrics.Snapshot
	quitting bool
}

func newStatsModel(interval time.Duration) statsModel {
	return statsModel{interval: interval, snap: current.svc.Metrics()}
}

func (m statsModel) Init() tea.Cmd {
	return statsTick(m.interval)
}

func statsTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return statsTickMsg(t) })
}

func (m statsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case statsTickMsg:
		m.snap = current.svc.Metrics()
		return m, statsTick(m.interval)
	}
	return m, nil
}

func (m statsModel) View() string {
	if m.quitting {
		return ""
	}

	header := statsHeaderStyle.Render("akidb stats")

	body := statsSectionStyle.Render("Collections") + "\n"
	body += statRow("created", fmt.Sprintf("%d", m.snap.CollectionsCreated))
	body += statRow("deleted", fmt.Sprintf("%d", m.snap.CollectionsDeleted))

	body += statsSectionStyle.Render("Throughput") + "\n"
	body += statRow("vectors inserted", fmt.Sprintf("%d", m.snap.VectorsInserted))
	body += statRow("searches performed", fmt.Sprintf("%d", m.snap.SearchesPerformed))
	body += statRow("uploads succeeded", fmt.Sprintf("%d", m.snap.UploadsSucceeded))
	body += statRow("uploads failed", fmt.Sprintf("%d", m.snap.UploadsFailed))

	body += statsSectionStyle.Render("Latency (count per bucket)") + "\n"
	body += statLatencyRow("insert", m.snap.InsertLatency)
	body += statLatencyRow("query", m.snap.QueryLatency)
	body += statLatencyRow("gate wait", m.snap.GateWaitLatency)

	if len(m.snap.CircuitBreakerState) > 0 {
		body += statsSectionStyle.Render("Storage backends") + "\n"
		for id, state := range m.snap.CircuitBreakerState {
			line := statsLabelStyle.Render(id) + ": " + statsValueStyle.Render(state)
			if depth := m.snap.DLQDepth[id]; depth > 0 {
				line += " " + statsWarnStyle.Render(fmt.Sprintf("(dlq depth %d)", depth))
			}
			body += line + "\n"
		}
	}

	body += statsDimStyle.Render(fmt.Sprintf("uptime %s", m.snap.Uptime.Round(time.Second))) + "\n"
	footer := statsFooterStyle.Render(fmt.Sprintf("q: quit  |  auto-refresh every %s", m.interval))

	return header + "\n\n" + body + footer + "\n"
}

func statRow(label, value string) string {
	return statsLabelStyle.Render(label+":") + " " + statsValueStyle.Render(value) + "\n"
}

func statLatencyRow(op string, buckets map[metrics.LatencyBucket]int64) string {
	line := statsLabelStyle.Render(op + ":")
	for _, b := range []metrics.LatencyBucket{metrics.BucketUnder10ms, metrics.BucketUnder50ms, metrics.BucketUnder100ms, metrics.BucketUnder500ms, metrics.BucketOver500ms} {
		if n, ok := buckets[b]; ok && n > 0 {
			line += fmt.Sprintf(" %s=%d", b, n)
		}
	}
	return line + "\n"
}
