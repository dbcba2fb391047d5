package render

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	gainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	lossStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// SummaryRenderer prints a boxed performance summary of the chart.
type SummaryRenderer struct {
	Out io.Writer
}

// NewSummaryRenderer writes to out.
func NewSummaryRenderer(out io.Writer) *SummaryRenderer {
	return &SummaryRenderer{Out: out}
}

func (r *SummaryRenderer) Render(_ context.Context, chart Chart) error {
	_, err := io.WriteString(r.Out, FormatSummary(chart)+"\n")
	return err
}

// FormatSummary renders the chart's summary and stats as a styled block.
func FormatSummary(chart Chart) string {
	var rows [][2]string
	if s := chart.Summary; s != nil {
		rows = append(rows,
			[2]string{"Total return", signed(pct(s.TotalReturn), s.TotalReturn)},
			[2]string{"Annualized return", signed(pct(s.AnnualizedReturn), s.AnnualizedReturn)},
			[2]string{"Annualized volatility", pct(s.AnnualizedVolatility)},
			[2]string{"Sharpe", signed(fmt.Sprintf("%.2f", s.Sharpe), s.Sharpe)},
			[2]string{"Max drawdown", signed(pct(-s.MaxDrawdown), -s.MaxDrawdown)},
			[2]string{"Max drawdown duration", fmt.Sprintf("%d rows", s.MaxDrawdownDuration)},
			[2]string{"Hit ratio", pct(s.HitRatio)},
			[2]string{"Active periods", fmt.Sprintf("%d / %d", s.ActivePeriods, s.Periods)},
		)
	}
	for _, st := range chart.Stats {
		rows = append(rows, [2]string{st.Label, st.Value})
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row[0]))
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		label := labelStyle.Render(row[0] + strings.Repeat(" ", width-len(row[0])))
		lines = append(lines, label+"  "+row[1])
	}

	title := chart.Title
	if title == "" {
		title = chart.Strategy
	}
	if chart.RunID != "" {
		title += "  " + labelStyle.Render(chart.RunID)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		boxStyle.Render(strings.Join(lines, "\n")),
	)
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func signed(s string, v float64) string {
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	default:
		return s
	}
}
