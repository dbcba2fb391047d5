// Package render turns finished backtest tables into chart descriptions and
// hands them to output backends: CSV files, a websocket chart server and a
// terminal summary.
package render

import (
	"context"
	"errors"
	"time"

	"quant-signals/internal/model"
	"quant-signals/internal/portfolio"
)

// Renderer consumes a finished chart.
type Renderer interface {
	Render(ctx context.Context, chart Chart) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, chart Chart) error

func (f RendererFunc) Render(ctx context.Context, chart Chart) error { return f(ctx, chart) }

// MarkerKind labels a point annotation on a panel.
type MarkerKind string

const (
	MarkerBuy  MarkerKind = "buy"
	MarkerSell MarkerKind = "sell"
)

// Series is one named line, index-aligned with its panel's Dates.
type Series struct {
	Name   string            `json:"name"`
	Values []model.NullFloat `json:"values"`
}

// Marker annotates a single date, e.g. a crossover.
type Marker struct {
	Date  time.Time  `json:"date"`
	Value float64    `json:"value"`
	Kind  MarkerKind `json:"kind"`
}

// HLine is a constant reference line such as zero or a threshold.
type HLine struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Panel is one plot sharing a date axis.
type Panel struct {
	Name    string      `json:"name"`
	Dates   []time.Time `json:"dates"`
	Series  []Series    `json:"series"`
	Markers []Marker    `json:"markers,omitempty"`
	HLines  []HLine     `json:"hlines,omitempty"`
}

// Stat is a labelled headline figure shown next to the summary.
type Stat struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Chart is everything produced by one run.
type Chart struct {
	RunID    string             `json:"run_id"`
	Title    string             `json:"title"`
	Strategy string             `json:"strategy"`
	Panels   []Panel            `json:"panels"`
	Summary  *portfolio.Summary `json:"summary,omitempty"`
	Stats    []Stat             `json:"stats,omitempty"`
}

// Panel returns the panel with the given name.
func (c *Chart) Panel(name string) (Panel, bool) {
	for _, p := range c.Panels {
		if p.Name == name {
			return p, true
		}
	}
	return Panel{}, false
}

// Multi fans a chart out to every renderer and joins their errors.
type Multi []Renderer

func (m Multi) Render(ctx context.Context, chart Chart) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Render(ctx, chart); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
