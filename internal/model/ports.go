package model

import (
	"context"
	"time"
)

// RunRecord is the persisted outcome of one backtest run.
type RunRecord struct {
	RunID    string    `json:"run_id"`
	Strategy string    `json:"strategy"`
	Symbols  []string  `json:"symbols"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Params   any       `json:"params"`
	Summary  any       `json:"summary"`
	Rows     int       `json:"rows"`
	Created  time.Time `json:"created"`
}

// RunRecorder stores completed backtest runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, rec RunRecord) error
}
