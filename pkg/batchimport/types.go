package batchimport

import (
	"context"
	"time"
)

// Item is one unit of work. IDs must be unique within a run.
type Item interface {
	ItemID() string
	ItemKind() string
}

type FailedItem[T Item] struct {
	Item T
	Err  error
}

// Outcome is what a Processor reports for one call.
type Outcome[T Item] struct {
	Succeeded []T
	Failed    []FailedItem[T]
}

// Processor persists a slice of items. Per-item failures go into Outcome.Failed; a
// returned error means the whole call failed (for example the connection dropped).
type Processor[T Item] interface {
	Process(ctx context.Context, items []T) (Outcome[T], error)
}

type ProcessorFunc[T Item] func(ctx context.Context, items []T) (Outcome[T], error)

func (f ProcessorFunc[T]) Process(ctx context.Context, items []T) (Outcome[T], error) {
	return f(ctx, items)
}

// ImportError records one failed attempt of one item.
type ImportError struct {
	ItemID   string `json:"item_id"`
	ItemType string `json:"item_type"`
	Attempt  int    `json:"attempt"`
	Message  string `json:"message"`
	Data     any    `json:"data,omitempty"`
}

// Status is a snapshot of a run. Processed, Succeeded and Failed never decrease.
type Status struct {
	RunID        string         `json:"run_id"`
	Total        int            `json:"total"`
	Processed    int            `json:"processed"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	CurrentBatch int            `json:"current_batch"`
	TotalBatches int            `json:"total_batches"`
	Progress     float64        `json:"progress"`
	Speed        float64        `json:"speed"`
	ETA          *time.Duration `json:"eta,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	Elapsed      time.Duration  `json:"elapsed"`
	IsPaused     bool           `json:"is_paused"`
	IsCancelled  bool           `json:"is_cancelled"`
	IsComplete   bool           `json:"is_complete"`
	Errors       []ImportError  `json:"errors"`
}

func (s Status) clone() Status {
	c := s
	c.Errors = append([]ImportError(nil), s.Errors...)
	if s.ETA != nil {
		eta := *s.ETA
		c.ETA = &eta
	}
	return c
}

// Result summarizes a finished run.
type Result[T Item] struct {
	RunID     string        `json:"run_id"`
	Success   bool          `json:"success"`
	Cancelled bool          `json:"cancelled"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Succeeded []T           `json:"succeeded"`
	Failed    []T           `json:"failed"`
	Errors    []ImportError `json:"errors"`
	Duration  time.Duration `json:"duration"`
}
