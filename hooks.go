package adsync

import (
	"sync"
)

// Hook function types for run events.
type (
	// RowHook is called after each row. n is 1-based.
	RowHook func(n, total int, row RowResult)

	// RunStartedHook is called once a run passed validation and starts
	// processing rows.
	RunStartedHook func(info RunInfo)

	// RunFinishedHook is called when a run ends, with its partial result
	// and the fatal error if any.
	RunFinishedHook func(result *Result, err error)
)

// RunInfo describes a run as it starts.
type RunInfo struct {
	ID       string
	Mode     string
	Input    string
	Mapping  string
	KeyField string
	Rows     int
}

// hooks manages event callbacks for runs.
type hooks struct {
	mu            sync.RWMutex
	onRow         []RowHook
	onRunStarted  []RunStartedHook
	onRunFinished []RunFinishedHook
}

func newHooks() *hooks {
	return &hooks{}
}

// OnRow registers a callback for processed rows.
func (h *hooks) OnRow(fn RowHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRow = append(h.onRow, fn)
}

// OnRunStarted registers a callback for started runs.
func (h *hooks) OnRunStarted(fn RunStartedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRunStarted = append(h.onRunStarted, fn)
}

// OnRunFinished registers a callback for finished runs.
func (h *hooks) OnRunFinished(fn RunFinishedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRunFinished = append(h.onRunFinished, fn)
}

func (h *hooks) triggerRow(n, total int, row RowResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onRow {
		fn(n, total, row)
	}
}

func (h *hooks) triggerRunStarted(info RunInfo) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onRunStarted {
		fn(info)
	}
}

func (h *hooks) triggerRunFinished(result *Result, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onRunFinished {
		fn(result, err)
	}
}
