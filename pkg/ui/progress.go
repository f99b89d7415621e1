package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// StatusTracker keeps count of lookup results
type StatusTracker struct {
	mu        sync.Mutex
	out       io.Writer
	Label     string
	Total     int
	Done      int
	Skipped   int
	Failed    int
	StartTime time.Time
}

// NewStatusTracker creates a tracker for total jobs
func NewStatusTracker(label string, total int) *StatusTracker {
	return &StatusTracker{
		out:       stdout(),
		Label:     label,
		Total:     total,
		StartTime: time.Now(),
	}
}

// Observe counts one result and refreshes the line
func (st *StatusTracker) Observe(success, skipped bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case skipped:
		st.Skipped++
	case success:
		st.Done++
	default:
		st.Failed++
	}
	fmt.Fprintf(st.out, "\r%s", st.line())
}

// Line returns the current progress line
func (st *StatusTracker) Line() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.line()
}

func (st *StatusTracker) line() string {
	const width = 20
	finished := st.Done + st.Skipped + st.Failed
	filled := 0
	if st.Total > 0 {
		filled = finished * width / st.Total
	}
	if filled > width {
		filled = width
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)

	line := fmt.Sprintf("%s [%s] %d/%d • %.1f/min", Green(st.Label), bar, finished, st.Total, st.rate())
	if st.Skipped > 0 {
		line += fmt.Sprintf(" • %d skipped", st.Skipped)
	}
	if st.Failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", st.Failed))
	}
	return line
}

// rate returns the average rate of fetched items per minute
func (st *StatusTracker) rate() float64 {
	elapsed := time.Since(st.StartTime).Minutes()
	if elapsed == 0 {
		return 0
	}
	return float64(st.Done) / elapsed
}
