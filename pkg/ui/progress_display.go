package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"marketcrawl/pkg/models"
	"marketcrawl/pkg/strategy"
)

// ProgressDisplay renders the crawl as a single refreshing line. In debug
// mode every unit gets its own line instead.
type ProgressDisplay struct {
	mu           sync.Mutex
	out          io.Writer
	totalTargets int
	started      int
	current      string
	units        int
	records      int
	failures     int
	recoveries   int
	throttles    int
	pass         int
	startTime    time.Time
	isDebug      bool
}

// NewProgressDisplay creates a display for a run over totalTargets targets
func NewProgressDisplay(totalTargets int, debug bool) *ProgressDisplay {
	return newProgressDisplay(stdout(), totalTargets, debug)
}

func newProgressDisplay(out io.Writer, totalTargets int, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		out:          out,
		totalTargets: totalTargets,
		pass:         1,
		startTime:    time.Now(),
		isDebug:      debug,
	}
}

// TargetStarted notes the strategy chosen for a target
func (p *ProgressDisplay) TargetStarted(target models.Target, decision strategy.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started++
	p.current = fmt.Sprintf("%s (%s)", target.ID, decision.Kind)
	if p.isDebug {
		fmt.Fprintf(p.out, "%s %s %s • %d pages vs %d units\n",
			Magenta("→"), target.ID, decision.Kind, decision.PageRequests, decision.UnitRequests)
		return
	}
	p.printProgress()
}

// UnitFinished counts a finished unit
func (p *ProgressDisplay) UnitFinished(unit models.WorkUnit, records int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failures++
		if p.isDebug {
			fmt.Fprintf(p.out, "%s %s - %v\n", Red("✗"), unit, err)
			return
		}
	} else {
		p.units++
		p.records += records
		if p.isDebug {
			fmt.Fprintf(p.out, "%s %s • %d records\n", Green("✓"), unit, records)
			return
		}
	}
	p.printProgress()
}

// Throttled shows the limiter freeze
func (p *ProgressDisplay) Throttled(unit models.WorkUnit, freeze time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.throttles++
	fmt.Fprintf(p.out, "\n%s Throttled on %s. Waiting %s...\n", Yellow("⚠"), unit, formatDuration(freeze))
}

// Recovering shows a session reset
func (p *ProgressDisplay) Recovering(unit models.WorkUnit, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recoveries++
	fmt.Fprintf(p.out, "\n%s Resetting session after %s: %v\n", Yellow("↻"), unit, cause)
}

// PassFinished closes a pass
func (p *ProgressDisplay) PassFinished(pass, succeeded, retryable, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pass = pass + 1
	p.started = 0
	fmt.Fprintf(p.out, "\n%s Pass %d: %d done • %d to retry • %d failed\n",
		Cyan("■"), pass, succeeded, retryable, failed)
}

func (p *ProgressDisplay) printProgress() {
	progress := 0.0
	if p.totalTargets > 0 {
		progress = float64(p.started) / float64(p.totalTargets)
	}
	if progress > 1 {
		progress = 1
	}
	barWidth := 20
	filled := int(progress * float64(barWidth))
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("pass %d [%s] %d/%d • %d units • %d records • %s",
		p.pass,
		bar,
		p.started,
		p.totalTargets,
		p.units,
		p.records,
		formatDuration(time.Since(p.startTime)),
	)
	if p.current != "" {
		line += fmt.Sprintf(" • %s", Cyan(p.current))
	}
	if p.failures > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failures", p.failures)))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// Complete prints the run summary
func (p *ProgressDisplay) Complete(passes, recoveries, records int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n\n%s Wrote %d records in %d passes\n", Green("✓"), records, passes)
	fmt.Fprintf(p.out, "  %s %s elapsed, %d session resets\n",
		Dim("•"), formatDuration(time.Since(p.startTime)), recoveries)
	if p.throttles > 0 {
		fmt.Fprintf(p.out, "  %s throttled %d times\n", Dim("•"), p.throttles)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
