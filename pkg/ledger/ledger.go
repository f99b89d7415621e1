package ledger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
)

// Outcome tags. Only Success marks a unit complete; every other tag,
// including the recovery state names, is informational.
const (
	OutcomeSuccess = "Success"
	OutcomeFailure = "Failure"
)

const fullLabel = "full"

// Entry is one parsed ledger line
type Entry struct {
	Unit    models.WorkUnit
	Outcome string
}

// Completed is the set of units with a Success entry
type Completed struct {
	units map[models.UnitKey]struct{}
	full  map[string]struct{}
}

func newCompleted() *Completed {
	return &Completed{
		units: make(map[models.UnitKey]struct{}),
		full:  make(map[string]struct{}),
	}
}

func (c *Completed) add(unit models.WorkUnit) {
	if unit.Full {
		c.full[unit.TargetID] = struct{}{}
		return
	}
	c.units[unit.Key()] = struct{}{}
}

// Contains reports whether unit is done. A full Success covers every
// sub-range of its target.
func (c *Completed) Contains(unit models.WorkUnit) bool {
	if _, ok := c.full[unit.TargetID]; ok {
		return true
	}
	if unit.Full {
		return false
	}
	_, ok := c.units[unit.Key()]
	return ok
}

// FullyPaginated reports whether the target has a full Success entry
func (c *Completed) FullyPaginated(targetID string) bool {
	_, ok := c.full[targetID]
	return ok
}

// Len returns the number of distinct completed units
func (c *Completed) Len() int {
	return len(c.units) + len(c.full)
}

func (c *Completed) clone() *Completed {
	out := newCompleted()
	for k := range c.units {
		out.units[k] = struct{}{}
	}
	for k := range c.full {
		out.full[k] = struct{}{}
	}
	return out
}

// Ledger is the durable append-only completion log. The same file carries
// recovery transitions, so it doubles as the crawler's diagnostic journal.
type Ledger struct {
	path      string
	file      *os.File
	completed *Completed
	logger    logger.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// Open opens or creates the ledger at path and replays it
func Open(path string, log logger.Logger) (*Ledger, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	l := &Ledger{
		path:   path,
		file:   file,
		logger: log,
		now:    time.Now,
	}

	if err := l.terminateTornLine(); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := l.Load(); err != nil {
		file.Close()
		return nil, err
	}

	return l, nil
}

// terminateTornLine makes sure the next append starts on a fresh line when
// a previous process died mid-write
func (l *Ledger) terminateTornLine() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := l.file.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("failed to read ledger tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := l.file.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to terminate torn ledger line: %w", err)
	}
	return l.file.Sync()
}

// Load rebuilds the completed set by replaying the whole file
func (l *Ledger) Load() (*Completed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer file.Close()

	completed, skipped, err := Replay(file)
	if err != nil {
		return nil, err
	}
	l.completed = completed

	l.logger.InfoWithFields("Ledger loaded", map[string]interface{}{
		"path":      l.path,
		"completed": completed.Len(),
		"skipped":   skipped,
	})

	return completed.clone(), nil
}

// Record appends one entry and syncs it to disk before returning
func (l *Ledger) Record(unit models.WorkUnit, outcome string) error {
	line := l.now().Format(time.RFC3339) + " " + FormatLine(unit, outcome) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("ledger %s is closed", l.path)
	}
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}

	if outcome == OutcomeSuccess {
		l.completed.add(unit)
	}
	return nil
}

// IsComplete reports whether a Success entry covers unit
func (l *Ledger) IsComplete(unit models.WorkUnit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed.Contains(unit)
}

// Remaining filters units down to the ones not yet complete, keeping order
func (l *Ledger) Remaining(units []models.WorkUnit) []models.WorkUnit {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := make([]models.WorkUnit, 0, len(units))
	for _, unit := range units {
		if !l.completed.Contains(unit) {
			remaining = append(remaining, unit)
		}
	}
	return remaining
}

// Completed returns a snapshot of the completed set
func (l *Ledger) Completed() *Completed {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed.clone()
}

// Path returns the ledger file location
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the underlying file
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Replay reads ledger lines from r and returns the completed set along with
// the number of lines that could not be parsed
func Replay(r io.Reader) (*Completed, int, error) {
	completed := newCompleted()
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, ok := ParseLine(line)
		if !ok {
			skipped++
			continue
		}
		if entry.Outcome == OutcomeSuccess {
			completed.add(entry.Unit)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to replay ledger: %w", err)
	}

	return completed, skipped, nil
}

// FormatLine renders the machine-parseable part of a ledger line
func FormatLine(unit models.WorkUnit, outcome string) string {
	return fmt.Sprintf("id: %s\trange: %s\t%s", unit.TargetID, unit.RangeLabel(), outcome)
}

// ParseLine extracts an entry from a ledger line. Any prefix before "id: "
// (timestamps, log levels) is ignored.
func ParseLine(line string) (Entry, bool) {
	idx := strings.Index(line, "id: ")
	if idx < 0 {
		return Entry{}, false
	}

	fields := strings.Split(strings.TrimRight(line[idx:], "\r\n"), "\t")
	if len(fields) != 3 {
		return Entry{}, false
	}

	targetID, ok := strings.CutPrefix(fields[0], "id: ")
	if !ok || targetID == "" {
		return Entry{}, false
	}
	rangeText, ok := strings.CutPrefix(fields[1], "range: ")
	if !ok {
		return Entry{}, false
	}
	outcome := strings.TrimSpace(fields[2])
	if outcome == "" {
		return Entry{}, false
	}

	unit, ok := parseRange(targetID, rangeText)
	if !ok {
		return Entry{}, false
	}
	return Entry{Unit: unit, Outcome: outcome}, true
}

func parseRange(targetID, text string) (models.WorkUnit, bool) {
	text = strings.TrimSpace(text)
	if text == fullLabel {
		return models.FullUnit(targetID), true
	}

	// Skip a leading sign so a negative start does not split early
	sep := strings.Index(text[min(1, len(text)):], "-")
	if sep < 0 {
		return models.WorkUnit{}, false
	}
	sep += min(1, len(text))

	start, err := strconv.ParseFloat(text[:sep], 64)
	if err != nil {
		return models.WorkUnit{}, false
	}
	end, err := strconv.ParseFloat(text[sep+1:], 64)
	if err != nil {
		return models.WorkUnit{}, false
	}
	return models.RangeUnit(targetID, start, end), true
}
