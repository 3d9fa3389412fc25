package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const statusInterval = 120 * time.Millisecond

var statusFrames = [...]string{"-", "\\", "|", "/"}

// Status redraws a one-line status on a timer while a sweep of unknown
// length runs
type Status struct {
	w     io.Writer
	every time.Duration
	paint *color.Color

	mu   sync.Mutex
	text string

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// StartStatus begins redrawing text on w
func StartStatus(w io.Writer, text string, noColor bool) *Status {
	return startStatus(w, text, noColor, statusInterval)
}

func startStatus(w io.Writer, text string, noColor bool, every time.Duration) *Status {
	paint := color.New(color.FgCyan)
	if noColor {
		paint.DisableColor()
	}
	s := &Status{w: w, every: every, paint: paint, text: text, quit: make(chan struct{})}
	s.wg.Add(1)
	go s.run()
	return s
}

// Set replaces the status text
func (s *Status) Set(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

// Stop halts redrawing and blanks the line. Once it returns nothing more is
// written to the writer.
func (s *Status) Stop() {
	s.once.Do(func() {
		close(s.quit)
		s.wg.Wait()
		fmt.Fprint(s.w, "\r\033[K")
	})
}

func (s *Status) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.mu.Lock()
			text := s.text
			s.mu.Unlock()
			s.paint.Fprintf(s.w, "\r%s %s", statusFrames[frame%len(statusFrames)], text)
		}
	}
}

const tallyWidth = 24

// Tally counts entries through a run of known length, redrawing
// "label [####....] done/total" on every step
type Tally struct {
	w       io.Writer
	label   string
	total   int
	width   int
	done    int
	skipped int
	fill    *color.Color
}

// NewTally creates a tally for total entries
func NewTally(w io.Writer, label string, total int, noColor bool) *Tally {
	fill := color.New(color.FgGreen)
	if noColor {
		fill.DisableColor()
	}
	return &Tally{w: w, label: label, total: total, width: tallyWidth, fill: fill}
}

// Count records one processed entry. Skipped entries advance the bar but are
// reported apart.
func (t *Tally) Count(skipped bool) {
	if t.done < t.total {
		t.done++
	}
	if skipped {
		t.skipped++
	}
	t.draw()
}

// Written returns how many counted entries were not skipped
func (t *Tally) Written() int {
	return t.done - t.skipped
}

// Skipped returns how many counted entries were skipped
func (t *Tally) Skipped() int {
	return t.skipped
}

// Interrupt ends the line early so a report can follow it
func (t *Tally) Interrupt() {
	if t.total > 0 {
		fmt.Fprintln(t.w)
	}
}

// Finish ends the line. An empty run prints nothing.
func (t *Tally) Finish() {
	if t.total == 0 {
		return
	}
	t.draw()
	fmt.Fprintln(t.w)
}

func (t *Tally) draw() {
	if t.total == 0 {
		return
	}
	filled := t.width * t.done / t.total
	fmt.Fprintf(t.w, "\r%s [%s%s] %d/%d", t.label,
		t.fill.Sprint(strings.Repeat("#", filled)), strings.Repeat(".", t.width-filled),
		t.done, t.total)
}
