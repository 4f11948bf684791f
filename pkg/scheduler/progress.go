package scheduler

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// ProgressBar is a live-updating progress display for an evaluation run.
// On a TTY it redraws a single status line; otherwise it stays silent
// until the final summary line.
type ProgressBar struct {
	out   io.Writer
	fd    int
	isTTY bool

	total     int
	completed atomic.Int32
	succeeded atomic.Int32
	failed    atomic.Int32
	running   sync.Map // run_id -> bool

	done    chan struct{}
	stopped chan struct{}
	ticker  *time.Ticker
	mu      sync.Mutex // protects output
}

// NewProgressBar writes progress to out; fd is the file descriptor used
// for terminal size queries when isTTY is set.
func NewProgressBar(out io.Writer, fd int, isTTY bool) *ProgressBar {
	return &ProgressBar{
		out:     out,
		fd:      fd,
		isTTY:   isTTY,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// SetTotal fixes the task count before Start.
func (p *ProgressBar) SetTotal(total int) { p.total = total }

// Start begins redrawing in a background goroutine.
func (p *ProgressBar) Start() {
	p.ticker = time.NewTicker(100 * time.Millisecond)
	go func() {
		defer close(p.stopped)
		for {
			select {
			case <-p.done:
				p.ticker.Stop()
				p.render(true)
				return
			case <-p.ticker.C:
				p.render(false)
			}
		}
	}()
}

// Stop signals the progress bar to stop and waits for the final render.
func (p *ProgressBar) Stop() {
	close(p.done)
	<-p.stopped
}

// SetRunning marks a task as in flight.
func (p *ProgressBar) SetRunning(runID string) {
	p.running.Store(runID, true)
}

// Complete marks a task as finished.
func (p *ProgressBar) Complete(runID string, success bool) {
	p.running.Delete(runID)
	p.completed.Add(1)
	if success {
		p.succeeded.Add(1)
	} else {
		p.failed.Add(1)
	}
}

func (p *ProgressBar) green(s string) string {
	if p.isTTY {
		return "\x1b[32m" + s + "\x1b[0m"
	}
	return s
}

func (p *ProgressBar) red(s string) string {
	if p.isTTY {
		return "\x1b[31m" + s + "\x1b[0m"
	}
	return s
}

func (p *ProgressBar) terminalWidth() int {
	if !p.isTTY {
		return 80
	}
	width, _, err := term.GetSize(p.fd)
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

func (p *ProgressBar) render(final bool) {
	if !p.isTTY && !final {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	completed := int(p.completed.Load())
	succeeded := int(p.succeeded.Load())
	failed := int(p.failed.Load())

	termWidth := p.terminalWidth()
	barWidth := termWidth - 60
	if barWidth < 10 {
		barWidth = 10
	}
	if barWidth > 50 {
		barWidth = 50
	}

	filled := 0
	percent := 0
	if p.total > 0 {
		filled = (completed * barWidth) / p.total
		percent = (completed * 100) / p.total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	counts := fmt.Sprintf("%s %s", p.green(fmt.Sprintf("✓%d", succeeded)), p.red(fmt.Sprintf("✗%d", failed)))
	status := fmt.Sprintf("[%s] %3d%% (%d/%d) %s", bar, percent, completed, p.total, counts)

	runningCount := 0
	var firstID string
	p.running.Range(func(key, _ any) bool {
		runningCount++
		if firstID == "" {
			firstID = key.(string)
		}
		return true
	})
	if runningCount > 0 {
		availableForName := termWidth - len(status) - 10
		if availableForName < 5 {
			availableForName = 5
		}
		name := firstID
		if len(name) > availableForName {
			name = name[:availableForName-1] + "…"
		}
		if runningCount == 1 {
			status += fmt.Sprintf(" | %s", name)
		} else {
			status += fmt.Sprintf(" | %s +%d more", name, runningCount-1)
		}
	}

	if p.isTTY {
		fmt.Fprintf(p.out, "\r\x1b[K%s", status)
		if final {
			fmt.Fprintln(p.out)
		}
		return
	}
	fmt.Fprintln(p.out, status)
}
