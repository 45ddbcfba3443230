// Package logger builds the process slog logger and provides a coalescing
// logger for high-frequency repeated lines.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// New returns a text slog logger at level writing to w (stderr when nil)
// and installs it as the slog default.
func New(level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(l)
	return l
}

var dedup = NewDeduper(nil, 2*time.Second)

// Deduper folds identical consecutive messages into one line carrying a
// repeat count, flushed after flushDelay of quiet or when a different
// message arrives.
type Deduper struct {
	mu         sync.Mutex
	logger     *slog.Logger
	lastMsg    string
	count      int
	flushDelay time.Duration
	timer      *time.Timer
}

// NewDeduper writes through logger, or slog.Default at flush time when nil.
func NewDeduper(logger *slog.Logger, flushDelay time.Duration) *Deduper {
	return &Deduper{logger: logger, flushDelay: flushDelay}
}

func (d *Deduper) out() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

func (d *Deduper) flush() {
	if d.count == 0 {
		return
	}
	if d.count == 1 {
		d.out().Info(d.lastMsg)
	} else {
		d.out().Info(d.lastMsg, "repeated", d.count)
	}
	d.count = 0
	d.lastMsg = ""
}

func (d *Deduper) schedule() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.flushDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.flush()
	})
}

func (d *Deduper) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg == d.lastMsg {
		d.count++
		d.schedule()
		return
	}

	d.flush()
	d.lastMsg = msg
	d.count = 1
	d.schedule()
}

// Flush writes any pending line immediately.
func (d *Deduper) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.flush()
}

// Dedup logs through the process-wide deduper.
func Dedup(format string, args ...any) {
	dedup.Printf(format, args...)
}

// FlushDedup drains the process-wide deduper, used at shutdown.
func FlushDedup() {
	dedup.Flush()
}
