// Package eventlog is the append-only NDJSON record of verification
// attempts. The active file is rotated to a dated sibling once it grows past
// a byte limit; readers see the active file and every rotated sibling.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxBytes  = 10 << 20
	rotationStampFmt = "20060102T150405.000000000"
)

// State is the verification-relevant snapshot of an offer.
type State struct {
	Status       string `json:"status,omitempty"`
	PriceState   string `json:"price_state,omitempty"`
	Price        int64  `json:"price,omitempty"`
	DisplayPrice *int64 `json:"display_price,omitempty"`
	IsActive     bool   `json:"is_active"`
}

// Entry is one verification attempt.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"ts"`
	Trigger     string    `json:"trigger"`
	OfferID     string    `json:"offer_id"`
	ProductID   string    `json:"product_id,omitempty"`
	ProductType string    `json:"product_type,omitempty"`
	StoreName   string    `json:"store_name,omitempty"`

	Before State `json:"before"`
	After  State `json:"after"`

	Success      bool    `json:"success"`
	Skipped      bool    `json:"skipped,omitempty"`
	Code         string  `json:"code,omitempty"`
	Message      string  `json:"message,omitempty"`
	Method       string  `json:"method,omitempty"`
	Mismatch     bool    `json:"mismatch"`
	HardMismatch bool    `json:"hard_mismatch"`
	DeltaPercent float64 `json:"delta_percent"`
	OldPrice     int64   `json:"old_price,omitempty"`
	NewPrice     int64   `json:"new_price,omitempty"`
	LatencyMs    int64   `json:"latency_ms"`

	RedirectBlocked bool `json:"redirect_blocked,omitempty"`
	Degraded        bool `json:"degraded,omitempty"`
	ClickTimeout    bool `json:"click_timeout,omitempty"`
}

// IsClick reports whether the entry came from a click-through.
func (e Entry) IsClick() bool {
	return e.Trigger == "click" || e.Trigger == "confirm"
}

type Options struct {
	Path     string
	MaxBytes int64
	Now      func() time.Time
	Logger   *slog.Logger
}

type Log struct {
	path     string
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger

	mu sync.Mutex
}

func New(opts Options) (*Log, error) {
	if opts.Path == "" {
		return nil, errors.New("eventlog: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create dir: %w", err)
	}
	l := &Log{
		path:     opts.Path,
		maxBytes: opts.MaxBytes,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if l.maxBytes <= 0 {
		l.maxBytes = DefaultMaxBytes
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "eventlog")
	return l, nil
}

func (l *Log) Path() string { return l.path }

// Append writes e as one line, filling ID and Timestamp when empty.
func (l *Log) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventlog: marshal: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		l.logger.Warn("rotation failed", "error", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("eventlog: write: %w", err)
	}
	return nil
}

func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < l.maxBytes {
		return nil
	}
	target := l.rotatedName(l.now().UTC())
	if err := os.Rename(l.path, target); err != nil {
		return err
	}
	l.logger.Info("rotated", "to", target, "bytes", info.Size())
	return nil
}

// rotatedName returns "<dir>/<base>-<stamp><ext>".
func (l *Log) rotatedName(at time.Time) string {
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	return base + "-" + at.Format(rotationStampFmt) + ext
}

// Files returns rotated siblings oldest first, then the active file.
func (l *Log) Files() ([]string, error) {
	ext := filepath.Ext(l.path)
	pattern := strings.TrimSuffix(l.path, ext) + "-*" + ext
	rotated, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(rotated)
	if _, err := os.Stat(l.path); err == nil {
		rotated = append(rotated, l.path)
	}
	return rotated, nil
}

// Since returns every entry with Timestamp at or after since. Malformed lines
// are skipped.
func (l *Log) Since(since time.Time) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.Files()
	if err != nil {
		return nil, fmt.Errorf("eventlog: list files: %w", err)
	}
	var out []Entry
	for _, name := range files {
		entries, err := readFile(name, since)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readFile(name string, since time.Time) ([]Entry, error) {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open %s: %w", name, err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: read %s: %w", name, err)
	}
	return out, nil
}
