// Package matrix implements the debounced key-matrix scanner described in
// spec §4.1: a fixed row/col grid polled on a timer, producing debounced
// edges onto a keyevent.Channel.
package matrix

import (
	"context"
	"log/slog"
	"time"

	"github.com/B83C/rmk/keyevent"
)

// Pins is the external collaborator the scanner drives and reads — the
// GPIO abstraction. Implementations talk to real hardware; tests and
// cmd/rmkctl's simulated board supply software-driven fakes. Mirrors the
// role VIIPER's apiclient.DeviceStream plays as the boundary between
// engine logic and the outside transport.
type Pins interface {
	// DriveRow sets the row line active (true) or idle (false).
	DriveRow(row int, active bool) error
	// ReadCol samples the column line's current level.
	ReadCol(col int) (bool, error)
	// SettleDelay is the minimum time to wait after DriveRow before
	// ReadCol is valid (row-to-column propagation delay).
	SettleDelay() time.Duration
}

// Config controls debounce depth and scan cadence; zero-value fields fall
// back to the defaults spec §4.1 names.
type Config struct {
	Rows            int
	Cols            int
	ScanInterval    time.Duration // default 1ms
	DebounceCount   int           // default 5 consistent samples to flip state
	RowSettleExtra  time.Duration // additional settle beyond Pins.SettleDelay, if any
}

const (
	DefaultScanInterval  = time.Millisecond
	DefaultDebounceCount = 5
)

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.DebounceCount <= 0 {
		c.DebounceCount = DefaultDebounceCount
	}
	return c
}

// cell tracks the debounce counter and last-committed state of one
// (row, col) intersection, the per-cell state machine spec §4.1 describes:
// a candidate level must be observed DebounceCount consecutive scans
// before the committed state flips and an edge is emitted.
type cell struct {
	committed bool
	candidate bool
	count     int
}

// Scanner owns one matrix's debounce state and drives Pins on a ticker,
// emitting committed edges to a keyevent.Channel. RowOffset/ColOffset let
// a split peripheral's local matrix be translated into the combined
// keyboard's coordinate space before emission (spec §8).
type Scanner struct {
	cfg       Config
	pins      Pins
	out       *keyevent.Channel
	cells     [][]cell
	rowOffset int
	colOffset int
	logger    *slog.Logger
}

// New builds a Scanner. out is the channel debounced edges are emitted to,
// typically the keyboard's central keyevent.Channel.
func New(cfg Config, pins Pins, out *keyevent.Channel, logger *slog.Logger) *Scanner {
	cfg = cfg.withDefaults()
	cells := make([][]cell, cfg.Rows)
	for r := range cells {
		cells[r] = make([]cell, cfg.Cols)
	}
	return &Scanner{cfg: cfg, pins: pins, out: out, cells: cells, logger: logger}
}

// SetOffset translates emitted coordinates by (rowOffset, colOffset),
// used when this Scanner drives a split peripheral's local matrix.
func (s *Scanner) SetOffset(rowOffset, colOffset int) {
	s.rowOffset = rowOffset
	s.colOffset = colOffset
}

// Run drives the scan loop until ctx is cancelled. One tick drives every
// row in turn, settles, samples every column, and feeds each sample
// through the per-cell debounce counter.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.scanOnce(); err != nil {
				if s.logger != nil {
					s.logger.Error("matrix scan failed", "err", err)
				}
				return err
			}
		}
	}
}

func (s *Scanner) scanOnce() error {
	for row := 0; row < s.cfg.Rows; row++ {
		if err := s.pins.DriveRow(row, true); err != nil {
			return err
		}

		settle := s.pins.SettleDelay() + s.cfg.RowSettleExtra
		if settle > 0 {
			time.Sleep(settle)
		}

		for col := 0; col < s.cfg.Cols; col++ {
			level, err := s.pins.ReadCol(col)
			if err != nil {
				_ = s.pins.DriveRow(row, false)
				return err
			}
			s.debounce(row, col, level, time.Now())
		}

		if err := s.pins.DriveRow(row, false); err != nil {
			return err
		}
	}
	return nil
}

// debounce feeds one raw sample into cell (row, col)'s counter, emitting
// an edge and flipping the committed state once the same level has been
// observed DebounceCount consecutive times in a row.
func (s *Scanner) debounce(row, col int, level bool, now time.Time) {
	c := &s.cells[row][col]
	if level == c.candidate {
		c.count++
	} else {
		c.candidate = level
		c.count = 1
	}

	if c.count < s.cfg.DebounceCount || c.committed == c.candidate {
		return
	}

	c.committed = c.candidate
	ev := keyevent.Event{
		Row:       uint8(row + s.rowOffset),
		Col:       uint8(col + s.colOffset),
		Pressed:   c.committed,
		Timestamp: now,
	}
	if ok := s.out.TrySend(ev); !ok && s.logger != nil {
		s.logger.Warn("matrix edge dropped, downstream channel full", "row", ev.Row, "col", ev.Col)
	}
}
