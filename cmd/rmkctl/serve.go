package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/B83C/rmk/internal/config"
	"github.com/B83C/rmk/internal/log"
	"github.com/B83C/rmk/keyboard"
	"github.com/B83C/rmk/keyevent"
	"github.com/B83C/rmk/keymap"
	"github.com/B83C/rmk/storage"
	"github.com/B83C/rmk/via"
)

// ServeCommand boots one simulated board: a flash-backed keymap, the
// keymap interpreter reading stdin commands as key events, a logging
// HID sink in place of a real transport, and a VIA TCP listener for
// KeymapCommand (or vial/via.sh) to attach to. It generalizes
// internal/cmd/server.go's Server.Run/StartServer split from "start the
// USB-IP listener, then the API listener" to "start the storage task,
// then the keyboard loop, then the VIA listener."
type ServeCommand struct {
	config.BoardProfile `embed:""`

	StorageFile       string        `help:"Flash-backed storage file." default:"rmk.flash"`
	StorageSize       int64         `help:"Storage file size in bytes." default:"65536"`
	VIAAddr           string        `help:"TCP address the VIA protocol is served on." default:"127.0.0.1:13246"`
	ConnectionTimeout time.Duration `help:"Per-connection idle timeout for the VIA listener." default:"30s"`
	HoldTimeout       time.Duration `help:"Tap-hold decision timeout." default:"200ms"`
	NKRO              bool          `help:"Use NKRO bitmap reports instead of 6KRO." default:"false"`
}

// Run is called by kong when "serve" is invoked.
func (s *ServeCommand) Run(logger *slog.Logger) error {
	if err := s.BoardProfile.Validate(); err != nil {
		return fmt.Errorf("rmkctl: invalid board profile: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := storage.Open(s.StorageFile, s.StorageSize, logger)
	if err != nil {
		return fmt.Errorf("rmkctl: open storage: %w", err)
	}
	defer engine.Close()

	task := storage.NewTask(engine, storage.DefaultChannelCapacity, logger)
	taskErrCh := make(chan error, 1)
	go func() { taskErrCh <- task.Run(ctx) }()

	km := keymap.New(s.Layers, s.Rows, s.Cols)
	loadKeymapFromStorage(engine, km, logger)

	reporter := newLoggingReporter(logger)
	kb := keyboard.New(keyboard.Config{HoldTimeout: s.HoldTimeout, NKRO: s.NKRO}, km, reporter, logger)

	events := keyevent.NewChannel(keyevent.DefaultCapacity, logger)
	kbErrCh := make(chan error, 1)
	go func() { kbErrCh <- kb.Run(ctx, events.Recv()) }()

	go runStdinKeySource(ctx, events, logger)

	processor := via.NewProcessor(km, engine, task, nil, logger)
	if logger.Enabled(ctx, log.LevelTrace) {
		processor.SetRawLogger(log.NewRaw(os.Stderr))
	}
	viaSrv := newVIAServer(s.VIAAddr, processor, s.ConnectionTimeout, logger)
	viaErrCh := make(chan error, 1)
	go func() { viaErrCh <- viaSrv.ListenAndServe() }()

	logger.Info("rmkctl serving", "via_addr", s.VIAAddr, "storage", s.StorageFile, "rows", s.Rows, "cols", s.Cols, "layers", s.Layers)

	select {
	case <-ctx.Done():
		_ = viaSrv.Close()
		return nil
	case err := <-viaErrCh:
		return err
	case err := <-taskErrCh:
		return err
	case err := <-kbErrCh:
		return err
	}
}

// loadKeymapFromStorage seeds km from any persisted KeymapCell records,
// the inverse of via.Processor.enqueueKeymapWrite: a fresh flash file has
// no records for any cell, so every cell keeps keymap.New's zero-value
// default (No on layer 0, Transparent above it).
func loadKeymapFromStorage(engine *storage.Engine, km *keymap.KeyMap, logger *slog.Logger) {
	loaded := 0
	for layer := 0; layer < km.NumLayer(); layer++ {
		for row := 0; row < km.Rows(); row++ {
			for col := 0; col < km.Cols(); col++ {
				raw, ok := engine.Get(storage.KeymapKey(layer, row, col))
				if !ok {
					continue
				}
				payload, ok := storage.DecodeKeymapCellPayload(raw)
				if !ok {
					continue
				}
				if err := km.SetAction(layer, row, col, actionFromPayload(payload)); err != nil {
					logger.Warn("rmkctl: dropped malformed stored keymap cell", "layer", layer, "row", row, "col", col, "error", err)
					continue
				}
				loaded++
			}
		}
	}
	if loaded > 0 {
		logger.Info("rmkctl: restored keymap cells from storage", "count", loaded)
	}
}

func actionFromPayload(p storage.KeymapCellPayload) keymap.Action {
	a := keymap.Action{Kind: keymap.ActionKind(p.Kind), Code: p.Code}
	switch a.Kind {
	case keymap.ActionLayerTapHold, keymap.ActionOneShotLayer:
		a.Layer = p.Extra
	case keymap.ActionWithModifier, keymap.ActionModifierTapHold, keymap.ActionOneShotModifier:
		a.Mods = p.Extra
	case keymap.ActionMacro:
		a.MacroIndex = p.Extra
	}
	return a
}

// loggingReporter stands in for the HID transport a real board would
// drive; it logs every report at debug level instead of writing to a
// device, the same role VIIPER's device handlers give a connected
// client but with nothing on the other end.
type loggingReporter struct{ logger *slog.Logger }

func newLoggingReporter(logger *slog.Logger) *loggingReporter { return &loggingReporter{logger: logger} }

func (r *loggingReporter) SendKeyboardReport(report []byte) error {
	r.logger.Debug("hid report", "kind", "keyboard", "bytes", report)
	return nil
}
func (r *loggingReporter) SendMediaReport(report []byte) error {
	r.logger.Debug("hid report", "kind", "media", "bytes", report)
	return nil
}
func (r *loggingReporter) SendSystemReport(report []byte) error {
	r.logger.Debug("hid report", "kind", "system", "bytes", report)
	return nil
}
func (r *loggingReporter) SendMouseReport(report []byte) error {
	r.logger.Debug("hid report", "kind", "mouse", "bytes", report)
	return nil
}

// runStdinKeySource reads "press ROW COL" / "release ROW COL" lines from
// stdin and turns them into keyevent.Events — there is no matrix.Pins
// implementation to scan in a simulated board, so stdin substitutes for
// the GPIO rows/cols matrix.Scanner would otherwise debounce.
func runStdinKeySource(ctx context.Context, out *keyevent.Channel, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			ev, err := parseKeyLine(line)
			if err != nil {
				if strings.TrimSpace(line) != "" {
					logger.Warn("rmkctl: ignoring malformed key command", "line", line, "error", err)
				}
				continue
			}
			if !out.TrySend(ev) {
				logger.Warn("rmkctl: event channel full, key command dropped", "row", ev.Row, "col", ev.Col)
			}
		}
	}
}

func parseKeyLine(line string) (keyevent.Event, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return keyevent.Event{}, fmt.Errorf("expected \"press|release ROW COL\", got %q", line)
	}
	var pressed bool
	switch fields[0] {
	case "press":
		pressed = true
	case "release":
		pressed = false
	default:
		return keyevent.Event{}, fmt.Errorf("unknown action %q", fields[0])
	}
	row, err := strconv.Atoi(fields[1])
	if err != nil {
		return keyevent.Event{}, fmt.Errorf("bad row: %w", err)
	}
	col, err := strconv.Atoi(fields[2])
	if err != nil {
		return keyevent.Event{}, fmt.Errorf("bad col: %w", err)
	}
	return keyevent.Event{Row: uint8(row), Col: uint8(col), Pressed: pressed, Timestamp: time.Now()}, nil
}

// viaServer serves via.FrameSize-byte request/response frames over TCP,
// the loopback equivalent of whatever USB HID raw-output endpoint a real
// board would expose VIA on.
type viaServer struct {
	addr      string
	processor *via.Processor
	timeout   time.Duration
	logger    *slog.Logger
	ln        net.Listener
}

func newVIAServer(addr string, processor *via.Processor, timeout time.Duration, logger *slog.Logger) *viaServer {
	return &viaServer{addr: addr, processor: processor, timeout: timeout, logger: logger}
}

func (s *viaServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("via listener: %w", err)
	}
	s.ln = ln
	s.logger.Info("via: listening", "addr", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.logger.Debug("via: client connected", "remote", conn.RemoteAddr())
		go s.handle(conn)
	}
}

func (s *viaServer) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *viaServer) handle(conn net.Conn) {
	defer conn.Close()
	for {
		if s.timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(s.timeout))
		}
		var req [via.FrameSize]byte
		if _, err := io.ReadFull(conn, req[:]); err != nil {
			return
		}
		resp := s.processor.Process(req)
		if _, err := conn.Write(resp[:]); err != nil {
			return
		}
	}
}
