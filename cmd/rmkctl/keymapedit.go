package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/B83C/rmk/via"
)

// KeymapCommand is a small interactive VIA client: it connects to a
// running ServeCommand's TCP endpoint and lets an operator inspect and
// rebind cells without a GUI, the same role VIIPER's CLI gives a human
// operator driving bus/device management commands interactively.
type KeymapCommand struct {
	Addr    string        `help:"VIA server address to connect to." default:"127.0.0.1:13246"`
	Timeout time.Duration `help:"Per-request timeout." default:"2s"`
}

// cmdGetKeymapBuffer/cmdSetKeymapBuffer are the DynamicKeymapGetBuffer/
// SetBuffer command bytes via.Processor.Process dispatches on.
const (
	cmdGetKeymapBuffer = 0x12
	cmdSetKeymapBuffer = 0x13
)

func (k *KeymapCommand) Run(logger *slog.Logger) error {
	conn, err := net.DialTimeout("tcp", k.Addr, k.Timeout)
	if err != nil {
		return fmt.Errorf("rmkctl: dial VIA server: %w", err)
	}
	defer conn.Close()

	fmt.Println("Connected to", k.Addr)
	fmt.Println("Commands: get OFFSET   set OFFSET HEX_KEYCODE   quit")
	fmt.Println("OFFSET is the flat cell index (keymap.KeyMap.FlatIndex: layer*rows*cols + row*cols + col).")

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if oldState, err := term.MakeRaw(fd); err == nil {
			defer term.Restore(fd, oldState)
			return k.runRawLineEditor(conn)
		}
	}
	return k.runLineLoop(conn, bufio.NewScanner(os.Stdin))
}

// stdioRW adapts separate stdin/stdout handles into the single
// io.ReadWriter term.NewTerminal expects.
type stdioRW struct {
	in  *os.File
	out *os.File
}

func (s stdioRW) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s stdioRW) Write(p []byte) (int, error) { return s.out.Write(p) }

// runRawLineEditor wraps stdin/stdout in a term.Terminal for basic
// line-editing (backspace, cursor movement) once stdin is confirmed to
// be a real TTY, the interactive-editor idiom golang.org/x/term exists
// for in this corpus.
func (k *KeymapCommand) runRawLineEditor(conn net.Conn) error {
	tty := term.NewTerminal(stdioRW{in: os.Stdin, out: os.Stdout}, "rmk> ")
	for {
		line, err := tty.ReadLine()
		if err != nil {
			return nil
		}
		if !k.dispatch(conn, line) {
			return nil
		}
	}
}

func (k *KeymapCommand) runLineLoop(conn net.Conn, scanner *bufio.Scanner) error {
	for {
		fmt.Print("rmk> ")
		if !scanner.Scan() {
			return nil
		}
		if !k.dispatch(conn, scanner.Text()) {
			return nil
		}
	}
}

// dispatch handles one command line, returning false to end the session.
func (k *KeymapCommand) dispatch(conn net.Conn, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "quit", "exit":
		return false
	case "get":
		if len(fields) != 2 {
			fmt.Println("usage: get OFFSET")
			return true
		}
		if err := k.get(conn, fields[1]); err != nil {
			fmt.Println("error:", err)
		}
	case "set":
		if len(fields) != 3 {
			fmt.Println("usage: set OFFSET HEX_KEYCODE")
			return true
		}
		if err := k.set(conn, fields[1], fields[2]); err != nil {
			fmt.Println("error:", err)
		}
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return true
}

func (k *KeymapCommand) get(conn net.Conn, offsetArg string) error {
	offset, err := strconv.Atoi(offsetArg)
	if err != nil {
		return fmt.Errorf("bad offset: %w", err)
	}
	var req [via.FrameSize]byte
	req[0] = cmdGetKeymapBuffer
	// getKeymapBuffer addresses cells by offset/2, so a single-cell read
	// needs the byte offset (cell*2) and a 2-byte size.
	binary.BigEndian.PutUint16(req[1:3], uint16(offset*2))
	req[3] = 2
	resp, err := roundTrip(conn, req)
	if err != nil {
		return err
	}
	kc := binary.BigEndian.Uint16(resp[4:6])
	fmt.Printf("keycode=0x%04x\n", kc)
	return nil
}

func (k *KeymapCommand) set(conn net.Conn, offsetArg, keycodeArg string) error {
	offset, err := strconv.Atoi(offsetArg)
	if err != nil {
		return fmt.Errorf("bad offset: %w", err)
	}
	kc, err := strconv.ParseUint(strings.TrimPrefix(keycodeArg, "0x"), 16, 16)
	if err != nil {
		return fmt.Errorf("bad keycode: %w", err)
	}
	var req [via.FrameSize]byte
	req[0] = cmdSetKeymapBuffer
	binary.BigEndian.PutUint16(req[1:3], uint16(offset))
	req[3] = 1
	binary.LittleEndian.PutUint16(req[4:6], uint16(kc))
	_, err = roundTrip(conn, req)
	return err
}

func roundTrip(conn net.Conn, req [via.FrameSize]byte) ([via.FrameSize]byte, error) {
	var resp [via.FrameSize]byte
	if _, err := conn.Write(req[:]); err != nil {
		return resp, err
	}
	n := 0
	for n < len(resp) {
		m, err := conn.Read(resp[n:])
		if err != nil {
			return resp, err
		}
		n += m
	}
	return resp, nil
}
