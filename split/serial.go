package split

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"log/slog"
	"sync"

	"github.com/B83C/rmk/internal/log"
)

// serialFrameOverhead is the length prefix (2) plus trailing CRC32 (4)
// that wrap every Message payload on the UART transport. The length
// field covers payload+CRC, so nothing trails the length-delimited
// frame itself (spec §6's "append no footer" reading taken to mean: no
// second framing layer outside the length prefix, not "no CRC").
const serialFrameOverhead = 2 + 4

// EncodeSerialFrame wraps a marshaled message in the UART frame format:
// a 2-byte little-endian length (covering payload+CRC) followed by the
// payload and a trailing big-endian CRC32 over the payload.
func EncodeSerialFrame(m Message) []byte {
	payload := m.Marshal()
	sum := crc32.ChecksumIEEE(payload)

	frame := make([]byte, 2+len(payload)+4)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(payload)+4))
	copy(frame[2:], payload)
	binary.BigEndian.PutUint32(frame[2+len(payload):], sum)
	return frame
}

// SerialWriter writes SplitMessage frames to a half-duplex UART stream.
type SerialWriter struct {
	w   io.Writer
	raw log.RawLogger
	mu  sync.Mutex
}

func NewSerialWriter(w io.Writer) *SerialWriter { return &SerialWriter{w: w} }

// SetRawLogger attaches a hex-dump sink for every outgoing frame; a nil
// logger (the default) disables tracing entirely.
func (s *SerialWriter) SetRawLogger(raw log.RawLogger) {
	s.raw = raw
}

func (s *SerialWriter) Write(m Message) error {
	frame := EncodeSerialFrame(m)
	if s.raw != nil {
		s.raw.Log(true, frame)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(frame)
	return err
}

// SerialParser incrementally reassembles SplitMessage frames out of a
// byte stream that may deliver arbitrary chunk boundaries, the same
// stateful bytes.Buffer "peek header, consume frame, continue" loop
// internal/server/proxy/parser.go uses for USB-IP packets: Feed appends
// whatever arrived and drains every complete frame currently buffered.
type SerialParser struct {
	logger *slog.Logger
	buf    bytes.Buffer
}

func NewSerialParser(logger *slog.Logger) *SerialParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialParser{logger: logger}
}

// Feed appends data to the internal buffer and returns every complete,
// CRC-valid message it can now decode. A CRC mismatch or malformed
// payload discards only that frame (its length is still trusted, since
// the length prefix itself isn't covered by the CRC) and logs a warning,
// per §4.5's "malformed frames are discarded and an error is logged".
func (p *SerialParser) Feed(data []byte) []Message {
	p.buf.Write(data)
	var out []Message

	for p.buf.Len() >= 2 {
		peek := p.buf.Bytes()
		frameLen := int(binary.LittleEndian.Uint16(peek[0:2]))
		if frameLen < 4 {
			p.logger.Warn("split: serial frame length too short, resyncing", "len", frameLen)
			p.buf.Next(2)
			continue
		}
		if p.buf.Len() < 2+frameLen {
			return out // need more data
		}

		body := peek[2 : 2+frameLen]
		payload := body[:len(body)-4]
		wantCRC := binary.BigEndian.Uint32(body[len(body)-4:])
		gotCRC := crc32.ChecksumIEEE(payload)

		if gotCRC != wantCRC {
			p.logger.Warn("split: serial frame CRC mismatch, dropping")
		} else if msg, err := Unmarshal(payload); err != nil {
			p.logger.Warn("split: serial frame deserialize failed, dropping", "err", err)
		} else {
			out = append(out, msg)
		}

		p.buf.Next(2 + frameLen)
	}

	if p.buf.Len() > 4096 {
		p.logger.Warn("split: serial parser buffer overflow, resetting")
		p.buf.Reset()
	}

	return out
}

// readExactly fills buf completely or returns the first read error,
// mirroring usbip.ReadExactly: io.Reader.Read is not guaranteed to fill
// its slice in one call even for a blocking device file.
func readExactly(r io.Reader, buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}

// SerialReader reads frames directly off a blocking io.Reader (a real
// UART device file), as an alternative to feeding SerialParser from
// whatever chunk sizes a non-blocking source happens to deliver.
type SerialReader struct {
	r      io.Reader
	logger *slog.Logger
	raw    log.RawLogger
}

func NewSerialReader(r io.Reader, logger *slog.Logger) *SerialReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialReader{r: r, logger: logger}
}

// SetRawLogger attaches a hex-dump sink for every validated incoming
// frame; a nil logger (the default) disables tracing entirely.
func (s *SerialReader) SetRawLogger(raw log.RawLogger) {
	s.raw = raw
}

// ReadMessage blocks until one full frame has been read and validated,
// looping past any CRC failure rather than returning an error for it
// (malformed frames are discarded and logged, not fatal to the stream).
func (s *SerialReader) ReadMessage() (Message, error) {
	for {
		var lenBuf [2]byte
		if err := readExactly(s.r, lenBuf[:]); err != nil {
			return Message{}, err
		}
		frameLen := int(binary.LittleEndian.Uint16(lenBuf[:]))
		if frameLen < 4 {
			s.logger.Warn("split: serial frame length too short, resyncing", "len", frameLen)
			continue
		}

		body := make([]byte, frameLen)
		if err := readExactly(s.r, body); err != nil {
			return Message{}, err
		}

		payload := body[:len(body)-4]
		wantCRC := binary.BigEndian.Uint32(body[len(body)-4:])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			s.logger.Warn("split: serial frame CRC mismatch, dropping")
			continue
		}
		msg, err := Unmarshal(payload)
		if err != nil {
			s.logger.Warn("split: serial frame deserialize failed, dropping", "err", err)
			continue
		}
		if s.raw != nil {
			s.raw.Log(false, body)
		}
		return msg, nil
	}
}
