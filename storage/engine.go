package storage

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Engine is a log-structured append-only map over a fixed-size
// flash-file region. Writes append; reads walk an in-memory index built
// at Open time (kept current on every Put) so lookups never re-scan the
// file. When the region fills, Put triggers compaction: live records are
// copied into a fresh buffer and the old log is erased, mirroring the
// source firmware's "copy live, then erase" partition-swap policy.
type Engine struct {
	mu     sync.Mutex
	file   *os.File
	size   int64 // fixed capacity of the flash region
	tail   int64 // offset of the next append
	index  map[Key]indexEntry
	logger *slog.Logger
}

type indexEntry struct {
	payload []byte
}

// Open opens (creating if necessary) the backing flash-file at path,
// truncated/extended to exactly size bytes, takes an exclusive lock on
// it for the Engine's lifetime, and replays its record log into memory.
func Open(path string, size int64, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: lock %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: resize %s to %d: %w", path, size, err)
		}
	}

	e := &Engine{file: f, size: size, index: make(map[Key]indexEntry), logger: logger}
	if err := e.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return e, nil
}

// replay walks the log from offset 0, rebuilding the newest-wins index
// and locating the tail (first position that fails to decode a valid
// record, either because it is unwritten or because a crash left a torn
// tail record behind).
func (e *Engine) replay() error {
	if _, err := e.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := io.LimitReader(e.file, e.size)
	var offset int64
	for {
		rec, err := readRecord(r)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			// CRC mismatch or truncated trailer: treat as the live tail,
			// same as running off the end of written data.
			e.logger.Warn("storage: stopping replay at corrupt/torn record", "offset", offset)
			break
		}
		e.index[rec.key] = indexEntry{payload: rec.payload}
		offset += int64(record{key: rec.key, payload: rec.payload}.encodedLen())
	}
	e.tail = offset
	return nil
}

// Get returns the most recently written payload for key, if any.
func (e *Engine) Get(key Key) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.index[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(ent.payload))
	copy(out, ent.payload)
	return out, true
}

// Put appends a new record for key. If the region has no room, it
// compacts once (copying only live, i.e. currently-indexed, records)
// and retries the append; if it still does not fit after compaction,
// ErrResourceExhausted is returned.
func (e *Engine) Put(key Key, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := record{key: key, payload: payload}
	if e.tail+int64(rec.encodedLen()) > e.size {
		if err := e.compactLocked(); err != nil {
			return err
		}
		if e.tail+int64(rec.encodedLen()) > e.size {
			return ErrResourceExhausted
		}
	}
	return e.appendLocked(rec)
}

func (e *Engine) appendLocked(rec record) error {
	if _, err := e.file.Seek(e.tail, io.SeekStart); err != nil {
		return err
	}
	if err := rec.writeTo(e.file); err != nil {
		return err
	}
	e.index[rec.key] = indexEntry{payload: rec.payload}
	e.tail += int64(rec.encodedLen())
	return nil
}

// compactLocked rewrites the region holding only the live (indexed)
// key/value set, in arbitrary map order, then zero-fills the remainder.
// Callers must hold e.mu.
func (e *Engine) compactLocked() error {
	var buf bytes.Buffer
	keys := make([]Key, 0, len(e.index))
	for k := range e.index {
		keys = append(keys, k)
	}
	for _, k := range keys {
		rec := record{key: k, payload: e.index[k].payload}
		if err := rec.writeTo(&buf); err != nil {
			return fmt.Errorf("storage: compaction encode: %w", err)
		}
	}
	if int64(buf.Len()) > e.size {
		return fmt.Errorf("storage: live set (%d bytes) exceeds region size (%d) after compaction", buf.Len(), e.size)
	}

	if _, err := e.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	padded := make([]byte, e.size)
	copy(padded, buf.Bytes())
	if _, err := e.file.Write(padded); err != nil {
		return fmt.Errorf("storage: compaction write: %w", err)
	}
	if err := e.file.Sync(); err != nil {
		return fmt.Errorf("storage: compaction sync: %w", err)
	}
	e.tail = int64(buf.Len())
	e.logger.Info("storage: compacted", "live_bytes", e.tail, "region_size", e.size)
	return nil
}

// Wipe erases the entire region and in-memory index (EepromReset).
func (e *Engine) Wipe() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := e.file.Write(make([]byte, e.size)); err != nil {
		return err
	}
	if err := e.file.Sync(); err != nil {
		return err
	}
	e.index = make(map[Key]indexEntry)
	e.tail = 0
	return nil
}

// Close releases the file lock and closes the backing file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	unlockFile(e.file)
	return e.file.Close()
}

// ErrResourceExhausted is returned when a write cannot be made to fit
// even after compaction — spec's ResourceExhaustion failure taxonomy.
var ErrResourceExhausted = fmt.Errorf("storage: region exhausted, compaction did not free enough space")
