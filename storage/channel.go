package storage

import (
	"context"
	"log/slog"
	"time"
)

// DefaultChannelCapacity matches the spec's named flash channel depth.
const DefaultChannelCapacity = 8

// MaxWriteRetries bounds how many times a failed write is retried
// before being discarded; the in-RAM keymap remains authoritative for
// the session regardless (spec's StorageFault policy).
const MaxWriteRetries = 3

// request is one queued flash operation. Exactly one of put/wipe is set.
type request struct {
	key    Key
	payload []byte
	wipe   bool
	done   chan error // optional: non-nil when the caller wants the result
}

// Task drains a bounded request channel and applies writes to an Engine
// strictly in submission order, matching the spec's StorageTask: "the
// flash device is owned by the StorageTask alone — all other tasks use
// the FLASH_CHANNEL." Retries are bounded; a write that keeps failing is
// logged and discarded rather than blocking the channel forever.
type Task struct {
	engine *Engine
	in     chan request
	logger *slog.Logger
}

// NewTask creates a Task with the given channel capacity (0 uses
// DefaultChannelCapacity) backed by engine.
func NewTask(engine *Engine, capacity int, logger *slog.Logger) *Task {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{engine: engine, in: make(chan request, capacity), logger: logger}
}

// Put enqueues a write without waiting for it to apply. It returns
// false (and logs) if the channel is full; the write is then dropped.
// Callers in this module (the VIA processor and the bonder) log or
// ignore a false return and do not retry the write.
func (t *Task) Put(key Key, payload []byte) bool {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case t.in <- request{key: key, payload: cp}:
		return true
	default:
		t.logger.Warn("storage: flash channel full, write dropped", "key", key)
		return false
	}
}

// PutWait enqueues a write and blocks until it has been applied (or
// permanently discarded), returning the final error if any.
func (t *Task) PutWait(ctx context.Context, key Key, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	done := make(chan error, 1)
	req := request{key: key, payload: cp, done: done}
	select {
	case t.in <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wipe enqueues a full-region erase (EepromReset).
func (t *Task) Wipe(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case t.in <- request{wipe: true, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains requests until ctx is cancelled, applying each to the
// engine in order before moving to the next.
func (t *Task) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-t.in:
			err := t.apply(req)
			if req.done != nil {
				req.done <- err
			}
		}
	}
}

func (t *Task) apply(req request) error {
	var err error
	for attempt := 0; attempt <= MaxWriteRetries; attempt++ {
		if req.wipe {
			err = t.engine.Wipe()
		} else {
			err = t.engine.Put(req.key, req.payload)
		}
		if err == nil {
			return nil
		}
		if attempt == MaxWriteRetries {
			break
		}
		t.logger.Warn("storage: write failed, retrying", "key", req.key, "retry", attempt+1, "error", err)
		time.Sleep(time.Millisecond * time.Duration(attempt+1))
	}
	t.logger.Error("storage: write discarded after retries exhausted", "key", req.key, "error", err)
	return err
}
