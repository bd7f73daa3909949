// SPDX-License-Identifier: MIT

// Package recording holds the append-only buffer of RequestLog lines
// captured while recording is active, and the stop/drain semantics
// reporter plugins rely on at the recording-stopped event.
package recording

import (
	"sync"

	"github.com/devproxy-oss/devproxy/internal/model"
)

// Buffer is the in-memory recording store. Starting is idempotent;
// stopping an already-stopped buffer is a no-op that returns nil.
type Buffer struct {
	mu        sync.Mutex
	recording bool
	lines     []model.RequestLog
}

// NewBuffer returns an empty, not-yet-started recording buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Start begins recording. Calling Start while already recording is a
// no-op: it does not clear lines already captured.
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recording = true
}

// Recording reports whether the buffer is currently accepting lines.
func (b *Buffer) Recording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recording
}

// Append adds a RequestLog line if recording is active. It is a silent
// no-op otherwise, so callers never need to branch on Recording() first.
func (b *Buffer) Append(line model.RequestLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.recording {
		return
	}
	b.lines = append(b.lines, line)
}

// Stop ends recording and atomically drains the buffer, returning whatever
// was captured since the last Start; a started buffer with nothing captured
// yields an empty, non-nil slice. A second call returns nil, since nothing
// is appended while stopped, and so does stopping a buffer that was never
// started.
func (b *Buffer) Stop() []model.RequestLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.recording && b.lines == nil {
		return nil
	}
	b.recording = false
	drained := b.lines
	b.lines = nil
	if drained == nil {
		drained = []model.RequestLog{}
	}
	return drained
}

// Len reports the number of buffered lines without draining them. Used by
// the admin metrics endpoint.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Snapshot returns a copy of the lines buffered so far without draining or
// stopping the recording. Used by the admin API's read-only request log
// endpoint.
func (b *Buffer) Snapshot() []model.RequestLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.RequestLog, len(b.lines))
	copy(out, b.lines)
	return out
}
