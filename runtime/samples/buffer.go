package samples

import (
	"errors"
	"fmt"
)

// ErrWidthMismatch is returned when a row does not match the configured column width.
var ErrWidthMismatch = errors.New("telemetry row width mismatch")

// Buffer is a double-buffered store of fixed-width telemetry rows.
//
// One arena receives rows while the other holds the last completely filled
// batch. Both arenas are allocated once and only the selector and cursor move.
// Buffer is not safe for concurrent use; callers serialise access.
type Buffer struct {
	capacity int
	width    int

	arenas [2][]int64
	active int
	cursor int
	flips  uint64

	ready chan struct{}
}

// Status describes the fill state of a buffer.
type Status struct {
	Capacity int    `json:"capacity"`
	Width    int    `json:"width"`
	Pending  int    `json:"pending"`
	Flips    uint64 `json:"flips"`
}

// NewBuffer allocates a buffer holding capacity rows of width columns per arena.
func NewBuffer(capacity, width int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("telemetry buffer must have positive capacity, got %d", capacity)
	}
	if width <= 0 {
		return nil, fmt.Errorf("telemetry buffer must have positive width, got %d", width)
	}
	buf := &Buffer{
		capacity: capacity,
		width:    width,
		ready:    make(chan struct{}, 1),
	}
	buf.arenas[0] = make([]int64, capacity*width)
	buf.arenas[1] = make([]int64, capacity*width)
	return buf, nil
}

// Capacity returns the number of rows per arena.
func (b *Buffer) Capacity() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Width returns the configured column count.
func (b *Buffer) Width() int {
	if b == nil {
		return 0
	}
	return b.width
}

// PushRow appends row to the active arena, flipping arenas once it is full.
func (b *Buffer) PushRow(row []int64) error {
	if b == nil {
		return errors.New("telemetry buffer is nil")
	}
	if len(row) != b.width {
		return fmt.Errorf("%w: got %d columns, want %d", ErrWidthMismatch, len(row), b.width)
	}
	offset := b.cursor * b.width
	copy(b.arenas[b.active][offset:offset+b.width], row)
	b.cursor++
	if b.cursor == b.capacity {
		b.active ^= 1
		b.cursor = 0
		b.flips++
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
	return nil
}

// Snapshot returns a view of the stable arena. The view aliases buffer
// memory and stays valid until the next flip.
func (b *Buffer) Snapshot() Snapshot {
	if b == nil || b.flips == 0 {
		return Snapshot{width: b.Width()}
	}
	return Snapshot{
		data:       b.arenas[b.active^1],
		width:      b.width,
		Generation: b.flips,
	}
}

// Ready delivers an edge notification after each flip. Notifications are
// coalesced when the receiver lags.
func (b *Buffer) Ready() <-chan struct{} {
	if b == nil {
		return nil
	}
	return b.ready
}

// Flips returns the number of completed arena flips.
func (b *Buffer) Flips() uint64 {
	if b == nil {
		return 0
	}
	return b.flips
}

// Status reports the current fill state.
func (b *Buffer) Status() Status {
	if b == nil {
		return Status{}
	}
	return Status{Capacity: b.capacity, Width: b.width, Pending: b.cursor, Flips: b.flips}
}
