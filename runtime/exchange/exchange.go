package exchange

import (
	"errors"
	"sync"

	"github.com/timzifer/drivelink/runtime/samples"
)

// ErrClosed reports an operation on an exchange that has been shut down.
var ErrClosed = errors.New("exchange is shut down")

// Exchange is the mailbox shared between the control side and the link worker.
//
// It holds at most one outbound command. A command submitted while another is
// pending replaces it.
type Exchange struct {
	mu sync.Mutex

	command string
	pending bool

	buffer  *samples.Buffer
	drained samples.Snapshot

	shutdown bool
	done     chan struct{}

	submitted uint64
	taken     uint64
	coalesced uint64
	rows      uint64
}

// Status is a point-in-time view of the exchange counters.
type Status struct {
	Pending   bool           `json:"pending"`
	Submitted uint64         `json:"submitted"`
	Taken     uint64         `json:"taken"`
	Coalesced uint64         `json:"coalesced"`
	Rows      uint64         `json:"rows"`
	Shutdown  bool           `json:"shutdown"`
	Buffer    samples.Status `json:"buffer"`
}

// New creates an exchange with a telemetry buffer of capacity rows by width columns.
func New(capacity, width int) (*Exchange, error) {
	buffer, err := samples.NewBuffer(capacity, width)
	if err != nil {
		return nil, err
	}
	return &Exchange{buffer: buffer, done: make(chan struct{})}, nil
}

// SubmitCommand stores cmd as the pending command. It reports whether a
// previously pending command was superseded.
func (e *Exchange) SubmitCommand(cmd string) (superseded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	superseded = e.pending
	if superseded {
		e.coalesced++
	}
	e.command = cmd
	e.pending = true
	e.submitted++
	return superseded
}

// TakeCommandIfPending returns and clears the pending command.
func (e *Exchange) TakeCommandIfPending() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pending {
		return "", false
	}
	cmd := e.command
	e.command = ""
	e.pending = false
	e.taken++
	return cmd, true
}

// ReturnCommand puts back a command that could not be transmitted. It is a
// no-op when a newer command has been submitted in the meantime.
func (e *Exchange) ReturnCommand(cmd string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		e.taken--
		e.coalesced++
		return false
	}
	e.command = cmd
	e.pending = true
	e.taken--
	return true
}

// PushTelemetryRow appends row to the telemetry buffer. It reports whether the
// push completed a batch.
func (e *Exchange) PushTelemetryRow(row []int64) (flipped bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	before := e.buffer.Flips()
	if err := e.buffer.PushRow(row); err != nil {
		return false, err
	}
	e.rows++
	return e.buffer.Flips() != before, nil
}

// DrainTelemetry returns the last completed telemetry batch.
//
// The batch is copied out of the arena once per flip, so the first drain of a
// generation costs O(capacity*width) under the lock. Repeated drains of the same
// generation return the cached snapshot in O(1).
func (e *Exchange) DrainTelemetry() samples.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.buffer.Snapshot()
	if current.Generation == 0 {
		return current
	}
	if e.drained.Generation != current.Generation {
		e.drained = current.Clone()
	}
	return e.drained
}

// Ready signals completed batches.
func (e *Exchange) Ready() <-chan struct{} {
	return e.buffer.Ready()
}

// RequestShutdown asks the worker to stop. It is safe to call more than once.
func (e *Exchange) RequestShutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return
	}
	e.shutdown = true
	close(e.done)
}

// IsShutdownRequested reports whether RequestShutdown was called.
func (e *Exchange) IsShutdownRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}

// Done is closed once shutdown has been requested.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Width returns the telemetry column width.
func (e *Exchange) Width() int {
	return e.buffer.Width()
}

// Status returns the current counters.
func (e *Exchange) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Pending:   e.pending,
		Submitted: e.submitted,
		Taken:     e.taken,
		Coalesced: e.coalesced,
		Rows:      e.rows,
		Shutdown:  e.shutdown,
		Buffer:    e.buffer.Status(),
	}
}
