package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/drivelink/telemetry"
)

const (
	// DefaultWidth is the column count of the controller's telemetry rows.
	DefaultWidth = 18
	// DefaultReadTimeout bounds each blocking line read.
	DefaultReadTimeout = time.Second
)

// Transport is the byte link to the controller. ReadLine returns an empty
// string and a nil error when no complete line arrived within timeout.
type Transport interface {
	Write(p []byte) (int, error)
	ReadLine(timeout time.Duration) (string, error)
}

// Mailbox is the worker's view of the shared exchange.
type Mailbox interface {
	IsShutdownRequested() bool
	RequestShutdown()
	Done() <-chan struct{}
	TakeCommandIfPending() (string, bool)
	ReturnCommand(cmd string) bool
	PushTelemetryRow(row []int64) (bool, error)
}

// Stats are the worker counters.
type Stats struct {
	CommandsSent uint64 `json:"commands_sent"`
	RowsAccepted uint64 `json:"rows_accepted"`
	LinesDropped uint64 `json:"lines_dropped"`
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithTelemetry sets the metrics collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(w *Worker) {
		if collector != nil {
			w.metrics = collector
		}
	}
}

// WithWidth sets the expected telemetry column count.
func WithWidth(width int) Option {
	return func(w *Worker) {
		if width > 0 {
			w.width = width
		}
	}
}

// WithReadTimeout sets the per-read timeout.
func WithReadTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		if timeout > 0 {
			w.readTimeout = timeout
		}
	}
}

// Worker owns the transport and moves commands out and telemetry in.
type Worker struct {
	mailbox     Mailbox
	transport   Transport
	width       int
	readTimeout time.Duration
	logger      zerolog.Logger
	metrics     telemetry.Collector

	sent    atomic.Uint64
	rows    atomic.Uint64
	dropped atomic.Uint64
}

// NewWorker builds a worker for the given mailbox and transport.
func NewWorker(mailbox Mailbox, transport Transport, opts ...Option) (*Worker, error) {
	if mailbox == nil {
		return nil, errors.New("link worker requires a mailbox")
	}
	if transport == nil {
		return nil, errors.New("link worker requires a transport")
	}
	w := &Worker{
		mailbox:     mailbox,
		transport:   transport,
		width:       DefaultWidth,
		readTimeout: DefaultReadTimeout,
		logger:      zerolog.Nop(),
		metrics:     telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run services the link until shutdown is requested or ctx ends. A pending
// command is always written before the next read is attempted. Transport
// errors stop the loop and are returned.
//
// If the transport is an io.Closer it is closed as soon as shutdown is
// requested or ctx ends, which aborts a read in progress.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("width", w.width).Dur("read_timeout", w.readTimeout).Msg("link worker started")
	defer func() {
		stats := w.Stats()
		w.logger.Info().Uint64("commands", stats.CommandsSent).Uint64("rows", stats.RowsAccepted).Uint64("dropped", stats.LinesDropped).Msg("link worker stopped")
	}()

	if closer, ok := w.transport.(io.Closer); ok {
		stop := make(chan struct{})
		defer close(stop)
		go w.closeOnShutdown(ctx, closer, stop)
	}

	for {
		if w.stopping(ctx) {
			return nil
		}
		if err := w.step(); err != nil {
			if w.stopping(ctx) {
				w.logger.Debug().Err(err).Msg("transport error during shutdown")
				return nil
			}
			return err
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		w.mailbox.RequestShutdown()
		return true
	}
	return w.mailbox.IsShutdownRequested()
}

func (w *Worker) closeOnShutdown(ctx context.Context, closer io.Closer, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-ctx.Done():
	case <-w.mailbox.Done():
	}
	if err := closer.Close(); err != nil {
		w.logger.Debug().Err(err).Msg("close transport on shutdown")
	}
}

func (w *Worker) step() error {
	if cmd, ok := w.mailbox.TakeCommandIfPending(); ok {
		return w.send(cmd)
	}
	line, err := w.transport.ReadLine(w.readTimeout)
	if err != nil {
		return fmt.Errorf("link: read line: %w", err)
	}
	if line == "" {
		return nil
	}
	w.accept(line)
	return nil
}

func (w *Worker) send(cmd string) error {
	n, err := w.transport.Write([]byte(cmd))
	if err == nil && n < len(cmd) {
		err = io.ErrShortWrite
	}
	if err != nil {
		requeued := w.mailbox.ReturnCommand(cmd)
		w.logger.Error().Err(err).Str("command", cmd).Bool("requeued", requeued).Msg("command write failed")
		return fmt.Errorf("link: write command: %w", err)
	}
	w.sent.Add(1)
	w.metrics.IncCommandSent(commandLabel(cmd))
	w.logger.Debug().Str("command", cmd).Msg("command sent")
	return nil
}

func (w *Worker) accept(line string) {
	row, err := ParseRow(line, w.width)
	if err != nil {
		w.drop(line, err)
		return
	}
	flipped, err := w.mailbox.PushTelemetryRow(row)
	if err != nil {
		w.logger.Error().Err(err).Int("width", w.width).Msg("telemetry row rejected by buffer")
		w.drop(line, err)
		return
	}
	w.rows.Add(1)
	w.metrics.IncRows(1)
	if flipped {
		w.metrics.IncBufferFlip()
	}
}

func (w *Worker) drop(line string, err error) {
	w.dropped.Add(1)
	w.metrics.IncFrameDropped(dropReason(err))
	if len(line) > 128 {
		line = line[:128]
	}
	w.logger.Debug().Err(err).Str("line", line).Msg("telemetry line dropped")
}

// Stats returns the worker counters.
func (w *Worker) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	return Stats{
		CommandsSent: w.sent.Load(),
		RowsAccepted: w.rows.Load(),
		LinesDropped: w.dropped.Load(),
	}
}
