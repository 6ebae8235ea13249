package telemetry

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures events emitted by the link runtime.
//
// Hooks run inline on the link worker loop, so implementations must be cheap.
type Collector interface {
	IncHotReload(file string)
	IncCommandSent(register string)
	IncCommandCoalesced()
	IncCommandRejected(reason string)
	IncRows(count uint64)
	IncFrameDropped(reason string)
	IncBufferFlip()
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)       {}
func (noopCollector) IncCommandSent(string)     {}
func (noopCollector) IncCommandCoalesced()      {}
func (noopCollector) IncCommandRejected(string) {}
func (noopCollector) IncRows(uint64)            {}
func (noopCollector) IncFrameDropped(string)    {}
func (noopCollector) IncBufferFlip()            {}

type counterSlot struct {
	mu  sync.Mutex
	vec *prometheus.CounterVec
}

func (s *counterSlot) register(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vec != nil {
		return s.vec, nil
	}
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		counter = existing
	}
	s.vec = counter
	return counter, nil
}

func (s *counterSlot) reset() {
	s.mu.Lock()
	s.vec = nil
	s.mu.Unlock()
}

var (
	hotReloadCounter        counterSlot
	commandSentCounter      counterSlot
	commandCoalescedCounter counterSlot
	commandRejectedCounter  counterSlot
	rowCounter              counterSlot
	frameDropCounter        counterSlot
	bufferFlipCounter       counterSlot
)

// PrometheusCollector exposes link counters via Prometheus.
type PrometheusCollector struct {
	hotReloads        *prometheus.CounterVec
	commandsSent      *prometheus.CounterVec
	commandsCoalesced *prometheus.CounterVec
	commandsRejected  *prometheus.CounterVec
	rows              *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	bufferFlips       *prometheus.CounterVec
}

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var (
		c   PrometheusCollector
		err error
	)
	if c.hotReloads, err = hotReloadCounter.register(reg, prometheus.CounterOpts{
		Name: "drivelink_config_hot_reload_total",
		Help: "Number of session restarts triggered per configuration source file.",
	}, "file"); err != nil {
		return nil, err
	}
	if c.commandsSent, err = commandSentCounter.register(reg, prometheus.CounterOpts{
		Name: "drivelink_commands_sent_total",
		Help: "Number of commands written to the serial link per register mnemonic.",
	}, "register"); err != nil {
		return nil, err
	}
	if c.commandsCoalesced, err = commandCoalescedCounter.register(reg, prometheus.CounterOpts{
		Name: "drivelink_commands_coalesced_total",
		Help: "Number of pending commands replaced by a newer submission before transmission.",
	}); err != nil {
		return nil, err
	}
	if c.commandsRejected, err = commandRejectedCounter.register(reg, prometheus.CounterOpts{
		Name: "drivelink_commands_rejected_total",
		Help: "Number of register writes rejected before reaching the link.",
	}, "reason"); err != nil {
		return nil, err
	}
	if c.rows, err = rowCounter.register(reg, prometheus.CounterOpts{
		Name: "drivelink_telemetry_rows_total",
		Help: "Number of telemetry rows accepted into the buffer.",
	}); err != nil {
		return nil, err
	}
	if c.framesDropped, err = frameDropCounter.register(reg, prometheus.CounterOpts{
		Name: "drivelink_telemetry_lines_dropped_total",
		Help: "Number of malformed telemetry lines discarded.",
	}, "reason"); err != nil {
		return nil, err
	}
	if c.bufferFlips, err = bufferFlipCounter.register(reg, prometheus.CounterOpts{
		Name: "drivelink_telemetry_buffer_flips_total",
		Help: "Number of completed telemetry batches.",
	}); err != nil {
		return nil, err
	}
	return &c, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncCommandSent records a transmitted command.
func (p *PrometheusCollector) IncCommandSent(register string) {
	if p == nil || p.commandsSent == nil {
		return
	}
	p.commandsSent.WithLabelValues(register).Inc()
}

// IncCommandCoalesced records a pending command that was superseded.
func (p *PrometheusCollector) IncCommandCoalesced() {
	if p == nil || p.commandsCoalesced == nil {
		return
	}
	p.commandsCoalesced.WithLabelValues().Inc()
}

// IncCommandRejected records a write rejected by the encoder.
func (p *PrometheusCollector) IncCommandRejected(reason string) {
	if p == nil || p.commandsRejected == nil {
		return
	}
	p.commandsRejected.WithLabelValues(reason).Inc()
}

// IncRows adds accepted telemetry rows.
func (p *PrometheusCollector) IncRows(count uint64) {
	if p == nil || p.rows == nil || count == 0 {
		return
	}
	p.rows.WithLabelValues().Add(float64(count))
}

// IncFrameDropped records a discarded telemetry line.
func (p *PrometheusCollector) IncFrameDropped(reason string) {
	if p == nil || p.framesDropped == nil {
		return
	}
	p.framesDropped.WithLabelValues(reason).Inc()
}

// IncBufferFlip records a completed telemetry batch.
func (p *PrometheusCollector) IncBufferFlip() {
	if p == nil || p.bufferFlips == nil {
		return
	}
	p.bufferFlips.WithLabelValues().Inc()
}
