package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/timzifer/drivelink/config"
	"github.com/timzifer/drivelink/link"
	"github.com/timzifer/drivelink/registers"
	"github.com/timzifer/drivelink/runtime/exchange"
	"github.com/timzifer/drivelink/runtime/samples"
	"github.com/timzifer/drivelink/telemetry"
	"github.com/timzifer/drivelink/transport"
)

// Transport is a link transport the bridge can release.
type Transport interface {
	link.Transport
	Close() error
}

// TransportFactory opens the link transport for a session.
type TransportFactory func(cfg config.LinkConfig) (Transport, error)

// Option customises a Bridge.
type Option func(*Bridge)

// WithTransport makes every session use t instead of opening a serial port.
func WithTransport(t Transport) Option {
	return func(b *Bridge) {
		if t == nil {
			return
		}
		b.factory = func(config.LinkConfig) (Transport, error) { return t, nil }
	}
}

// WithTransportFactory replaces the serial port factory.
func WithTransportFactory(factory TransportFactory) Option {
	return func(b *Bridge) {
		if factory != nil {
			b.factory = factory
		}
	}
}

// WithTelemetry sets the metrics collector used by the bridge and its worker.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(b *Bridge) {
		if collector != nil {
			b.metrics = collector
		}
	}
}

// WithGatherer exposes gatherer on the HTTP surface under /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(b *Bridge) {
		b.gatherer = gatherer
	}
}

func openSerial(cfg config.LinkConfig) (Transport, error) {
	return transport.Open(transport.Config{
		Driver:      cfg.Driver,
		Port:        cfg.Port,
		BaudRate:    cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout.Duration,
		MaxLine:     cfg.MaxLine,
	})
}

// Bridge connects the control surface to one controller link.
type Bridge struct {
	cfg      *config.Config
	logger   zerolog.Logger
	session  string
	table    *registers.Table
	encoder  *registers.Encoder
	exchange *exchange.Exchange
	columns  []column
	metrics  telemetry.Collector
	factory  TransportFactory
	gatherer prometheus.Gatherer
	started  time.Time

	mu        sync.Mutex
	worker    *link.Worker
	connected bool
	sessions  int
	lastErr   error
	http      *http.Server
	httpAddr  string
}

// Status is a point-in-time view of the bridge.
type Status struct {
	Session   string          `json:"session"`
	Port      string          `json:"port"`
	Driver    string          `json:"driver"`
	StartedAt time.Time       `json:"started_at"`
	Connected bool            `json:"connected"`
	Sessions  int             `json:"sessions"`
	LastError string          `json:"last_error,omitempty"`
	Exchange  exchange.Status `json:"exchange"`
	Link      link.Stats      `json:"link"`
}

// RegisterInfo is the display metadata of a register.
type RegisterInfo struct {
	Address     uint16   `json:"address"`
	Mnemonic    string   `json:"mnemonic"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Range       string   `json:"range"`
	Transform   string   `json:"transform"`
	DefaultRaw  int64    `json:"default_raw"`
	DefaultUser *float64 `json:"default_user,omitempty"`
	Writable    bool     `json:"writable"`
	Readable    bool     `json:"readable"`
}

// New builds a bridge from configuration. It does not touch the link.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	table, err := buildTable(cfg.Registers)
	if err != nil {
		return nil, err
	}
	encoder, err := registers.NewEncoder(table)
	if err != nil {
		return nil, err
	}
	width := cfg.Link.Width
	if width <= 0 {
		width = link.DefaultWidth
	}
	if len(cfg.Columns) > width {
		return nil, fmt.Errorf("%d columns configured for telemetry width %d", len(cfg.Columns), width)
	}
	ex, err := exchange.New(cfg.Link.BufferRows, width)
	if err != nil {
		return nil, fmt.Errorf("create exchange: %w", err)
	}
	columns, err := compileColumns(cfg.Columns)
	if err != nil {
		return nil, err
	}
	session := uuid.NewString()
	b := &Bridge{
		cfg:      cfg,
		logger:   logger.With().Str("session", session).Logger(),
		session:  session,
		table:    table,
		encoder:  encoder,
		exchange: ex,
		columns:  columns,
		metrics:  telemetry.Noop(),
		factory:  openSerial,
		started:  time.Now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Validate builds a bridge from cfg and reports configuration errors.
func Validate(cfg *config.Config, logger zerolog.Logger) error {
	_, err := New(cfg, logger)
	return err
}

// Session returns the identifier of this bridge instance.
func (b *Bridge) Session() string {
	return b.session
}

// Write converts user to a raw register write and queues it. A rejected write
// leaves the pending command untouched.
func (b *Bridge) Write(address uint16, user float64) (registers.Command, error) {
	cmd, err := b.encoder.EncodeWrite(address, user)
	if err != nil {
		return "", b.reject(address, err)
	}
	if err := b.submit(cmd); err != nil {
		return "", err
	}
	return cmd, nil
}

// WriteDefault queues the register's default raw value.
func (b *Bridge) WriteDefault(address uint16) (registers.Command, error) {
	cmd, err := b.encoder.EncodeDefault(address)
	if err != nil {
		return "", b.reject(address, err)
	}
	if err := b.submit(cmd); err != nil {
		return "", err
	}
	return cmd, nil
}

// RestoreDefaults asks the controller to reset every register.
func (b *Bridge) RestoreDefaults() error {
	return b.submit(registers.RestoreDefaults)
}

func (b *Bridge) submit(cmd registers.Command) error {
	if b.exchange.IsShutdownRequested() {
		b.metrics.IncCommandRejected("shutdown")
		return exchange.ErrClosed
	}
	if b.exchange.SubmitCommand(string(cmd)) {
		b.metrics.IncCommandCoalesced()
		b.logger.Debug().Str("command", string(cmd)).Msg("pending command superseded")
	}
	b.logger.Info().Str("command", string(cmd)).Msg("command queued")
	return nil
}

func (b *Bridge) reject(address uint16, err error) error {
	reason := "invalid"
	switch {
	case errors.Is(err, registers.ErrUnknownAddress):
		reason = "unknown_address"
	case errors.Is(err, registers.ErrNotWritable):
		reason = "not_writable"
	case errors.Is(err, registers.ErrOutOfRange):
		reason = "out_of_range"
	}
	b.metrics.IncCommandRejected(reason)
	b.logger.Warn().Err(err).Uint16("address", address).Str("reason", reason).Msg("register write rejected")
	return err
}

// Telemetry returns the last completed batch of telemetry rows.
func (b *Bridge) Telemetry() samples.Snapshot {
	return b.exchange.DrainTelemetry()
}

// Ready signals completed telemetry batches.
func (b *Bridge) Ready() <-chan struct{} {
	return b.exchange.Ready()
}

// Columns evaluates the column expressions for the newest row of snapshot.
func (b *Bridge) Columns(snapshot samples.Snapshot) []ColumnValue {
	row := snapshot.Last()
	if row == nil {
		return nil
	}
	return evaluateRow(b.columns, row)
}

// Registers returns display metadata for every register, ordered by address.
func (b *Bridge) Registers() []RegisterInfo {
	specs := b.table.All()
	infos := make([]RegisterInfo, 0, len(specs))
	for _, spec := range specs {
		info := RegisterInfo{
			Address:     spec.Address,
			Mnemonic:    spec.Mnemonic,
			Name:        spec.Name,
			Description: spec.Description,
			Range:       spec.Range.String(),
			Transform:   spec.Transform.String(),
			DefaultRaw:  spec.Default,
			Writable:    spec.Writable,
			Readable:    spec.Readable,
		}
		if user, err := b.encoder.DecodeRead(spec.Address, spec.Default); err == nil {
			info.DefaultUser = &user
		}
		infos = append(infos, info)
	}
	return infos
}

// Status returns the current bridge state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	status := Status{
		Session:   b.session,
		Port:      b.cfg.Link.Port,
		Driver:    b.cfg.Link.Driver,
		StartedAt: b.started,
		Connected: b.connected,
		Sessions:  b.sessions,
	}
	if b.lastErr != nil {
		status.LastError = b.lastErr.Error()
	}
	worker := b.worker
	b.mu.Unlock()
	status.Exchange = b.exchange.Status()
	status.Link = worker.Stats()
	return status
}

// Run services the link until ctx ends or Close is called. With reconnect
// enabled a failed session is retried after the reconnect delay; otherwise
// the session error is returned.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		err := b.runSession(ctx)
		if ctx.Err() != nil || b.exchange.IsShutdownRequested() {
			return nil
		}
		if err == nil {
			return nil
		}
		if !b.cfg.Link.Reconnect {
			return err
		}
		delay := b.cfg.Link.ReconnectDelay.Duration
		if delay <= 0 {
			delay = time.Second
		}
		b.logger.Warn().Err(err).Dur("delay", delay).Msg("link session failed, reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-b.exchange.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (b *Bridge) runSession(ctx context.Context) error {
	t, err := b.factory(b.cfg.Link)
	if err != nil {
		b.setSession(nil, false, err)
		return fmt.Errorf("open link: %w", err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("close link transport")
		}
	}()

	worker, err := link.NewWorker(b.exchange, t,
		link.WithLogger(b.logger.With().Str("component", "link").Str("port", b.cfg.Link.Port).Logger()),
		link.WithTelemetry(b.metrics),
		link.WithWidth(b.exchange.Width()),
		link.WithReadTimeout(b.cfg.Link.ReadTimeout.Duration),
	)
	if err != nil {
		return err
	}
	b.setSession(worker, true, nil)
	err = worker.Run(ctx)
	b.setSession(worker, false, err)
	return err
}

func (b *Bridge) setSession(worker *link.Worker, connected bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if worker != nil && worker != b.worker {
		b.worker = worker
		b.sessions++
	}
	b.connected = connected
	if err != nil {
		b.lastErr = err
	}
}

// EnableHTTP starts the control surface on listen.
func (b *Bridge) EnableHTTP(listen string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.http != nil {
		return errors.New("http surface already enabled")
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	logger := b.logger.With().Str("component", "http").Logger()
	srv := &http.Server{Handler: newHandler(b, logger), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http surface stopped")
		}
	}()
	b.http = srv
	b.httpAddr = ln.Addr().String()
	logger.Info().Str("listen", b.httpAddr).Msg("http surface started")
	return nil
}

// HTTPAddress returns the bound address of the control surface.
func (b *Bridge) HTTPAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.httpAddr
}

// Close requests shutdown of the link worker and stops the HTTP surface.
func (b *Bridge) Close() error {
	if b == nil {
		return nil
	}
	b.exchange.RequestShutdown()
	b.mu.Lock()
	srv := b.http
	b.http = nil
	b.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown http surface: %w", err)
	}
	return nil
}
