package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

const (
	// DriverBugST selects go.bug.st/serial.
	DriverBugST = "bugst"
	// DriverTarm selects github.com/tarm/serial.
	DriverTarm = "tarm"

	// DefaultBaudRate is the controller's link speed.
	DefaultBaudRate = 115200
)

// Config describes a serial link. Framing is always 8N1 without flow control.
type Config struct {
	Driver      string
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	MaxLine     int
}

// Serial is a line oriented link over a byte stream.
type Serial struct {
	name  string
	port  io.ReadWriteCloser
	lines *LineReader

	closeOnce sync.Once
	closeErr  error
}

// Open opens the configured serial port.
func Open(cfg Config) (*Serial, error) {
	name := strings.TrimSpace(cfg.Port)
	if name == "" {
		return nil, errors.New("serial port must not be empty")
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	var (
		port io.ReadWriteCloser
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverBugST:
		port, err = openBugST(name, baud, timeout)
	case DriverTarm:
		port, err = openTarm(name, baud, timeout)
	default:
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return NewStream(name, port, cfg.MaxLine), nil
}

// NewStream wraps an already open byte stream.
func NewStream(name string, port io.ReadWriteCloser, maxLine int) *Serial {
	return &Serial{name: name, port: port, lines: NewLineReader(port, maxLine)}
}

func openBugST(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	port, err := bugst.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}
	return port, nil
}

func openTarm(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: timeout,
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	})
	if err != nil {
		return nil, err
	}
	return eofTimeout{port}, nil
}

// eofTimeout maps the io.EOF reported by an expired read timeout to an empty read.
type eofTimeout struct {
	io.ReadWriteCloser
}

func (e eofTimeout) Read(p []byte) (int, error) {
	n, err := e.ReadWriteCloser.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// Name returns the port path.
func (s *Serial) Name() string {
	return s.name
}

// Write sends p to the device.
func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ReadLine reads the next telemetry line.
func (s *Serial) ReadLine(timeout time.Duration) (string, error) {
	return s.lines.ReadLine(timeout)
}

// Close releases the port.
func (s *Serial) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}
