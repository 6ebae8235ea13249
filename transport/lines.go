package transport

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// DefaultMaxLine caps the bytes buffered while waiting for a line terminator.
const DefaultMaxLine = 4096

// LineReader assembles newline terminated lines from a reader whose Read
// returns (0, nil) on timeout. Partial lines survive across calls.
type LineReader struct {
	r          io.Reader
	setTimeout func(time.Duration) error
	timeout    time.Duration

	buf        []byte
	tmp        []byte
	maxLine    int
	discarding bool
}

// NewLineReader wraps r. When r also implements SetReadTimeout the timeout
// passed to ReadLine is forwarded to it.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	lr := &LineReader{r: r, maxLine: maxLine, tmp: make([]byte, 256)}
	if setter, ok := r.(interface{ SetReadTimeout(time.Duration) error }); ok {
		lr.setTimeout = setter.SetReadTimeout
	}
	return lr
}

// ReadLine returns the next non-empty line with surrounding whitespace
// removed, or an empty string when no line completed within timeout.
func (l *LineReader) ReadLine(timeout time.Duration) (string, error) {
	if line, ok := l.next(); ok {
		return line, nil
	}
	if l.setTimeout != nil && timeout > 0 && timeout != l.timeout {
		if err := l.setTimeout(timeout); err != nil {
			return "", err
		}
		l.timeout = timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		n, err := l.r.Read(l.tmp)
		if n > 0 {
			l.append(l.tmp[:n])
			if line, ok := l.next(); ok {
				return line, nil
			}
		}
		if err != nil {
			return "", err
		}
		if n == 0 || !time.Now().Before(deadline) {
			return "", nil
		}
	}
}

// Buffered returns the number of bytes of an incomplete line held back.
func (l *LineReader) Buffered() int {
	return len(l.buf)
}

func (l *LineReader) append(p []byte) {
	l.buf = append(l.buf, p...)
	if l.discarding {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			l.buf = l.buf[:0]
			return
		}
		l.consume(idx + 1)
		l.discarding = false
	}
	if len(l.buf) > l.maxLine && bytes.IndexByte(l.buf, '\n') < 0 {
		l.buf = l.buf[:0]
		l.discarding = true
	}
}

func (l *LineReader) next() (string, bool) {
	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			return "", false
		}
		line := strings.TrimSpace(string(l.buf[:idx]))
		l.consume(idx + 1)
		if line != "" {
			return line, true
		}
	}
}

func (l *LineReader) consume(n int) {
	remaining := copy(l.buf, l.buf[n:])
	l.buf = l.buf[:remaining]
}
