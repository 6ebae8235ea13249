package transport

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chunkReader returns one chunk per Read and (0, nil) once exhausted.
type chunkReader struct {
	chunks   []string
	err      error
	timeouts []time.Duration
	closed   bool
	written  strings.Builder
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, c.err
	}
	chunk := c.chunks[0]
	c.chunks = c.chunks[1:]
	return copy(p, chunk), nil
}

func (c *chunkReader) Write(p []byte) (int, error) {
	return c.written.Write(p)
}

func (c *chunkReader) Close() error {
	c.closed = true
	return nil
}

func (c *chunkReader) SetReadTimeout(d time.Duration) error {
	c.timeouts = append(c.timeouts, d)
	return nil
}

func TestLineReaderAssemblesPartialLines(t *testing.T) {
	src := &chunkReader{chunks: []string{"1, 2", ",3\r\n4,5", ",6\n"}}
	lines := NewLineReader(src, 0)

	line, err := lines.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "1, 2,3", line)

	line, err = lines.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "4,5,6", line)

	line, err = lines.ReadLine(time.Second)
	require.NoError(t, err)
	require.Empty(t, line)
	require.Equal(t, []time.Duration{time.Second}, src.timeouts)
}

func TestLineReaderKeepsPartialAcrossTimeout(t *testing.T) {
	src := &chunkReader{chunks: []string{"7,8"}}
	lines := NewLineReader(src, 0)

	line, err := lines.ReadLine(10 * time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, line)
	require.Equal(t, 3, lines.Buffered())

	src.chunks = []string{",9\n"}
	line, err = lines.ReadLine(10 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "7,8,9", line)
}

func TestLineReaderSkipsBlankLines(t *testing.T) {
	src := &chunkReader{chunks: []string{"\r\n\n  \n1,2\n"}}
	lines := NewLineReader(src, 0)
	line, err := lines.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "1,2", line)
}

func TestLineReaderDiscardsOverlongLine(t *testing.T) {
	src := &chunkReader{chunks: []string{strings.Repeat("9", 20), strings.Repeat("9", 20), "9\n1,2\n"}}
	lines := NewLineReader(src, 16)

	var got []string
	for i := 0; i < 4; i++ {
		line, err := lines.ReadLine(time.Second)
		require.NoError(t, err)
		if line != "" {
			got = append(got, line)
		}
	}
	require.Equal(t, []string{"1,2"}, got)
}

func TestLineReaderPropagatesErrors(t *testing.T) {
	gone := errors.New("port closed")
	src := &chunkReader{chunks: []string{"1,"}, err: gone}
	lines := NewLineReader(src, 0)

	_, err := lines.ReadLine(time.Second)
	require.ErrorIs(t, err, gone)
}

func TestEOFTimeoutMapsEOF(t *testing.T) {
	src := &chunkReader{err: io.EOF}
	n, err := eofTimeout{src}.Read(make([]byte, 4))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStreamWriteAndClose(t *testing.T) {
	src := &chunkReader{chunks: []string{"5,6\n"}}
	stream := NewStream("loop", src, 0)
	require.Equal(t, "loop", stream.Name())

	n, err := stream.Write([]byte("Im2048\n"))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "Im2048\n", src.written.String())

	line, err := stream.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "5,6", line)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	require.True(t, src.closed)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	_, err = Open(Config{Port: "/dev/null", Driver: "usb"})
	require.Error(t, err)
}
