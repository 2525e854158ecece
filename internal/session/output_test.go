package session

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"
)

// chunkReader returns one scripted chunk per Read call, then io.EOF. An
// optional delay before each chunk simulates a slow producer.
type chunkReader struct {
	chunks [][]byte
	delay  time.Duration
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	chunk := c.chunks[0]
	c.chunks = c.chunks[1:]
	n := copy(p, chunk)
	return n, nil
}

func TestPump_DeliversAllBytesInOrder(t *testing.T) {
	var input bytes.Buffer
	var chunks [][]byte
	for i := range 20 {
		chunk := []byte(fmt.Sprintf("chunk-%02d\n", i))
		input.Write(chunk)
		chunks = append(chunks, chunk)
	}

	var got bytes.Buffer
	pump(&chunkReader{chunks: chunks}, func(p []byte) {
		got.Write(p)
	})

	if !bytes.Equal(got.Bytes(), input.Bytes()) {
		t.Fatalf("delivered bytes differ from input:\nwant %q\ngot  %q", input.Bytes(), got.Bytes())
	}
}

func TestPump_FlushesAfterInterval(t *testing.T) {
	chunks := [][]byte{[]byte("first"), []byte("second"), []byte("third")}

	var deliveries int
	pump(&chunkReader{chunks: chunks, delay: 2 * batchInterval}, func(p []byte) {
		deliveries++
	})

	// With a slow producer every read crosses the interval, so batches
	// cannot all coalesce into a single trailing flush.
	if deliveries < 2 {
		t.Fatalf("expected interval-driven flushes, got %d deliveries", deliveries)
	}
}

func TestPump_FlushesRemainderAtEOF(t *testing.T) {
	var got bytes.Buffer
	pump(&chunkReader{chunks: [][]byte{[]byte("tail")}}, func(p []byte) {
		got.Write(p)
	})
	if got.String() != "tail" {
		t.Fatalf("expected trailing batch, got %q", got.String())
	}
}

func TestPump_TrailerKeepsLastLines(t *testing.T) {
	var chunks [][]byte
	for i := range 60 {
		chunks = append(chunks, []byte(fmt.Sprintf("line-%02d\r\n", i)))
	}
	chunks = append(chunks, []byte("partial"))

	trailer := pump(&chunkReader{chunks: chunks}, func([]byte) {})

	if len(trailer) != trailerLines {
		t.Fatalf("expected %d trailer lines, got %d", trailerLines, len(trailer))
	}
	// 61 logical lines total; the ring keeps the newest 50.
	if trailer[0] != "line-11" {
		t.Fatalf("expected oldest retained line line-11, got %q", trailer[0])
	}
	if trailer[len(trailer)-1] != "partial" {
		t.Fatalf("expected unterminated line retained last, got %q", trailer[len(trailer)-1])
	}
	for _, line := range trailer {
		if bytes.ContainsRune([]byte(line), '\r') {
			t.Fatalf("carriage return leaked into trailer line %q", line)
		}
	}
}

func TestLineRing_SplitsAcrossChunks(t *testing.T) {
	var r lineRing
	r.feed([]byte("hel"))
	r.feed([]byte("lo\nwor"))
	r.feed([]byte("ld\n"))
	r.flush()

	if len(r.lines) != 2 || r.lines[0] != "hello" || r.lines[1] != "world" {
		t.Fatalf("unexpected lines: %v", r.lines)
	}
}

func TestRingBuffer_WrapKeepsNewest(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]byte("abcdefgh"))
	r.Write([]byte("XYZ"))

	got := string(r.Bytes())
	if got != "defghXYZ" {
		t.Fatalf("expected defghXYZ, got %q", got)
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	r := NewRingBuffer(16)
	r.Write([]byte("abc"))
	if got := string(r.Bytes()); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestRingBuffer_OversizeWriteKeepsTail(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]byte("abcdefgh"))
	if got := string(r.Bytes()); got != "efgh" {
		t.Fatalf("expected efgh, got %q", got)
	}
}

func TestRingBuffer_ExactFill(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]byte("ab"))
	r.Write([]byte("cd"))
	if got := string(r.Bytes()); got != "abcd" {
		t.Fatalf("expected abcd, got %q", got)
	}
	r.Write([]byte("e"))
	if got := string(r.Bytes()); got != "bcde" {
		t.Fatalf("expected bcde, got %q", got)
	}
}
