package ipc

import "bytes"

// DefaultMaxFrameSize bounds how many bytes may accumulate without a
// newline before the buffer is discarded.
const DefaultMaxFrameSize = 1 << 20

// FrameReader splits a byte stream into newline-delimited frames.
//
// Bytes are accumulated as raw bytes across calls and split on the '\n'
// byte before any text conversion, so a chunk boundary inside a
// multi-byte character or a JSON object is harmless.
//
// A FrameReader is not safe for concurrent use.
type FrameReader struct {
	buf []byte
	max int
}

// NewFrameReader creates a FrameReader. A max of zero or less disables
// the frame size limit.
func NewFrameReader(max int) *FrameReader {
	return &FrameReader{max: max}
}

// Feed appends chunk to the accumulator and returns every complete frame
// now available, in order. Each frame has trailing whitespace and '\r'
// trimmed; empty frames are skipped. Returned frames do not alias the
// accumulator or chunk.
//
// Bytes after the last newline stay buffered for the next call.
func (r *FrameReader) Feed(chunk []byte) ([][]byte, error) {
	r.buf = append(r.buf, chunk...)

	var frames [][]byte
	start := 0
	for {
		idx := bytes.IndexByte(r.buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(r.buf[start:start+idx], " \t\r\v\f")
		start += idx + 1
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		frames = append(frames, frame)
	}

	if start > 0 {
		n := copy(r.buf, r.buf[start:])
		r.buf = r.buf[:n]
	}

	if r.max > 0 && len(r.buf) > r.max {
		r.Reset()
		return frames, ErrFrameTooLarge
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for a newline.
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

// Reset discards buffered bytes.
func (r *FrameReader) Reset() {
	r.buf = r.buf[:0]
}
