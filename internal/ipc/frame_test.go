package ipc

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func feedAll(t *testing.T, r *FrameReader, chunks ...[]byte) []string {
	t.Helper()
	var out []string
	for _, c := range chunks {
		frames, err := r.Feed(c)
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		for _, f := range frames {
			out = append(out, string(f))
		}
	}
	return out
}

func TestFrameReader_Feed(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		expected []string
		buffered int
	}{
		{
			name:     "single line",
			chunks:   []string{"{\"event\":\"x\"}\n"},
			expected: []string{`{"event":"x"}`},
		},
		{
			name:     "two lines one chunk",
			chunks:   []string{"{\"event\":\"a\"}\n{\"event\":\"b\"}\n"},
			expected: []string{`{"event":"a"}`, `{"event":"b"}`},
		},
		{
			name:     "split mid object",
			chunks:   []string{`{"event":"view-fo`, "cused\"}\n"},
			expected: []string{`{"event":"view-focused"}`},
		},
		{
			name:     "empty lines skipped",
			chunks:   []string{"\n\n{\"event\":\"x\"}\n\n"},
			expected: []string{`{"event":"x"}`},
		},
		{
			name:     "crlf and trailing blanks trimmed",
			chunks:   []string{"{\"event\":\"x\"} \t\r\n   \r\n"},
			expected: []string{`{"event":"x"}`},
		},
		{
			name:     "leading whitespace kept",
			chunks:   []string{"  {\"event\":\"x\"}\n"},
			expected: []string{`  {"event":"x"}`},
		},
		{
			name:     "partial tail buffered",
			chunks:   []string{"{\"event\":\"a\"}\n{\"eve"},
			expected: []string{`{"event":"a"}`},
			buffered: len(`{"eve`),
		},
		{
			name:     "newline alone completes buffered frame",
			chunks:   []string{`{"event":"a"}`, "\n"},
			expected: []string{`{"event":"a"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFrameReader(0)
			chunks := make([][]byte, len(tt.chunks))
			for i, c := range tt.chunks {
				chunks[i] = []byte(c)
			}
			got := feedAll(t, r, chunks...)
			if len(got) != len(tt.expected) {
				t.Fatalf("got %d frames %q, want %q", len(got), got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("frame %d = %q, want %q", i, got[i], tt.expected[i])
				}
			}
			if r.Buffered() != tt.buffered {
				t.Errorf("Buffered() = %d, want %d", r.Buffered(), tt.buffered)
			}
		})
	}
}

// Every split point of a stream holding multi-byte characters must yield
// the same frames as feeding the stream whole.
func TestFrameReader_ArbitraryChunking(t *testing.T) {
	stream := []byte(strings.Join([]string{
		`{"event":"view-title-changed","view":{"id":1,"title":"naïve café ☕"}}`,
		`{"event":"view-focused","view":{"id":7,"app-id":"日本語"}}`,
		`{"event":"output-gain-focus","output":{"name":"DP-1","emoji":"🖥️"}}`,
	}, "\n") + "\n")

	want := feedAll(t, NewFrameReader(0), stream)
	if len(want) != 3 {
		t.Fatalf("whole-buffer feed produced %d frames", len(want))
	}

	for i := 1; i < len(stream); i++ {
		for j := i; j < len(stream); j += 7 {
			r := NewFrameReader(0)
			got := feedAll(t, r, stream[:i], stream[i:j], stream[j:])
			if len(got) != len(want) {
				t.Fatalf("split (%d,%d): got %d frames, want %d", i, j, len(got), len(want))
			}
			for k := range want {
				if got[k] != want[k] {
					t.Fatalf("split (%d,%d): frame %d = %q, want %q", i, j, k, got[k], want[k])
				}
			}
		}
	}

	r := NewFrameReader(0)
	var got []string
	for i := range stream {
		got = append(got, feedAll(t, r, stream[i:i+1])...)
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("byte-at-a-time feed differs: %q", got)
	}
}

func TestFrameReader_FramesDoNotAlias(t *testing.T) {
	r := NewFrameReader(0)
	chunk := []byte("{\"event\":\"a\"}\n{\"ev")
	frames, _ := r.Feed(chunk)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	first := append([]byte(nil), frames[0]...)

	chunk[2] = 'X'
	r.Feed([]byte("ent\":\"b\"}\n"))
	if !bytes.Equal(frames[0], first) {
		t.Errorf("frame changed after later Feed: %q", frames[0])
	}
}

func TestFrameReader_MaxFrameSize(t *testing.T) {
	r := NewFrameReader(8)

	frames, err := r.Feed([]byte("{\"a\":1}\n0123456789"))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("error = %v, want ErrFrameTooLarge", err)
	}
	if len(frames) != 1 {
		t.Errorf("complete frame before overflow lost: %q", frames)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after overflow, want 0", r.Buffered())
	}

	got := feedAll(t, r, []byte("{\"b\":2}\n"))
	if len(got) != 1 || got[0] != `{"b":2}` {
		t.Errorf("reader did not recover after overflow: %q", got)
	}
}

func TestFrameReader_Reset(t *testing.T) {
	r := NewFrameReader(0)
	r.Feed([]byte("partial"))
	r.Reset()
	got := feedAll(t, r, []byte("{\"event\":\"x\"}\n"))
	if len(got) != 1 || got[0] != `{"event":"x"}` {
		t.Errorf("stale bytes survived Reset: %q", got)
	}
}
