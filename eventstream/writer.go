package eventstream

import (
	"io"
	"sync"

	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/types"
)

// Writer is a log.Sink that appends every event as a frame.
// The first write error is retained and later events are dropped.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	frames int
	err    error
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Emit implements log.Sink.
func (w *Writer) Emit(event types.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	frame, err := EncodeFrame(&event)
	if err != nil {
		// Oversized or unencodable events are dropped without poisoning the stream.
		return
	}
	if _, err := w.w.Write(frame); err != nil {
		w.err = err
		return
	}
	w.frames++
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Fanout forwards every event to each sink in order.
type Fanout []log.Sink

// Emit implements log.Sink.
func (f Fanout) Emit(event types.Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(event)
		}
	}
}

// Verify Writer implements log.Sink.
var _ log.Sink = (*Writer)(nil)
