package forecast

import "fmt"

// Window is a fixed-capacity FIFO of normalized feature vectors. It
// reports ready only once full and stays ready for as long as pushes
// continue; only an explicit Reset reverts readiness.
type Window struct {
	capacity int
	buf      []Vector
	ready    bool
}

// NewWindow creates a window holding exactly size vectors.
func NewWindow(size int) (*Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}
	return &Window{
		capacity: size,
		buf:      make([]Vector, 0, size),
	}, nil
}

// Push appends v, evicting the oldest vector at capacity, and reports
// whether the window is now ready.
func (w *Window) Push(v Vector) bool {
	if len(w.buf) == w.capacity {
		copy(w.buf, w.buf[1:])
		w.buf[len(w.buf)-1] = v
	} else {
		w.buf = append(w.buf, v)
	}
	if len(w.buf) == w.capacity {
		w.ready = true
	}
	return w.ready
}

// Ready reports whether the window has been filled since the last Reset.
func (w *Window) Ready() bool { return w.ready }

// Len returns the current number of buffered vectors.
func (w *Window) Len() int { return len(w.buf) }

// Capacity returns the configured window size.
func (w *Window) Capacity() int { return w.capacity }

// Snapshot returns the ordered window contents, oldest first. The
// returned slice is a copy safe to hand to a predictor.
func (w *Window) Snapshot() []Vector {
	out := make([]Vector, len(w.buf))
	copy(out, w.buf)
	return out
}

// Reset drops all buffered vectors and reverts readiness.
func (w *Window) Reset() {
	w.buf = w.buf[:0]
	w.ready = false
}
