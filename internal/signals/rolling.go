package signals

// RollingMean is a fixed-size trailing window accumulator. Push and Mean are
// O(1); the sum is maintained incrementally rather than recomputed.
type RollingMean struct {
	buf  []float64
	next int
	n    int
	sum  float64
}

// NewRollingMean returns an accumulator over the last window values. window
// must be at least 1.
func NewRollingMean(window int) *RollingMean {
	return &RollingMean{buf: make([]float64, window)}
}

// Push adds v, evicting the oldest value once the window is full.
func (r *RollingMean) Push(v float64) {
	if r.n == len(r.buf) {
		r.sum -= r.buf[r.next]
	} else {
		r.n++
	}
	r.buf[r.next] = v
	r.sum += v
	r.next = (r.next + 1) % len(r.buf)
}

// Full reports whether window values have been pushed.
func (r *RollingMean) Full() bool {
	return r.n == len(r.buf)
}

// Mean returns the mean of the values currently in the window, or zero when
// empty.
func (r *RollingMean) Mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.sum / float64(r.n)
}

// Len returns the number of values in the window.
func (r *RollingMean) Len() int {
	return r.n
}
