package dsp

// fifo is a preallocated queue of interleaved samples.
// It never grows; writes beyond capacity are truncated.
type fifo struct {
	buf  []float32
	r, w int
}

func newFIFO(capacity int) fifo {
	return fifo{buf: make([]float32, capacity)}
}

// Len returns the number of unread samples.
func (f *fifo) Len() int {
	return f.w - f.r
}

// Data returns the unread samples without consuming them.
func (f *fifo) Data() []float32 {
	return f.buf[f.r:f.w]
}

// Write appends p and returns the number of samples stored.
func (f *fifo) Write(p []float32) int {
	if len(f.buf)-f.w < len(p) {
		f.compact()
	}
	n := copy(f.buf[f.w:], p)
	f.w += n
	return n
}

// Grow reserves n samples at the tail and returns them for in-place writing.
// The returned slice is shorter than n when capacity is exhausted.
func (f *fifo) Grow(n int) []float32 {
	if len(f.buf)-f.w < n {
		f.compact()
	}
	if n > len(f.buf)-f.w {
		n = len(f.buf) - f.w
	}
	s := f.buf[f.w : f.w+n]
	f.w += n
	return s
}

// Read moves up to len(p) samples into p.
func (f *fifo) Read(p []float32) int {
	n := copy(p, f.buf[f.r:f.w])
	f.r += n
	if f.r == f.w {
		f.r, f.w = 0, 0
	}
	return n
}

// Discard drops the first n unread samples.
func (f *fifo) Discard(n int) {
	if n > f.Len() {
		n = f.Len()
	}
	f.r += n
	if f.r == f.w {
		f.r, f.w = 0, 0
	}
}

// Reset empties the queue.
func (f *fifo) Reset() {
	f.r, f.w = 0, 0
}

func (f *fifo) compact() {
	if f.r == 0 {
		return
	}
	n := copy(f.buf, f.buf[f.r:f.w])
	f.r, f.w = 0, n
}
