package dsp

import "math"

// CubicInterpolate performs Catmull-Rom interpolation.
// x is the fractional position between y1 and y2 (0 <= x <= 1).
func CubicInterpolate(y0, y1, y2, y3, x float32) float32 {
	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2
	a3 := y1

	return a0*x*x*x + a1*x*x + a2*x + a3
}

// Resampler converts a stream of interleaved frames by a variable step using
// cubic interpolation. Step is the number of input frames consumed per output
// frame: 2 halves the length and doubles the pitch.
type Resampler struct {
	channels int

	in  fifo
	pos float64 // read position in frames relative to the first frame held in in
}

// NewResampler creates a resampler able to accept maxInFrames per call.
func NewResampler(channels, maxInFrames int) *Resampler {
	r := &Resampler{
		channels: channels,
		in:       newFIFO((maxInFrames + 8) * channels),
	}
	r.Reset()
	return r
}

// Reset discards history. The stream restarts as if preceded by silence.
func (r *Resampler) Reset() {
	r.in.Reset()
	// One silent frame stands in for the sample before the first one.
	silence := r.in.Grow(r.channels)
	for i := range silence {
		silence[i] = 0
	}
	r.pos = 1
}

// MaxOutput returns the largest number of frames one Process call can emit for
// inFrames input frames at the given step.
func MaxOutput(inFrames int, step float64) int {
	return int(math.Ceil(float64(inFrames+4)/step)) + 1
}

// Process consumes input and writes interpolated frames to out.
// Returns the number of frames written.
func (r *Resampler) Process(input []float32, step float64, out *fifo) int {
	r.in.Write(input)

	ch := r.channels
	data := r.in.Data()
	frames := len(data) / ch
	written := 0

	for {
		i := int(r.pos)
		if i+2 >= frames {
			break
		}
		dst := out.Grow(ch)
		if len(dst) < ch {
			break
		}
		x := float32(r.pos - float64(i))
		base := (i - 1) * ch
		for c := 0; c < ch; c++ {
			dst[c] = CubicInterpolate(
				data[base+c],
				data[base+ch+c],
				data[base+2*ch+c],
				data[base+3*ch+c],
				x,
			)
		}
		written++
		r.pos += step
	}

	// Keep one frame before the current position for the next interpolation.
	if keep := int(r.pos) - 1; keep > 0 {
		if keep > frames {
			keep = frames
		}
		r.in.Discard(keep * ch)
		r.pos -= float64(keep)
	}

	return written
}
