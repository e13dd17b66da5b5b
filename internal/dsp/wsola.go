package dsp

import "math"

// WSOLA changes the duration of a stream without changing its pitch using
// waveform-similarity overlap-add. Frames of frameLen samples are windowed and
// overlap-added every hop frames of output; each analysis frame is picked within
// a tolerance around its ideal position so that it best continues the previous one.
type WSOLA struct {
	channels  int
	frameLen  int
	hop       int
	tolerance int

	window []float32
	acc    []float32

	in      fifo
	aPos    float64 // ideal start of the next analysis frame, relative to in
	prevPos int     // start of the previous chosen frame, -1 before the first
}

// NewWSOLA creates a stretcher for the given rate and channel count, able to
// accept maxInFrames per call.
func NewWSOLA(sampleRate, channels, maxInFrames int) *WSOLA {
	frameLen := int(float64(sampleRate)*0.04) &^ 1
	if frameLen < 64 {
		frameLen = 64
	}
	hop := frameLen / 2
	tolerance := int(float64(sampleRate) * 0.01)
	if tolerance < 8 {
		tolerance = 8
	}

	w := &WSOLA{
		channels:  channels,
		frameLen:  frameLen,
		hop:       hop,
		tolerance: tolerance,
		window:    make([]float32, frameLen),
		acc:       make([]float32, frameLen*channels),
		// Analysis hops reach hop/minScale frames; keep room for several.
		in: newFIFO((maxInFrames + 10*frameLen + 4*tolerance) * channels),
	}
	// Periodic Hann: windows at half-frame hops sum to one.
	for i := range w.window {
		w.window[i] = float32(0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(frameLen)))
	}
	w.Reset()
	return w
}

// Reset discards buffered input and overlap state.
func (w *WSOLA) Reset() {
	w.in.Reset()
	for i := range w.acc {
		w.acc[i] = 0
	}
	w.aPos = 0
	w.prevPos = -1
}

// Hop returns the synthesis hop in frames.
func (w *WSOLA) Hop() int {
	return w.hop
}

// MaxOutput returns the largest number of frames one Process call can emit for
// inFrames input frames at the given scale.
func (w *WSOLA) MaxOutput(inFrames int, scale float64) int {
	return int(math.Ceil(float64(inFrames)*scale)) + 2*w.hop + w.frameLen
}

// Process appends input and writes stretched frames into out, returning the
// number of frames written. scale is output duration over input duration.
func (w *WSOLA) Process(input []float32, scale float64, out []float32) int {
	w.in.Write(input)

	ch := w.channels
	analysisHop := float64(w.hop) / scale
	written := 0

	for {
		data := w.in.Data()
		frames := len(data) / ch
		ideal := int(math.Round(w.aPos))
		if ideal+w.tolerance+w.frameLen > frames {
			break
		}
		if (written+w.hop)*ch > len(out) {
			break
		}

		best := ideal
		if w.prevPos >= 0 {
			best = w.search(data, w.prevPos+w.hop, ideal)
		}

		// Overlap-add the chosen frame.
		for j := 0; j < w.frameLen; j++ {
			g := w.window[j]
			src := (best + j) * ch
			dst := j * ch
			for c := 0; c < ch; c++ {
				w.acc[dst+c] += data[src+c] * g
			}
		}

		// The first hop frames are complete.
		n := w.hop * ch
		copy(out[written*ch:], w.acc[:n])
		copy(w.acc, w.acc[n:])
		for i := len(w.acc) - n; i < len(w.acc); i++ {
			w.acc[i] = 0
		}
		written += w.hop

		w.prevPos = best
		w.aPos += analysisHop

		w.trim()
	}

	return written
}

// trim drops input frames that no future search can reach.
func (w *WSOLA) trim() {
	drop := int(w.aPos) - w.tolerance
	if w.prevPos < drop {
		drop = w.prevPos
	}
	frames := w.in.Len() / w.channels
	if drop > frames {
		drop = frames
	}
	if drop <= 0 {
		return
	}
	w.in.Discard(drop * w.channels)
	w.aPos -= float64(drop)
	w.prevPos -= drop
}

// search returns the frame start within tolerance of ideal whose first hop frames
// best match the natural continuation starting at template.
func (w *WSOLA) search(data []float32, template, ideal int) int {
	lo := ideal - w.tolerance
	if lo < 0 {
		lo = 0
	}
	hi := ideal + w.tolerance

	// Coarse pass on every 4th offset and every 2nd frame, then refine.
	best := ideal
	bestScore := w.similarity(data, template, ideal, 2)
	for k := lo; k <= hi; k += 4 {
		if s := w.similarity(data, template, k, 2); s > bestScore+1e-9 {
			best, bestScore = k, s
		}
	}

	center := best
	bestScore = w.similarity(data, template, center, 1)
	for k := center - 3; k <= center+3; k++ {
		if k < lo || k > hi || k == center {
			continue
		}
		if s := w.similarity(data, template, k, 1); s > bestScore+1e-9 {
			best, bestScore = k, s
		}
	}
	return best
}

// similarity is the normalized cross-correlation of the channel sums over one hop.
func (w *WSOLA) similarity(data []float32, a, b, stride int) float64 {
	ch := w.channels
	var dot, ea, eb float64
	for j := 0; j < w.hop; j += stride {
		var x, y float32
		ia, ib := (a+j)*ch, (b+j)*ch
		for c := 0; c < ch; c++ {
			x += data[ia+c]
			y += data[ib+c]
		}
		dot += float64(x * y)
		ea += float64(x * x)
		eb += float64(y * y)
	}
	if ea == 0 || eb == 0 {
		return 0
	}
	return dot / math.Sqrt(ea*eb)
}
