package engine

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// Engine is the playback engine the audio device pulls from. It renders the
// attached session as interleaved float32 little-endian frames.
//
// Read runs on the device's real-time goroutine: it only loads atomics and
// works in buffers allocated by NewEngine.
type Engine struct {
	channels  int
	maxFrames int
	scratch   []float32

	session atomic.Pointer[Session]
	volume  volume
}

// NewEngine creates an engine rendering channels-wide frames, at most
// maxFrames per internal pass.
func NewEngine(channels, maxFrames int) *Engine {
	e := &Engine{
		channels:  channels,
		maxFrames: maxFrames,
		scratch:   make([]float32, maxFrames*channels),
	}
	e.volume.Store(1)
	return e
}

// Attach makes s the session being played and returns the previous one.
func (e *Engine) Attach(s *Session) *Session {
	return e.session.Swap(s)
}

// Detach stops rendering any session and returns the one that was attached.
func (e *Engine) Detach() *Session {
	return e.session.Swap(nil)
}

// Session returns the attached session, or nil.
func (e *Engine) Session() *Session {
	return e.session.Load()
}

// Channels returns the output channel count.
func (e *Engine) Channels() int {
	return e.channels
}

// MaxFrames returns the largest request served in one internal pass.
func (e *Engine) MaxFrames() int {
	return e.maxFrames
}

// SetVolume sets the output gain, clamped to [0, 2].
func (e *Engine) SetVolume(v float64) {
	if math.IsNaN(v) {
		v = 1
	}
	e.volume.Store(math.Max(0, math.Min(2, v)))
}

// Volume returns the output gain.
func (e *Engine) Volume() float64 {
	return e.volume.Load()
}

// Read fills p with whole frames and zero-pads any trailing partial frame.
// It never fails and never blocks.
func (e *Engine) Read(p []byte) (int, error) {
	frameBytes := 4 * e.channels
	frames := len(p) / frameBytes
	gain := float32(e.volume.Load())

	off := 0
	for frames > 0 {
		n := min(frames, e.maxFrames)
		buf := e.scratch[:n*e.channels]
		e.Render(buf)
		for _, v := range buf {
			v *= gain
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			binary.LittleEndian.PutUint32(p[off:], math.Float32bits(v))
			off += 4
		}
		frames -= n
	}
	clear(p[off:])
	return len(p), nil
}

// Render fills dst with len(dst)/channels frames of the attached session
// before gain, or silence when none is attached.
func (e *Engine) Render(dst []float32) {
	s := e.session.Load()
	if s == nil {
		clear(dst)
		return
	}
	frames := len(dst) / e.channels
	s.render.render(dst, frames)
	clear(dst[frames*e.channels:])
}
