package engine

import (
	"github.com/tejashwikalptaru/reh/internal/dsp"
)

// maxPullFrames bounds one read from the sample buffer.
const maxPullFrames = 1024

// maxRenderSteps bounds the pull loop of one callback.
const maxRenderSteps = 64

// renderer is the per-track half of the playback callback. All of its
// buffers are sized at load time; render never allocates, locks or blocks.
type renderer struct {
	state  *SharedState
	buffer *SampleBuffer
	proc   *dsp.Processor

	srcChannels int
	outChannels int
	src         []float32
	mapped      []float32

	synced       bool
	epoch        uint32
	cursor       int64
	awaitingSeek bool
	// followQueue accepts the queue head as the cursor once, after the
	// producer failed to reposition.
	followQueue bool
}

func newRenderer(state *SharedState, buffer *SampleBuffer, srcRate, srcChannels, outRate, outChannels, maxCallbackFrames int) *renderer {
	proc := dsp.NewProcessor()
	proc.Configure(srcRate, outRate, outChannels, maxPullFrames, maxCallbackFrames)
	return &renderer{
		state:       state,
		buffer:      buffer,
		proc:        proc,
		srcChannels: srcChannels,
		outChannels: outChannels,
		src:         make([]float32, maxPullFrames*srcChannels),
		mapped:      make([]float32, maxPullFrames*outChannels),
	}
}

// render writes exactly frames output frames into dst.
func (r *renderer) render(dst []float32, frames int) {
	ch := r.outChannels
	out := dst[:frames*ch]

	if !r.state.Playing() {
		r.buffer.DropStale()
		clear(out)
		return
	}

	epoch, position := unpackPosition(r.state.position.Load())
	if epoch != r.buffer.Epoch() {
		// A seek is between flushing the buffer and publishing its position.
		clear(out)
		return
	}
	if !r.synced || epoch != r.epoch {
		r.proc.Reset()
		r.synced = true
		r.epoch = epoch
		r.cursor = position
		r.awaitingSeek = false
		r.followQueue = false
	}
	if r.state.seekFailed.Swap(false) && r.awaitingSeek {
		r.awaitingSeek = false
		r.followQueue = true
	}

	stretch := r.state.Stretch()
	filled := 0
	starved := false

	for step := 0; filled < frames && step < maxRenderSteps; step++ {
		if r.proc.Buffered() > 0 {
			filled += r.proc.Read(out[filled*ch:])
			continue
		}
		if starved || r.awaitingSeek {
			break
		}

		want := frames - filled
		if !stretch.IsIdentity() || want > maxPullFrames {
			want = maxPullFrames
		}
		next := nextPosition(r.state.playbackLoop(), r.cursor, want)

		complete := true
		if next.Frames > 0 {
			if !r.continuesAtCursor() {
				break
			}
			res, err := r.buffer.PopRun(r.src, next.Frames)
			if res.Frames > 0 {
				r.cursor = res.Next
				n := dsp.MapChannels(r.mapped, ch, r.src[:res.Frames*r.srcChannels], r.srcChannels)
				r.proc.Process(r.mapped[:n*ch], stretch)
			}
			if res.Frames < next.Frames {
				complete = false
			}
			if err != nil {
				starved = true
			}
		}

		if next.Wrap && complete {
			r.cursor = next.Resume
			r.state.loopWraps.Add(1)
		}
	}

	clear(out[filled*ch:])

	if starved && filled < frames {
		if r.buffer.Ended(r.epoch) && r.buffer.Buffered() == 0 && r.proc.Buffered() == 0 {
			r.finish()
			return
		}
		r.state.underruns.Add(1)
	}

	r.state.advance(r.epoch, r.clampCursor())
}

// continuesAtCursor reports whether the queued audio picks up at the cursor.
// The producer follows the loop ahead of playback, so a loop set, moved or
// cleared after it wrapped leaves audio queued for the old loop. On a mismatch
// it asks the producer to resync at the cursor and returns false; playback is
// silent until the new epoch arrives. An empty queue counts as continuing.
func (r *renderer) continuesAtCursor() bool {
	f, ok := r.buffer.NextFrame()
	if !ok || f == r.cursor {
		return true
	}
	if r.followQueue {
		r.followQueue = false
		r.cursor = f
		return true
	}
	r.state.requestSeek(r.epoch, r.cursor)
	r.awaitingSeek = true
	return false
}

// finish pauses at the last frame once the track has been played out.
func (r *renderer) finish() {
	r.state.playing.Store(false)
	r.cursor = r.state.TotalFrames()
	r.state.advance(r.epoch, r.clampCursor())
	r.state.completed.Store(true)
}

func (r *renderer) clampCursor() int64 {
	total := r.state.TotalFrames()
	if r.cursor >= total && total > 0 {
		return total - 1
	}
	return r.cursor
}
