package engine

import (
	"sync"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// LoopStep is the answer to "how far may the next read go".
type LoopStep struct {
	// Frames is the number of frames to read before the seam.
	Frames int
	// Wrap is set when the read ends on loop_end; the following read resumes
	// at Resume.
	Wrap   bool
	Resume int64
}

// nextPosition splits a read of frameCount frames starting at current at the
// loop seam. A read that lands exactly on loop_end wraps too, so a looping
// position always stays in [loop_start, loop_end).
func nextPosition(r domain.LoopRegion, current int64, frameCount int) LoopStep {
	if !r.Active() {
		return LoopStep{Frames: frameCount}
	}
	if current >= r.End {
		return LoopStep{Wrap: true, Resume: r.Start}
	}
	if remaining := r.End - current; int64(frameCount) >= remaining {
		return LoopStep{Frames: int(remaining), Wrap: true, Resume: r.Start}
	}
	return LoopStep{Frames: frameCount}
}

// LoopController owns the loop markers of one track. UI commands are
// serialized by mu; each update publishes a fresh immutable region that the
// playback callback reads without locking.
type LoopController struct {
	mu    sync.Mutex
	state *SharedState
}

// NewLoopController creates a controller publishing into state.
func NewLoopController(state *SharedState) *LoopController {
	return &LoopController{state: state}
}

// Snapshot returns the current region.
func (l *LoopController) Snapshot() domain.LoopRegion {
	return l.state.Loop()
}

// NextPosition reports how the read [current, current+frameCount) meets the loop seam.
func (l *LoopController) NextPosition(current int64, frameCount int) LoopStep {
	return nextPosition(l.state.Loop(), current, frameCount)
}

// SetStart places the start marker. If it lands after the end marker the two
// are swapped.
func (l *LoopController) SetStart(frame int64) domain.LoopRegion {
	return l.update(func(r *domain.LoopRegion) {
		r.Start = l.clampFrame(frame)
		if r.Start == r.End {
			r.End = domain.NoMarker
		}
	})
}

// SetEnd places the end marker. If it lands before the start marker the two
// are swapped.
func (l *LoopController) SetEnd(frame int64) domain.LoopRegion {
	return l.update(func(r *domain.LoopRegion) {
		r.End = l.clampFrame(frame)
		if r.Start == r.End {
			r.Start = domain.NoMarker
		}
	})
}

// ClearStart removes the start marker.
func (l *LoopController) ClearStart() domain.LoopRegion {
	return l.update(func(r *domain.LoopRegion) {
		r.Start = domain.NoMarker
	})
}

// ClearEnd removes the end marker.
func (l *LoopController) ClearEnd() domain.LoopRegion {
	return l.update(func(r *domain.LoopRegion) {
		r.End = domain.NoMarker
	})
}

// Clear removes both markers.
func (l *LoopController) Clear() domain.LoopRegion {
	return l.update(func(r *domain.LoopRegion) {
		*r = domain.UnsetLoop()
	})
}

// DragStart moves the start marker during a drag. Ordering is re-validated on
// every update so a marker dragged past the other one swaps roles.
func (l *LoopController) DragStart(frame int64) domain.LoopRegion {
	return l.SetStart(frame)
}

// DragEnd moves the end marker during a drag.
func (l *LoopController) DragEnd(frame int64) domain.LoopRegion {
	return l.SetEnd(frame)
}

// MoveWindow moves an active loop so it starts at start, keeping its width
// and staying inside the track. Other states are left unchanged.
func (l *LoopController) MoveWindow(start int64) domain.LoopRegion {
	return l.update(func(r *domain.LoopRegion) {
		if r.Start < 0 || r.End < 0 {
			return
		}
		width := r.End - r.Start
		if width < 0 {
			width = -width
		}
		limit := l.state.TotalFrames() - width
		if start > limit {
			start = limit
		}
		if start < 0 {
			start = 0
		}
		r.Start, r.End = start, start+width
	})
}

// Shift moves an active loop by its own width, forward for a positive
// direction and backward for a negative one.
func (l *LoopController) Shift(direction int) domain.LoopRegion {
	r := l.Snapshot()
	if !r.Active() || direction == 0 {
		return r
	}
	step := r.Width()
	if direction < 0 {
		step = -step
	}
	return l.MoveWindow(r.Start + step)
}

func (l *LoopController) update(fn func(r *domain.LoopRegion)) domain.LoopRegion {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.state.Loop()
	fn(&r)
	r = normalizeLoop(r)
	l.state.loop.Store(&r)
	return r
}

func (l *LoopController) clampFrame(frame int64) int64 {
	if frame < 0 {
		return 0
	}
	if total := l.state.TotalFrames(); frame > total {
		return total
	}
	return frame
}

// normalizeLoop derives the state from the markers and orders them.
func normalizeLoop(r domain.LoopRegion) domain.LoopRegion {
	hasStart, hasEnd := r.Start >= 0, r.End >= 0
	switch {
	case hasStart && hasEnd:
		if r.Start > r.End {
			r.Start, r.End = r.End, r.Start
		}
		r.State = domain.LoopActive
	case hasStart || hasEnd:
		r.State = domain.LoopPartial
	default:
		r.State = domain.LoopUnset
	}
	return r
}
