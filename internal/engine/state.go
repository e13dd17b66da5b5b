// Package engine implements the real-time playback pipeline: the sample buffer
// between the decode goroutine and the device callback, the loop controller,
// the transport controller and the playback engine itself.
//
// Three contexts touch the pipeline. The UI issues commands through Transport
// and LoopController; the Producer goroutine decodes into the SampleBuffer; the
// device callback runs Engine.Read. Everything shared with the callback lives
// in SharedState and is accessed through atomics only.
package engine

import (
	"math"
	"sync/atomic"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

const (
	positionBits = 40
	positionMask = 1<<positionBits - 1
	epochMask    = 1<<(64-positionBits) - 1

	// noSeekRequest marks an empty seek request slot. No real request packs to
	// it since frames never reach positionMask.
	noSeekRequest = ^uint64(0)
)

func packPosition(epoch uint32, frame int64) uint64 {
	return uint64(epoch&epochMask)<<positionBits | uint64(frame)&positionMask
}

func unpackPosition(v uint64) (uint32, int64) {
	return uint32(v >> positionBits), int64(v & positionMask)
}

// SharedState is the state shared by the UI, the producer and the device callback
// for one loaded track.
//
// Writers per field:
//   - position: Transport publishes after a seek; the playback callback advances
//     it only while the epoch it read from is still current.
//   - playing: Transport; the playback callback clears it at end of track.
//   - loop: LoopController.
//   - stretch: PlaybackService.
//   - seekRequest: the playback callback raises it; the Producer consumes it.
//   - seekFailed: the Producer sets it; the playback callback consumes it.
//   - completed: the playback callback sets it; PlaybackService consumes it.
//   - streamEnd: the Producer, when the stream ends before the frame count
//     the decoder announced.
//   - underruns, loopWraps: the playback callback.
type SharedState struct {
	total int64

	position    atomic.Uint64
	playing     atomic.Bool
	loop        atomic.Pointer[domain.LoopRegion]
	stretch     atomic.Pointer[domain.StretchParams]
	seekRequest atomic.Uint64
	seekFailed  atomic.Bool
	completed   atomic.Bool
	streamEnd   atomic.Int64
	underruns   atomic.Uint64
	loopWraps   atomic.Uint64
}

// NewSharedState creates the state for a track of total frames.
func NewSharedState(total int64) *SharedState {
	s := &SharedState{total: total}
	loop := domain.UnsetLoop()
	s.loop.Store(&loop)
	stretch := domain.DefaultStretch()
	s.stretch.Store(&stretch)
	s.seekRequest.Store(noSeekRequest)
	return s
}

// TotalFrames returns the track length.
func (s *SharedState) TotalFrames() int64 {
	return s.total
}

// Position returns the current playback frame.
func (s *SharedState) Position() int64 {
	_, frame := unpackPosition(s.position.Load())
	return frame
}

// Epoch returns the current seek generation.
func (s *SharedState) Epoch() uint32 {
	epoch, _ := unpackPosition(s.position.Load())
	return epoch
}

// publish stores a new epoch and position as one unit.
func (s *SharedState) publish(epoch uint32, frame int64) {
	s.position.Store(packPosition(epoch, frame))
}

// advance moves the position forward unless a seek has replaced the epoch.
func (s *SharedState) advance(epoch uint32, frame int64) bool {
	for {
		old := s.position.Load()
		current, _ := unpackPosition(old)
		if current != epoch&epochMask {
			return false
		}
		if s.position.CompareAndSwap(old, packPosition(epoch, frame)) {
			return true
		}
	}
}

// Playing reports whether playback is active.
func (s *SharedState) Playing() bool {
	return s.playing.Load()
}

// Loop returns the current loop snapshot.
func (s *SharedState) Loop() domain.LoopRegion {
	return *s.loop.Load()
}

// playbackLoop returns the loop snapshot with its end pulled in to where the
// stream actually ended, if that is earlier.
func (s *SharedState) playbackLoop() domain.LoopRegion {
	loop := s.Loop()
	if end := s.streamEnd.Load(); end > 0 && loop.Active() && end > loop.Start && end < loop.End {
		loop.End = end
	}
	return loop
}

// Stretch returns the current stretch parameters.
func (s *SharedState) Stretch() domain.StretchParams {
	return *s.stretch.Load()
}

// SetStretch publishes new stretch parameters. They apply from the next
// processed block.
func (s *SharedState) SetStretch(p domain.StretchParams) {
	s.stretch.Store(&p)
}

// Underruns returns the number of callbacks that could not be fully served.
func (s *SharedState) Underruns() uint64 {
	return s.underruns.Load()
}

// LoopWraps returns how many times playback jumped from the loop end to its start.
func (s *SharedState) LoopWraps() uint64 {
	return s.loopWraps.Load()
}

// requestSeek asks the producer to reposition to frame. epoch is the
// generation the caller was reading; the producer ignores the request once a
// later seek has replaced it. The latest request wins.
func (s *SharedState) requestSeek(epoch uint32, frame int64) {
	s.seekRequest.Store(packPosition(epoch, frame))
}

// takeSeekRequest returns and clears a pending seek request.
func (s *SharedState) takeSeekRequest() (uint32, int64, bool) {
	v := s.seekRequest.Swap(noSeekRequest)
	if v == noSeekRequest {
		return 0, 0, false
	}
	epoch, frame := unpackPosition(v)
	return epoch, frame, true
}

func (s *SharedState) seekPending() bool {
	return s.seekRequest.Load() != noSeekRequest
}

// TakeCompleted reports, once, that playback reached the end of the track.
func (s *SharedState) TakeCompleted() bool {
	return s.completed.Swap(false)
}

// volume is a float64 stored as bits so the callback can read it atomically.
type volume struct {
	bits atomic.Uint64
}

func (v *volume) Load() float64 {
	return math.Float64frombits(v.bits.Load())
}

func (v *volume) Store(f float64) {
	v.bits.Store(math.Float64bits(f))
}
