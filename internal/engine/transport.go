package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// errSeekSuperseded is returned by resync when another seek replaced the
// epoch the request was raised in.
var errSeekSuperseded = errors.New("seek superseded")

// anyEpoch lets seek run regardless of the current epoch.
const anyEpoch = -1

// Transport owns the playback position and the play/pause flag of one track.
type Transport struct {
	cursor     *decodeCursor
	buffer     *SampleBuffer
	state      *SharedState
	sampleRate int
	logger     *slog.Logger
}

func newTransport(cursor *decodeCursor, buffer *SampleBuffer, state *SharedState, sampleRate int, logger *slog.Logger) *Transport {
	return &Transport{
		cursor:     cursor,
		buffer:     buffer,
		state:      state,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Play starts playback. Playing from the final frame starts over from zero.
func (t *Transport) Play() error {
	total := t.state.TotalFrames()
	if total > 0 && t.state.Position() >= total-1 {
		if _, err := t.SeekTo(0); err != nil {
			return err
		}
	}
	t.state.completed.Store(false)
	t.state.playing.Store(true)
	return nil
}

// Pause stops playback. Pausing twice is harmless.
func (t *Transport) Pause() {
	t.state.playing.Store(false)
}

// Toggle flips between playing and paused and reports whether playback is now running.
func (t *Transport) Toggle() (bool, error) {
	if t.state.Playing() {
		t.Pause()
		return false, nil
	}
	if err := t.Play(); err != nil {
		return false, err
	}
	return true, nil
}

// Status returns the play/pause state.
func (t *Transport) Status() domain.PlaybackStatus {
	if t.state.Playing() {
		return domain.StatusPlaying
	}
	return domain.StatusPaused
}

// Position returns the current frame.
func (t *Transport) Position() int64 {
	return t.state.Position()
}

// SeekTo moves playback to frame, clamped to the track, and returns the frame
// actually reached.
//
// The decoder is repositioned before the buffer is flushed and the new
// position is published last, so the playback callback never pairs the new
// position with audio from before the seek. Any block decoded in flight
// carries the old epoch and is dropped.
func (t *Transport) SeekTo(frame int64) (int64, error) {
	return t.seek(frame, anyEpoch, false)
}

// resync seeks like SeekTo but drops decoded frames before the target, so
// playback resumes exactly at frame. The playback callback asks for it when
// the queued audio does not continue where it is reading, for example after
// the loop moved under audio the producer had already wrapped. It fails with
// errSeekSuperseded if epoch is no longer current.
func (t *Transport) resync(epoch uint32, frame int64) (int64, error) {
	return t.seek(frame, int64(epoch), true)
}

func (t *Transport) seek(frame, from int64, exact bool) (int64, error) {
	target := t.clamp(frame)

	c := t.cursor
	c.mu.Lock()
	defer c.mu.Unlock()

	if from != anyEpoch && uint32(from) != c.epoch {
		return 0, errSeekSuperseded
	}

	epoch := (c.epoch + 1) & epochMask
	reached, err := c.seek(epoch, target)
	if err != nil {
		return 0, fmt.Errorf("seek to frame %d: %w", target, err)
	}
	if exact {
		c.skipUntil = target
		reached = target
	}
	t.buffer.FlushAndReset(epoch)
	// The playback callback resets the stretch processor when it meets the new epoch.
	t.state.publish(epoch, reached)

	t.logger.Debug("seek",
		slog.Int64("target", target),
		slog.Int64("reached", reached),
		slog.Any("epoch", epoch))
	return reached, nil
}

// SeekFraction seeks to a fraction in [0, 1] of the track.
func (t *Transport) SeekFraction(f float64) (int64, error) {
	if math.IsNaN(f) {
		f = 0
	}
	f = math.Max(0, math.Min(1, f))
	return t.SeekTo(int64(f * float64(t.state.TotalFrames())))
}

// RewindToZero seeks to the first frame.
func (t *Transport) RewindToZero() (int64, error) {
	return t.SeekTo(0)
}

// RewindBy moves playback back by seconds.
func (t *Transport) RewindBy(seconds float64) (int64, error) {
	return t.SkipBy(-seconds)
}

// SkipBy moves playback by seconds, forward when positive.
func (t *Transport) SkipBy(seconds float64) (int64, error) {
	delta := int64(math.Round(seconds * float64(t.sampleRate)))
	return t.SeekTo(t.state.Position() + delta)
}

func (t *Transport) clamp(frame int64) int64 {
	total := t.state.TotalFrames()
	if frame >= total {
		frame = total - 1
	}
	if frame < 0 {
		frame = 0
	}
	return frame
}
