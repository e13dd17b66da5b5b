package engine

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/logger"
	"github.com/tejashwikalptaru/reh/internal/testutil"
)

const callbackFrames = 441

// play renders n callbacks, waiting for the producer before each one, and
// returns channel 0 of everything rendered plus the position after each callback.
func play(t *testing.T, s *Session, e *Engine, n int) ([]float32, []int64) {
	t.Helper()
	var out []float32
	var positions []int64
	buf := make([]float32, callbackFrames*2)
	for i := 0; i < n; i++ {
		waitBuffered(t, s, callbackFrames)
		e.Render(buf)
		out = append(out, leftChannel(buf)...)
		positions = append(positions, s.State().Position())
	}
	return out, positions
}

func TestEngineSilentWhilePaused(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	s, e := newTestSession(t, newRampDecoder(1, testRate), testConfig())
	waitBuffered(t, s, callbackFrames)

	buf := make([]float32, callbackFrames*2)
	for i := range buf {
		buf[i] = 1
	}
	e.Render(buf)

	for _, v := range buf {
		require.Zero(t, v)
	}
	assert.Equal(t, int64(0), s.State().Position())
	require.NoError(t, s.Close())
}

func TestEngineWithoutSessionIsSilent(t *testing.T) {
	e := NewEngine(2, 256)
	p := make([]byte, 256*8)
	for i := range p {
		p[i] = 0xff
	}
	n, err := e.Read(p)
	require.NoError(t, err)
	assert.Equal(t, len(p), n)
	for _, b := range p {
		require.Zero(t, b)
	}
}

func TestEnginePlaysFramesInOrder(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	s, e := newTestSession(t, newRampDecoder(1, 10*testRate), testConfig())
	require.NoError(t, s.Transport().Play())

	out, positions := play(t, s, e, 50)

	for i, v := range out {
		require.Equal(t, float32(i), v)
	}
	for i, p := range positions {
		assert.Equal(t, int64((i+1)*callbackFrames), p)
	}
	assert.Zero(t, s.State().Underruns())
	require.NoError(t, s.Close())
}

func TestSeekNextFrameIsReachedFrame(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	s, e := newTestSession(t, newRampDecoder(1, 10*testRate), testConfig())
	require.NoError(t, s.Transport().Play())
	play(t, s, e, 3)

	reached, err := s.Transport().SeekTo(220500)
	require.NoError(t, err)
	assert.Equal(t, int64(220500), reached)
	assert.Equal(t, int64(220500), s.State().Position())

	out, positions := play(t, s, e, 10)
	assert.Equal(t, float32(220500), out[0])
	for i := 1; i < len(positions); i++ {
		assert.Greater(t, positions[i], positions[i-1])
	}
	require.NoError(t, s.Close())
}

func TestSeekIsIdempotentOnAlignedDecoder(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	dec := newRampDecoder(2, 10*testRate)
	dec.align = 4096
	s, e := newTestSession(t, dec, testConfig())
	require.NoError(t, s.Transport().Play())

	first, err := s.Transport().SeekTo(10000)
	require.NoError(t, err)
	second, err := s.Transport().SeekTo(10000)
	require.NoError(t, err)

	assert.Equal(t, int64(8192), first)
	assert.Equal(t, first, second)

	out, _ := play(t, s, e, 1)
	assert.Equal(t, float32(8192), out[0])
	require.NoError(t, s.Close())
}

func TestTransportClampsTargets(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	total := int64(10 * testRate)
	s, _ := newTestSession(t, newRampDecoder(1, total), testConfig())
	tr := s.Transport()

	reached, err := tr.SeekTo(-500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reached)

	reached, err = tr.SeekTo(total + 1000)
	require.NoError(t, err)
	assert.Equal(t, total-1, reached)

	reached, err = tr.SeekTo(2 * testRate)
	require.NoError(t, err)
	reached, err = tr.RewindBy(3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reached)

	reached, err = tr.SkipBy(5)
	require.NoError(t, err)
	assert.Equal(t, int64(5*testRate), reached)

	reached, err = tr.SeekFraction(0.5)
	require.NoError(t, err)
	assert.Equal(t, total/2, reached)

	reached, err = tr.RewindToZero()
	require.NoError(t, err)
	assert.Equal(t, int64(0), reached)
	require.NoError(t, s.Close())
}

func TestPauseIsIdempotent(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	s, _ := newTestSession(t, newRampDecoder(1, testRate), testConfig())
	tr := s.Transport()

	tr.Pause()
	tr.Pause()
	assert.Equal(t, domain.StatusPaused, tr.Status())

	playing, err := tr.Toggle()
	require.NoError(t, err)
	assert.True(t, playing)
	assert.Equal(t, domain.StatusPlaying, tr.Status())
	require.NoError(t, s.Close())
}

func TestLoopWrapsThreeTimesInThreeSeconds(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	s, e := newTestSession(t, newRampDecoder(1, 10*testRate), testConfig())
	s.Loop().SetStart(0)
	s.Loop().SetEnd(testRate)
	require.NoError(t, s.Transport().Play())

	out, positions := play(t, s, e, 3*testRate/callbackFrames)

	assert.Equal(t, uint64(3), s.State().LoopWraps())
	for _, p := range positions {
		require.Less(t, p, int64(testRate))
	}
	// No frame is dropped or repeated at any seam.
	for i, v := range out {
		require.Equal(t, float32(i%testRate), v)
	}
	assert.Zero(t, s.State().Underruns())
	require.NoError(t, s.Close())
}

func TestLoopSeamWithBlockAlignedSeek(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	dec := newRampDecoder(1, 10*testRate)
	dec.align = 1000
	s, e := newTestSession(t, dec, testConfig())

	s.Loop().SetStart(1500)
	s.Loop().SetEnd(1500 + 2000)
	_, err := s.Transport().SeekTo(1500)
	require.NoError(t, err)
	require.NoError(t, s.Transport().Play())

	out, _ := play(t, s, e, 20)

	// The aligned seek landed on 1000; the loop then repeats 1500..3499 exactly.
	for i, v := range out[500:] {
		require.Equal(t, float32(1500+i%2000), v)
	}
	require.NoError(t, s.Close())
}

func TestLoopSetBehindDecodedAudioResyncs(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	s, e := newTestSession(t, newRampDecoder(1, 10*testRate), testConfig())
	require.NoError(t, s.Transport().Play())
	play(t, s, e, 2)

	// The producer has queued far beyond frame 1000 by now.
	s.Loop().SetStart(0)
	s.Loop().SetEnd(1000)

	buf := make([]float32, callbackFrames*2)
	require.Eventually(t, func() bool {
		e.Render(buf)
		l := leftChannel(buf)
		return s.State().Position() < 1000 && l[0] < 1000 && l[len(l)-1] < 1000
	}, 5*time.Second, time.Millisecond)

	for i := 0; i < 20; i++ {
		waitBuffered(t, s, callbackFrames)
		e.Render(buf)
		require.Less(t, s.State().Position(), int64(1000))
		for _, v := range leftChannel(buf) {
			require.Less(t, v, float32(1000))
		}
	}
	require.NoError(t, s.Close())
}

func TestLoopChangeAfterProducerWrapped(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	tests := []struct {
		name   string
		change func(l *LoopController)
	}{
		{"clear", func(l *LoopController) { l.Clear() }},
		{"extend end", func(l *LoopController) { l.SetEnd(20000) }},
		{"shift forward", func(l *LoopController) { l.Shift(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := newTestSession(t, newRampDecoder(1, 10*testRate), testConfig())
			s.Loop().SetStart(0)
			s.Loop().SetEnd(8000)
			require.NoError(t, s.Transport().Play())
			head, _ := play(t, s, e, 2)

			// Everything up to the loop end and the restart after it is queued.
			waitBuffered(t, s, 8000)
			tt.change(s.Loop())

			out := playUntil(t, e, 12000)
			requireContinuous(t, append(head, out...))
			assert.Zero(t, s.State().LoopWraps())
			require.NoError(t, s.Close())
		})
	}
}

func TestLoopEndMovedEarlierAfterProducerWrapped(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	s, e := newTestSession(t, newRampDecoder(1, 10*testRate), testConfig())
	s.Loop().SetStart(0)
	s.Loop().SetEnd(8000)
	require.NoError(t, s.Transport().Play())
	play(t, s, e, 2)
	waitBuffered(t, s, 8000)

	s.Loop().SetEnd(3000)

	buf := make([]float32, callbackFrames*2)
	require.Eventually(t, func() bool {
		e.Render(buf)
		return s.State().LoopWraps() >= 2
	}, 5*time.Second, time.Millisecond)
	for i := 0; i < 20; i++ {
		waitBuffered(t, s, callbackFrames)
		e.Render(buf)
		for _, v := range leftChannel(buf) {
			require.Less(t, v, float32(3000))
		}
	}
	require.NoError(t, s.Close())
}

func TestSeekRequestFromReplacedEpochIsDropped(t *testing.T) {
	dec := newRampDecoder(1, 10*testRate)
	s, err := NewSession(dec.Track(), dec, testConfig(), logger.NewTestLogger())
	require.NoError(t, err)
	defer s.Close()

	old := s.State().Epoch()
	s.State().requestSeek(old, 500)
	_, err = s.Transport().SeekTo(20000)
	require.NoError(t, err)

	s.producer.serviceSeek()
	assert.Equal(t, int64(20000), s.State().Position())
	assert.Equal(t, (old+1)&epochMask, s.State().Epoch())

	_, err = s.Transport().resync(old, 500)
	assert.ErrorIs(t, err, errSeekSuperseded)

	s.State().requestSeek(s.State().Epoch(), 500)
	s.producer.serviceSeek()
	assert.Equal(t, int64(500), s.State().Position())
	_, _, pending := s.State().takeSeekRequest()
	assert.False(t, pending)
}

func TestFailedResyncKeepsPlaying(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	dec := newRampDecoder(1, 10*testRate)
	errs := make(chan error, 8)
	cfg := testConfig()
	cfg.OnError = func(err error) {
		select {
		case errs <- err:
		default:
		}
	}
	s, e := newTestSession(t, dec, cfg)
	require.NoError(t, s.Transport().Play())
	play(t, s, e, 2)
	waitBuffered(t, s, 4*callbackFrames)

	dec.breakSeeks()
	s.Loop().SetStart(0)
	s.Loop().SetEnd(1000)

	buf := make([]float32, callbackFrames*2)
	require.Eventually(t, func() bool {
		e.Render(buf)
		return s.render.awaitingSeek
	}, 5*time.Second, time.Millisecond)

	// The callback gives up waiting and plays what is queued.
	require.Eventually(t, func() bool {
		e.Render(buf)
		for _, v := range leftChannel(buf) {
			if v != 0 {
				return true
			}
		}
		return false
	}, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, <-errs, errSeekBroken)
	require.NoError(t, s.Close())
}

func TestEndOfTrackPausesOnLastFrame(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	total := int64(3000)
	s, e := newTestSession(t, newRampDecoder(1, total), testConfig())
	require.NoError(t, s.Transport().Play())

	buf := make([]float32, callbackFrames*2)
	require.Eventually(t, func() bool {
		e.Render(buf)
		return !s.State().Playing()
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, total-1, s.State().Position())
	assert.True(t, s.State().TakeCompleted())
	assert.False(t, s.State().TakeCompleted())

	// Play from the last frame starts over.
	require.NoError(t, s.Transport().Play())
	assert.Equal(t, int64(0), s.State().Position())
	require.NoError(t, s.Close())
}

func TestUnderrunIsCountedAndSilent(t *testing.T) {
	dec := newRampDecoder(1, testRate)
	s, err := NewSession(dec.Track(), dec, testConfig(), logger.NewTestLogger())
	require.NoError(t, err)
	defer s.Close()

	e := NewEngine(2, 2048)
	e.Attach(s)
	require.NoError(t, s.Transport().Play())

	buf := make([]float32, 512*2)
	e.Render(buf)

	for _, v := range buf {
		require.Zero(t, v)
	}
	assert.Equal(t, uint64(1), s.State().Underruns())
	assert.True(t, s.State().Playing())
}

func TestRecoverableDecodeErrorIsSkipped(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	dec := newRampDecoder(1, 4*DefaultBlockFrames)
	dec.failAt = map[int64]bool{DefaultBlockFrames: true}

	var reported atomic.Int32
	cfg := testConfig()
	cfg.OnError = func(error) { reported.Add(1) }
	s, e := newTestSession(t, dec, cfg)
	require.NoError(t, s.Transport().Play())

	buf := make([]float32, callbackFrames*2)
	var got []float32
	require.Eventually(t, func() bool {
		e.Render(buf)
		got = append(got, leftChannel(buf)...)
		return !s.State().Playing()
	}, 5*time.Second, time.Millisecond)

	assert.Zero(t, reported.Load())
	assert.NotContains(t, got, float32(DefaultBlockFrames+10))
	assert.Contains(t, got, float32(2*DefaultBlockFrames+10))
	require.NoError(t, s.Close())
}

func TestUnrecoverableDecodeErrorIsReported(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	dec := newRampDecoder(1, 4*DefaultBlockFrames)
	dec.failAt = map[int64]bool{DefaultBlockFrames: false}

	errs := make(chan error, 1)
	cfg := testConfig()
	cfg.OnError = func(err error) { errs <- err }
	s, _ := newTestSession(t, dec, cfg)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, errCorrupt)
		assert.False(t, domain.IsRecoverable(err))
	case <-time.After(5 * time.Second):
		t.Fatal("decode error not reported")
	}
	require.NoError(t, s.Close())
}

func TestSessionCloseReleasesDecoder(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	dec := newRampDecoder(1, testRate)
	s, _ := newTestSession(t, dec, testConfig())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	dec.mu.Lock()
	defer dec.mu.Unlock()
	assert.True(t, dec.closed)
}

func TestEngineReadAppliesVolumeAndClips(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	dec := newRampDecoder(1, testRate)
	s, e := newTestSession(t, dec, testConfig())
	e.SetVolume(0.5)
	assert.Equal(t, 0.5, e.Volume())
	require.NoError(t, s.Transport().Play())
	waitBuffered(t, s, 8)

	// Three whole frames plus a partial one.
	p := make([]byte, 3*8+3)
	n, err := e.Read(p)
	require.NoError(t, err)
	assert.Equal(t, len(p), n)

	sample := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}
	assert.Equal(t, float32(0), sample(0))
	assert.Equal(t, float32(0.5), sample(2))
	assert.Equal(t, float32(1), sample(4), "frame 2 at half gain clips to 1")
	assert.Equal(t, []byte{0, 0, 0}, p[24:])

	e.SetVolume(5)
	assert.Equal(t, 2.0, e.Volume())
	require.NoError(t, s.Close())
}

func TestComputeEnvelope(t *testing.T) {
	dec := newRampDecoder(1, 10000)

	env, frames, err := ComputeEnvelope(context.Background(), dec, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), frames)
	require.Len(t, env.Peaks, 10)
	for i := 1; i < len(env.Peaks); i++ {
		assert.Greater(t, env.Peaks[i], env.Peaks[i-1])
	}
	assert.Equal(t, float32(9999), env.Peaks[9])
}

func TestComputeEnvelopeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := ComputeEnvelope(ctx, newRampDecoder(1, 10000), 10)
	assert.ErrorIs(t, err, context.Canceled)
}
