package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/logger"
)

const testRate = 44100

var (
	errCorrupt    = errors.New("corrupt block")
	errSeekBroken = errors.New("seek broken")
)

// rampDecoder is an in-memory decoder whose samples equal their frame index,
// so continuity can be checked on the output.
type rampDecoder struct {
	mu       sync.Mutex
	track    domain.Track
	block    int
	align    int64
	pos      int64
	failAt   map[int64]bool // block start -> recoverable
	closed   bool
	seekHits int
	noSeek   bool
}

func newRampDecoder(channels int, total int64) *rampDecoder {
	return &rampDecoder{
		track: domain.Track{
			ID:          "ramp",
			Path:        "/tmp/ramp.wav",
			Container:   "test",
			Codec:       "pcm",
			SampleRate:  testRate,
			Channels:    channels,
			TotalFrames: total,
		},
		block: DefaultBlockFrames,
		align: 1,
	}
}

func (d *rampDecoder) Track() domain.Track { return d.track }

func (d *rampDecoder) NextBlock() (domain.SampleBlock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if recoverable, ok := d.failAt[d.pos]; ok {
		delete(d.failAt, d.pos)
		start := d.pos
		d.pos += int64(d.block)
		return domain.SampleBlock{}, domain.NewDecodeError(start, recoverable, errCorrupt)
	}
	if d.pos >= d.track.TotalFrames {
		return domain.SampleBlock{}, io.EOF
	}
	n := min(int64(d.block), d.track.TotalFrames-d.pos)
	ch := d.track.Channels
	samples := make([]float32, int(n)*ch)
	for i := int64(0); i < n; i++ {
		for c := 0; c < ch; c++ {
			samples[int(i)*ch+c] = float32(d.pos + i)
		}
	}
	b := domain.SampleBlock{StartFrame: d.pos, Channels: ch, Samples: samples}
	d.pos += n
	return b, nil
}

func (d *rampDecoder) SeekTo(frame int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.noSeek {
		return 0, errSeekBroken
	}
	if frame < 0 || frame > d.track.TotalFrames {
		return 0, domain.ErrSeekOutOfRange
	}
	d.seekHits++
	d.pos = frame / d.align * d.align
	return d.pos, nil
}

// breakSeeks makes every later SeekTo fail.
func (d *rampDecoder) breakSeeks() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noSeek = true
}

func (d *rampDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func testConfig() SessionConfig {
	return SessionConfig{
		DeviceRate:        testRate,
		DeviceChannels:    2,
		BufferDuration:    300 * time.Millisecond,
		MaxCallbackFrames: 2048,
	}
}

// newTestSession builds a started session attached to a fresh engine.
func newTestSession(t *testing.T, dec *rampDecoder, cfg SessionConfig) (*Session, *Engine) {
	t.Helper()
	s, err := NewSession(dec.Track(), dec, cfg, logger.NewTestLogger())
	require.NoError(t, err)

	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Close() })

	e := NewEngine(cfg.DeviceChannels, cfg.MaxCallbackFrames)
	e.Attach(s)
	return s, e
}

// waitBuffered blocks until frames of the current epoch are queued or the
// producer reached the end. It acts as the consumer, like the callback does.
func waitBuffered(t *testing.T, s *Session, frames int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.buffer.DropStale()
		if s.buffer.Buffered() >= frames {
			return true
		}
		return s.buffer.Ended(s.buffer.Epoch())
	}, 5*time.Second, time.Millisecond)
}

// playUntil renders callbacks until the last rendered sample reaches frame and
// returns channel 0 of everything rendered.
func playUntil(t *testing.T, e *Engine, frame float32) []float32 {
	t.Helper()
	var out []float32
	buf := make([]float32, callbackFrames*2)
	require.Eventually(t, func() bool {
		e.Render(buf)
		l := leftChannel(buf)
		out = append(out, l...)
		return l[len(l)-1] >= frame
	}, 5*time.Second, time.Millisecond)
	return out
}

// requireContinuous fails unless the non-silent samples of a ramp count up by one.
func requireContinuous(t *testing.T, out []float32) {
	t.Helper()
	prev := float32(-1)
	for i, v := range out {
		if v == 0 {
			continue
		}
		if prev >= 0 {
			require.Equal(t, prev+1, v, "sample %d jumps from %v", i, prev)
		}
		prev = v
	}
}

// leftChannel extracts channel 0 of stereo output.
func leftChannel(out []float32) []float32 {
	l := make([]float32, len(out)/2)
	for i := range l {
		l[i] = out[2*i]
	}
	return l
}
