package domain

import (
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStretchFromSpeed(t *testing.T) {
	tests := []struct {
		name      string
		speed     float64
		pitch     float64
		wantSpeed float64
		wantPitch float64
	}{
		{"identity", 1, 1, 1, 1},
		{"half speed", 0.5, 1, 0.5, 1},
		{"clamped low", 0.1, 0.1, MinSpeed, MinPitch},
		{"clamped high", 10, 10, MaxSpeed, MaxPitch},
		{"nan", math.NaN(), math.NaN(), 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := StretchFromSpeed(tt.speed, tt.pitch)
			assert.InDelta(t, tt.wantSpeed, p.Speed(), 1e-9)
			assert.InDelta(t, tt.wantPitch, p.PitchRatio, 1e-9)
		})
	}

	assert.True(t, StretchFromSpeed(1, 1).IsIdentity())
	assert.InDelta(t, 2.0, StretchFromSpeed(0.5, 1).TimeRatio, 1e-9)
}

func TestTrackConversions(t *testing.T) {
	track := Track{Path: "/music/take.wav", SampleRate: 44100, TotalFrames: 441000}

	assert.Equal(t, 10*time.Second, track.Duration())
	assert.Equal(t, int64(220500), track.SecondsToFrames(5))
	assert.Equal(t, "take.wav", track.DisplayTitle())

	track.Metadata.Title = "Take"
	assert.Equal(t, "Take", track.DisplayTitle())
	track.Metadata.Artist = "Band"
	assert.Equal(t, "Band - Take", track.DisplayTitle())

	assert.Zero(t, Track{}.FramesToDuration(100))
}

func TestLoopRegion(t *testing.T) {
	unset := UnsetLoop()
	assert.False(t, unset.Active())
	assert.Zero(t, unset.Width())
	assert.Equal(t, "unset", unset.State.String())

	active := LoopRegion{Start: 100, End: 400, State: LoopActive}
	assert.True(t, active.Active())
	assert.Equal(t, int64(300), active.Width())
}

func TestSampleBlock(t *testing.T) {
	b := SampleBlock{StartFrame: 10, Channels: 2, Samples: make([]float32, 8)}
	assert.Equal(t, 4, b.Frames())
	assert.Equal(t, int64(14), b.EndFrame())
	assert.Zero(t, SampleBlock{}.Frames())
}

func TestErrors(t *testing.T) {
	err := NewEngineError("load", "/a.m4a", UnsupportedError("mp4", "aac"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "aac in mp4")

	var engineErr *EngineError
	assert.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "load", engineErr.Op)

	assert.True(t, IsRecoverable(NewDecodeError(5, true, io.ErrUnexpectedEOF)))
	assert.False(t, IsRecoverable(NewDecodeError(5, false, io.ErrUnexpectedEOF)))
	assert.False(t, IsRecoverable(io.EOF))
	assert.ErrorIs(t, NewDecodeError(5, false, io.ErrUnexpectedEOF), io.ErrUnexpectedEOF)
}
