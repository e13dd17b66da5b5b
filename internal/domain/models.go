// Package domain contains core models and logic with no external dependencies.
// This package defines the fundamental entities of the Reh practice player.
package domain

import (
	"math"
	"time"
)

// Track describes one loaded audio file.
// A Track is immutable once loaded; opening another file replaces it wholesale.
type Track struct {
	// ID is a unique identifier for the loaded track (UUID)
	ID string

	// Path is the absolute path to the audio file on the filesystem
	Path string

	// Container is the detected container name (wav, ogg, flac, ...)
	Container string

	// Codec is the detected codec name (pcm, vorbis, opus, ...)
	Codec string

	// SampleRate is the native sample rate in Hz
	SampleRate int

	// Channels is the native channel count
	Channels int

	// TotalFrames is the length of the track in frames
	TotalFrames int64

	// Metadata contains tag information, when the file carries any
	Metadata TrackMetadata
}

// TrackMetadata contains descriptive tag information for a track.
type TrackMetadata struct {
	Title  string
	Artist string
	Album  string
}

// Duration returns the total length of the track.
func (t Track) Duration() time.Duration {
	return t.FramesToDuration(t.TotalFrames)
}

// FramesToDuration converts a frame count at the track rate into a duration.
func (t Track) FramesToDuration(frames int64) time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(t.SampleRate) * float64(time.Second))
}

// SecondsToFrames converts seconds into a frame count at the track rate.
func (t Track) SecondsToFrames(seconds float64) int64 {
	return int64(math.Round(seconds * float64(t.SampleRate)))
}

// DisplayTitle returns the tag title, falling back to the file name.
func (t Track) DisplayTitle() string {
	if t.Metadata.Title != "" {
		if t.Metadata.Artist != "" {
			return t.Metadata.Artist + " - " + t.Metadata.Title
		}
		return t.Metadata.Title
	}
	return baseName(t.Path)
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// SampleBlock is a run of interleaved PCM frames tagged with its position in the track.
// Samples are normalized to [-1, 1].
type SampleBlock struct {
	// Epoch is the seek generation the block was decoded in
	Epoch uint32

	// StartFrame is the frame index of the first frame in Samples
	StartFrame int64

	// Channels is the number of interleaved channels
	Channels int

	// Samples holds Frames()*Channels values
	Samples []float32
}

// Frames returns the number of frames in the block.
func (b SampleBlock) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// EndFrame returns the frame index following the last frame of the block.
func (b SampleBlock) EndFrame() int64 {
	return b.StartFrame + int64(b.Frames())
}

// LoopState is the lifecycle state of the loop region.
type LoopState int

const (
	// LoopUnset means no marker is placed
	LoopUnset LoopState = iota

	// LoopPartial means exactly one marker is placed; playback is linear
	LoopPartial

	// LoopActive means both markers are placed and wraparound is enforced
	LoopActive
)

// String returns a human-readable representation of the loop state.
func (s LoopState) String() string {
	switch s {
	case LoopUnset:
		return "unset"
	case LoopPartial:
		return "partial"
	case LoopActive:
		return "active"
	default:
		return "unknown"
	}
}

// NoMarker marks an unset loop marker.
const NoMarker int64 = -1

// LoopRegion is an immutable snapshot of the loop markers.
// When State is LoopActive, Start < End holds.
type LoopRegion struct {
	Start int64
	End   int64
	State LoopState
}

// UnsetLoop returns a region with no markers.
func UnsetLoop() LoopRegion {
	return LoopRegion{Start: NoMarker, End: NoMarker, State: LoopUnset}
}

// Active reports whether wraparound is enforced.
func (r LoopRegion) Active() bool {
	return r.State == LoopActive
}

// Width returns the number of frames between the markers, or 0 when not active.
func (r LoopRegion) Width() int64 {
	if !r.Active() {
		return 0
	}
	return r.End - r.Start
}

// Stretch parameter bounds.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
	MinPitch = 0.5
	MaxPitch = 2.0
)

// StretchParams holds the time and pitch factors applied during playback.
// TimeRatio is output duration divided by input duration; PitchRatio is a
// frequency multiplier independent of duration.
type StretchParams struct {
	TimeRatio  float64
	PitchRatio float64
}

// DefaultStretch returns the no-change parameters.
func DefaultStretch() StretchParams {
	return StretchParams{TimeRatio: 1, PitchRatio: 1}
}

// Speed returns the playback speed factor (1/TimeRatio).
func (p StretchParams) Speed() float64 {
	if p.TimeRatio <= 0 {
		return 1
	}
	return 1 / p.TimeRatio
}

// IsIdentity reports whether both factors are exactly 1.
func (p StretchParams) IsIdentity() bool {
	return p.TimeRatio == 1 && p.PitchRatio == 1
}

// StretchFromSpeed builds parameters from a speed factor and a pitch ratio,
// clamping both to the supported ranges.
func StretchFromSpeed(speed, pitch float64) StretchParams {
	speed = clamp(speed, MinSpeed, MaxSpeed)
	pitch = clamp(pitch, MinPitch, MaxPitch)
	return StretchParams{TimeRatio: 1 / speed, PitchRatio: pitch}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(lo, math.Min(hi, v))
}

// PlaybackStatus represents the current playback state.
type PlaybackStatus int

const (
	// StatusIdle indicates no track is loaded
	StatusIdle PlaybackStatus = iota

	// StatusLoading indicates a track is being opened
	StatusLoading

	// StatusPlaying indicates playback is active
	StatusPlaying

	// StatusPaused indicates playback is paused
	StatusPaused
)

// String returns a human-readable representation of the playback status.
func (s PlaybackStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Envelope is a downsampled amplitude representation of a whole track,
// used for waveform drawing. Each peak is max |x| over its bucket.
type Envelope struct {
	Peaks []float32
}

// Len returns the number of buckets.
func (e Envelope) Len() int {
	return len(e.Peaks)
}

// Snapshot is a consistent view of the player state for the UI.
type Snapshot struct {
	Track    *Track
	Status   PlaybackStatus
	Position int64
	Loop     LoopRegion
	Stretch  StretchParams
	Volume   float64
}
