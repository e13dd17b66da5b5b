// Package ports define interfaces for dependency inversion.
// These interfaces keep the engine and services independent of codec libraries,
// audio backends and the UI toolkit.
package ports

import (
	"io"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// Decoder reads one opened audio file as a sequential stream of sample blocks.
//
// A Decoder is owned by a single goroutine at a time. It performs the CPU work of
// decompression and must never be called from the device callback.
type Decoder interface {
	// Track returns the immutable description of the opened file.
	Track() domain.Track

	// NextBlock decodes the next block of interleaved frames.
	// The block's StartFrame is the frame index of its first frame; Epoch is left
	// zero for the caller to tag. Samples stay valid until the next call.
	//
	// Returns io.EOF at the end of the stream and *domain.DecodeError for corrupt data.
	NextBlock() (domain.SampleBlock, error)

	// SeekTo repositions the decode cursor at or before frame and returns the
	// frame index actually reached. Block-aligned codecs may land before frame.
	//
	// Returns domain.ErrSeekOutOfRange if frame exceeds the track length.
	SeekTo(frame int64) (int64, error)

	// Close releases the underlying file.
	Close() error
}

// DecoderFactory opens files into Decoders.
type DecoderFactory interface {
	// Open probes the container and codec of path and returns a ready Decoder.
	//
	// Returns an error wrapping domain.ErrIO when the file cannot be read, or
	// domain.ErrUnsupportedFormat when the container or codec is not recognized.
	Open(path string) (Decoder, error)
}

// OutputDevice is an audio sink that pulls samples from a reader at a fixed rate.
//
// The reader supplies interleaved float32 little-endian frames at SampleRate()
// with Channels() channels. Implementations call Read from their own real-time
// context; the reader must never block.
type OutputDevice interface {
	// Start begins pulling from r. Start may only be called once.
	Start(r io.Reader) error

	// SampleRate returns the fixed device rate in Hz.
	SampleRate() int

	// Channels returns the device channel count.
	Channels() int

	// Close stops pulling and releases the device.
	Close() error
}

// MetadataReader extracts descriptive tags from an audio file.
type MetadataReader interface {
	// ReadMetadata returns whatever tags the file carries.
	// Files without tags return an empty TrackMetadata and no error.
	ReadMetadata(path string) (domain.TrackMetadata, error)
}

// PlaybackController is the command surface consumed by the UI.
// Implementations must be safe for concurrent use.
type PlaybackController interface {
	// LoadFile opens path and replaces the current track on success.
	// On failure the previously loaded track is left untouched.
	LoadFile(path string) error

	// TogglePlayPause plays when paused and pauses when playing.
	TogglePlayPause() error

	Play() error
	Pause() error

	// SeekFraction seeks to a fraction of the track in [0, 1].
	SeekFraction(fraction float64) error

	// SeekTo seeks to an absolute frame index; out-of-range targets are clamped.
	SeekTo(frame int64) error

	// RewindToZero seeks to the first frame.
	RewindToZero() error

	// RewindBy moves the position back by seconds.
	RewindBy(seconds float64) error

	// SkipBy moves the position by seconds, forward when positive.
	SkipBy(seconds float64) error

	// Loop marker commands. Set* place a marker at frame; Clear* remove it.
	SetLoopStart(frame int64) error
	SetLoopEnd(frame int64) error
	SetLoopStartAtCursor() error
	SetLoopEndAtCursor() error
	ClearLoopStart() error
	ClearLoopEnd() error
	ClearLoop() error

	// DragLoopStart and DragLoopEnd reshape an existing region during playback.
	DragLoopStart(frame int64) error
	DragLoopEnd(frame int64) error

	// MoveLoop moves the whole region so it starts at frame, keeping its width.
	MoveLoop(start int64) error

	// ShiftLoop moves the whole region by its own width, direction -1 or +1.
	ShiftLoop(direction int) error

	// SetSpeed and SetPitch change the stretch parameters; values are clamped.
	SetSpeed(speed float64) error
	SetPitch(pitch float64) error

	// ResetStretch restores speed and pitch to 1.
	ResetStretch() error

	// SetVolume sets the output gain in [0, 2].
	SetVolume(volume float64) error

	// Snapshot returns the current state for display.
	Snapshot() domain.Snapshot
}
