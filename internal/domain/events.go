// Package domain defines events for the event-driven architecture.
// Events decouple the playback service from the presenter.
package domain

import (
	"time"
)

// Event is the base interface for all events in the system.
// All events must implement this interface to be published via the event bus.
type Event interface {
	// Type returns the event type identifier
	Type() EventType

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// EventType is a string identifier for different event types.
type EventType string

// Event type constants define all possible events in the system.
const (
	// Track events
	EventTrackLoading EventType = "track.loading"
	EventTrackLoaded  EventType = "track.loaded"
	EventTrackError   EventType = "track.error"

	// Playback events
	EventPlaybackStarted   EventType = "playback.started"
	EventPlaybackPaused    EventType = "playback.paused"
	EventPlaybackCompleted EventType = "playback.completed"
	EventPlaybackProgress  EventType = "playback.progress"

	// Control events
	EventLoopChanged    EventType = "loop.changed"
	EventStretchChanged EventType = "stretch.changed"
	EventVolumeChanged  EventType = "volume.changed"
)

// EventHandler is a function that handles events.
type EventHandler func(event Event)

// SubscriptionID uniquely identifies an event subscription.
type SubscriptionID string

// baseEvent provides common event functionality.
// All concrete events should embed this struct.
type baseEvent struct {
	timestamp time.Time
}

// Timestamp returns when the event occurred.
func (e baseEvent) Timestamp() time.Time {
	return e.timestamp
}

// newBaseEvent creates a new base event with the current timestamp.
func newBaseEvent() baseEvent {
	return baseEvent{timestamp: time.Now()}
}

// TrackLoadingEvent is published when a file starts opening.
type TrackLoadingEvent struct {
	baseEvent
	Path string
}

// Type returns the event type.
func (e TrackLoadingEvent) Type() EventType {
	return EventTrackLoading
}

// NewTrackLoadingEvent creates a new TrackLoadingEvent.
func NewTrackLoadingEvent(path string) TrackLoadingEvent {
	return TrackLoadingEvent{
		baseEvent: newBaseEvent(),
		Path:      path,
	}
}

// TrackLoadedEvent is published when a track is successfully loaded.
type TrackLoadedEvent struct {
	baseEvent
	Track    Track
	Envelope Envelope
}

// Type returns the event type.
func (e TrackLoadedEvent) Type() EventType {
	return EventTrackLoaded
}

// NewTrackLoadedEvent creates a new TrackLoadedEvent.
func NewTrackLoadedEvent(track Track, envelope Envelope) TrackLoadedEvent {
	return TrackLoadedEvent{
		baseEvent: newBaseEvent(),
		Track:     track,
		Envelope:  envelope,
	}
}

// TrackErrorEvent is published when loading fails or playback of a track
// ends because of unrecoverable corruption.
type TrackErrorEvent struct {
	baseEvent
	Path  string
	Error error
}

// Type returns the event type.
func (e TrackErrorEvent) Type() EventType {
	return EventTrackError
}

// NewTrackErrorEvent creates a new TrackErrorEvent.
func NewTrackErrorEvent(path string, err error) TrackErrorEvent {
	return TrackErrorEvent{
		baseEvent: newBaseEvent(),
		Path:      path,
		Error:     err,
	}
}

// PlaybackStartedEvent is published when playback starts.
type PlaybackStartedEvent struct {
	baseEvent
	Position int64
}

// Type returns the event type.
func (e PlaybackStartedEvent) Type() EventType {
	return EventPlaybackStarted
}

// NewPlaybackStartedEvent creates a new PlaybackStartedEvent.
func NewPlaybackStartedEvent(position int64) PlaybackStartedEvent {
	return PlaybackStartedEvent{
		baseEvent: newBaseEvent(),
		Position:  position,
	}
}

// PlaybackPausedEvent is published when playback is paused.
type PlaybackPausedEvent struct {
	baseEvent
	Position int64
}

// Type returns the event type.
func (e PlaybackPausedEvent) Type() EventType {
	return EventPlaybackPaused
}

// NewPlaybackPausedEvent creates a new PlaybackPausedEvent.
func NewPlaybackPausedEvent(position int64) PlaybackPausedEvent {
	return PlaybackPausedEvent{
		baseEvent: newBaseEvent(),
		Position:  position,
	}
}

// PlaybackCompletedEvent is published when playback reaches the end of the
// track with no active loop.
type PlaybackCompletedEvent struct {
	baseEvent
	Position int64
}

// Type returns the event type.
func (e PlaybackCompletedEvent) Type() EventType {
	return EventPlaybackCompleted
}

// NewPlaybackCompletedEvent creates a new PlaybackCompletedEvent.
func NewPlaybackCompletedEvent(position int64) PlaybackCompletedEvent {
	return PlaybackCompletedEvent{
		baseEvent: newBaseEvent(),
		Position:  position,
	}
}

// PlaybackProgressEvent is published periodically while a track is loaded.
type PlaybackProgressEvent struct {
	baseEvent
	Position  int64
	Total     int64
	Elapsed   time.Duration
	Duration  time.Duration
	Underruns uint64
}

// Type returns the event type.
func (e PlaybackProgressEvent) Type() EventType {
	return EventPlaybackProgress
}

// NewPlaybackProgressEvent creates a new PlaybackProgressEvent.
func NewPlaybackProgressEvent(track Track, position int64, underruns uint64) PlaybackProgressEvent {
	return PlaybackProgressEvent{
		baseEvent: newBaseEvent(),
		Position:  position,
		Total:     track.TotalFrames,
		Elapsed:   track.FramesToDuration(position),
		Duration:  track.Duration(),
		Underruns: underruns,
	}
}

// LoopChangedEvent is published whenever a loop marker changes.
type LoopChangedEvent struct {
	baseEvent
	Loop LoopRegion
}

// Type returns the event type.
func (e LoopChangedEvent) Type() EventType {
	return EventLoopChanged
}

// NewLoopChangedEvent creates a new LoopChangedEvent.
func NewLoopChangedEvent(loop LoopRegion) LoopChangedEvent {
	return LoopChangedEvent{
		baseEvent: newBaseEvent(),
		Loop:      loop,
	}
}

// StretchChangedEvent is published when speed or pitch change.
type StretchChangedEvent struct {
	baseEvent
	Params StretchParams
}

// Type returns the event type.
func (e StretchChangedEvent) Type() EventType {
	return EventStretchChanged
}

// NewStretchChangedEvent creates a new StretchChangedEvent.
func NewStretchChangedEvent(params StretchParams) StretchChangedEvent {
	return StretchChangedEvent{
		baseEvent: newBaseEvent(),
		Params:    params,
	}
}

// VolumeChangedEvent is published when the volume changes.
type VolumeChangedEvent struct {
	baseEvent
	Volume float64 // 0.0 to 2.0
}

// Type returns the event type.
func (e VolumeChangedEvent) Type() EventType {
	return EventVolumeChanged
}

// NewVolumeChangedEvent creates a new VolumeChangedEvent.
func NewVolumeChangedEvent(volume float64) VolumeChangedEvent {
	return VolumeChangedEvent{
		baseEvent: newBaseEvent(),
		Volume:    volume,
	}
}
