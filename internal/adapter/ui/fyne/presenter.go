// Package fyne provides Fyne UI adapter implementations.
// This package implements the UI layer using the Fyne toolkit.
package fyne

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/ports"
)

// AppName is shown in the window title.
const AppName = "Reh"

// Presenter implements the Presenter pattern (MVP architecture).
// It coordinates between the playback controller and the view.
//
// Responsibilities:
// - Subscribe to events from the event bus
// - Map domain events to view updates
// - Translate UI commands to controller calls
//
// Thread-safety: All operations are thread-safe via sync.RWMutex.
type Presenter struct {
	// Dependencies
	logger     *slog.Logger
	controller ports.PlaybackController
	eventBus   ports.EventBus
	view       ports.UIView

	// Presentation state
	track         *domain.Track
	subscriptions []domain.SubscriptionID

	// Concurrency control
	mu           sync.RWMutex
	loads        sync.WaitGroup
	shutdownOnce sync.Once
}

// NewPresenter creates a new presenter and syncs the view with the controller.
func NewPresenter(
	logger *slog.Logger,
	controller ports.PlaybackController,
	eventBus ports.EventBus,
	view ports.UIView,
) *Presenter {
	p := &Presenter{
		logger:     logger,
		controller: controller,
		eventBus:   eventBus,
		view:       view,
	}

	p.subscribeToEvents()
	p.syncInitialState()

	return p
}

// subscribeToEvents subscribes to all relevant events from the event bus.
func (p *Presenter) subscribeToEvents() {
	subscriptions := map[domain.EventType]domain.EventHandler{
		// Track events
		domain.EventTrackLoading: p.onTrackLoading,
		domain.EventTrackLoaded:  p.onTrackLoaded,
		domain.EventTrackError:   p.onTrackError,

		// Playback events
		domain.EventPlaybackStarted:   p.onPlaybackStarted,
		domain.EventPlaybackPaused:    p.onPlaybackStopped,
		domain.EventPlaybackCompleted: p.onPlaybackStopped,
		domain.EventPlaybackProgress:  p.onPlaybackProgress,

		// Control events
		domain.EventLoopChanged:    p.onLoopChanged,
		domain.EventStretchChanged: p.onStretchChanged,
		domain.EventVolumeChanged:  p.onVolumeChanged,
	}

	for eventType, handler := range subscriptions {
		p.subscriptions = append(p.subscriptions, p.eventBus.Subscribe(eventType, handler))
	}
}

// syncInitialState synchronizes the view with the current playback state.
func (p *Presenter) syncInitialState() {
	snap := p.controller.Snapshot()

	p.view.SetVolume(snap.Volume)
	p.view.SetStretch(snap.Stretch.Speed(), snap.Stretch.PitchRatio)
	p.view.SetPlayState(snap.Status == domain.StatusPlaying)
	p.view.SetLoading(snap.Status == domain.StatusLoading)

	if snap.Track == nil {
		p.view.SetTitle(AppName)
		return
	}

	p.mu.Lock()
	p.track = snap.Track
	p.mu.Unlock()

	p.view.SetTitle(windowTitle(*snap.Track))
	p.view.SetPosition(snap.Position, timeText(*snap.Track, snap.Position))
	p.view.SetLoop(snap.Loop, loopText(*snap.Track, snap.Loop))
}

// Event handlers

func (p *Presenter) onTrackLoading(domain.Event) {
	p.view.SetLoading(true)
}

func (p *Presenter) onTrackLoaded(event domain.Event) {
	e, ok := event.(domain.TrackLoadedEvent)
	if !ok {
		return
	}

	track := e.Track
	p.mu.Lock()
	p.track = &track
	p.mu.Unlock()

	p.view.SetLoading(false)
	p.view.SetTitle(windowTitle(track))
	p.view.SetTrack(track.Path, track.TotalFrames, e.Envelope)
	p.view.SetPosition(0, timeText(track, 0))
	p.view.SetLoop(domain.UnsetLoop(), loopText(track, domain.UnsetLoop()))
	p.view.SetPlayState(false)
}

func (p *Presenter) onTrackError(event domain.Event) {
	e, ok := event.(domain.TrackErrorEvent)
	if !ok {
		return
	}

	p.view.SetLoading(false)
	p.view.ShowError("Cannot play file", errorMessage(e.Path, e.Error))
}

func (p *Presenter) onPlaybackStarted(domain.Event) {
	p.view.SetPlayState(true)
}

func (p *Presenter) onPlaybackStopped(domain.Event) {
	p.view.SetPlayState(false)
}

func (p *Presenter) onPlaybackProgress(event domain.Event) {
	e, ok := event.(domain.PlaybackProgressEvent)
	if !ok {
		return
	}
	p.view.SetPosition(e.Position, formatTimes(e.Elapsed.Seconds(), e.Duration.Seconds()))
}

func (p *Presenter) onLoopChanged(event domain.Event) {
	e, ok := event.(domain.LoopChangedEvent)
	if !ok {
		return
	}

	track := p.currentTrack()
	if track == nil {
		return
	}
	p.view.SetLoop(e.Loop, loopText(*track, e.Loop))
}

func (p *Presenter) onStretchChanged(event domain.Event) {
	e, ok := event.(domain.StretchChangedEvent)
	if !ok {
		return
	}
	p.view.SetStretch(e.Params.Speed(), e.Params.PitchRatio)
}

func (p *Presenter) onVolumeChanged(event domain.Event) {
	e, ok := event.(domain.VolumeChangedEvent)
	if !ok {
		return
	}
	p.view.SetVolume(e.Volume)
}

func (p *Presenter) currentTrack() *domain.Track {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.track
}

// UI Command handlers (called by UI)

// OnFileOpened loads path in the background; the result arrives as events.
func (p *Presenter) OnFileOpened(path string) {
	p.loads.Add(1)
	go func() {
		defer p.loads.Done()
		// Failures are reported through the TrackError event.
		_ = p.controller.LoadFile(path)
	}()
}

// OnPlayPauseClicked toggles playback.
func (p *Presenter) OnPlayPauseClicked() {
	p.run("play/pause", p.controller.TogglePlayPause())
}

// OnSeekRequested seeks to frame, from a click or a scrub on the waveform.
func (p *Presenter) OnSeekRequested(frame int64) {
	p.run("seek", p.controller.SeekTo(frame))
}

// OnRewindToZero seeks to the start of the track.
func (p *Presenter) OnRewindToZero() {
	p.run("rewind", p.controller.RewindToZero())
}

// OnRewindBy moves back by seconds (the digit keys).
func (p *Presenter) OnRewindBy(seconds int) {
	p.run("rewind", p.controller.RewindBy(float64(seconds)))
}

// OnSkip moves 5 seconds forward or back.
func (p *Presenter) OnSkip(direction int) {
	p.run("skip", p.controller.SkipBy(5*float64(direction)))
}

// OnLoopStartHere places the loop start at the cursor.
func (p *Presenter) OnLoopStartHere() {
	p.run("set loop start", p.controller.SetLoopStartAtCursor())
}

// OnLoopEndHere places the loop end at the cursor.
func (p *Presenter) OnLoopEndHere() {
	p.run("set loop end", p.controller.SetLoopEndAtCursor())
}

func (p *Presenter) OnClearLoopStart() {
	p.run("clear loop start", p.controller.ClearLoopStart())
}

func (p *Presenter) OnClearLoopEnd() {
	p.run("clear loop end", p.controller.ClearLoopEnd())
}

func (p *Presenter) OnClearLoop() {
	p.run("clear loop", p.controller.ClearLoop())
}

// OnLoopStartDragged and OnLoopEndDragged follow a marker drag on the waveform.
func (p *Presenter) OnLoopStartDragged(frame int64) {
	p.run("drag loop start", p.controller.DragLoopStart(frame))
}

func (p *Presenter) OnLoopEndDragged(frame int64) {
	p.run("drag loop end", p.controller.DragLoopEnd(frame))
}

// OnLoopMoved follows a ctrl-drag that moves the whole loop.
func (p *Presenter) OnLoopMoved(start int64) {
	p.run("move loop", p.controller.MoveLoop(start))
}

// OnShiftLoop moves the loop by its width.
func (p *Presenter) OnShiftLoop(direction int) {
	p.run("shift loop", p.controller.ShiftLoop(direction))
}

// OnSpeedChanged handles the speed slider.
func (p *Presenter) OnSpeedChanged(speed float64) {
	p.run("set speed", p.controller.SetSpeed(speed))
}

// OnPitchChanged handles the pitch slider.
func (p *Presenter) OnPitchChanged(pitch float64) {
	p.run("set pitch", p.controller.SetPitch(pitch))
}

// OnResetStretch restores speed and pitch.
func (p *Presenter) OnResetStretch() {
	p.run("reset stretch", p.controller.ResetStretch())
}

// OnVolumeChanged handles the volume slider.
func (p *Presenter) OnVolumeChanged(volume float64) {
	p.run("set volume", p.controller.SetVolume(volume))
}

// OnQuit closes the application.
func (p *Presenter) OnQuit() {
	p.view.Quit()
}

// run logs a failed command. Commands issued before any file is open are
// expected and ignored.
func (p *Presenter) run(op string, err error) {
	if err == nil || errors.Is(err, domain.ErrNoTrackLoaded) {
		return
	}
	p.logger.Error(op+" failed", slog.Any("error", err))
	p.view.ShowError("Playback Error", fmt.Sprintf("Failed to %s: %v", op, err))
}

// Shutdown unsubscribes from the bus and waits for pending loads.
// It's safe to call multiple times (idempotent).
func (p *Presenter) Shutdown() {
	p.shutdownOnce.Do(func() {
		for _, id := range p.subscriptions {
			p.eventBus.Unsubscribe(id)
		}
		p.loads.Wait()
	})
}
