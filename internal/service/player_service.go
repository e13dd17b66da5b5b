// Package service provides the orchestration layer of the Reh practice player.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/engine"
	"github.com/tejashwikalptaru/reh/internal/ports"
)

// PlaybackConfig sizes the pipelines the service builds for each track.
type PlaybackConfig struct {
	// DeviceRate and DeviceChannels describe the output the engine renders for.
	DeviceRate     int
	DeviceChannels int

	// BufferDuration is the audio decoded ahead of the device.
	BufferDuration time.Duration

	// EnvelopeBuckets is the resolution of the waveform envelope.
	EnvelopeBuckets int

	// MaxCallbackFrames is the largest device request served in one pass.
	MaxCallbackFrames int

	// UpdateInterval is the period of progress events.
	UpdateInterval time.Duration
}

// DefaultPlaybackConfig returns the settings used by the desktop player.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		DeviceRate:        44100,
		DeviceChannels:    2,
		BufferDuration:    300 * time.Millisecond,
		EnvelopeBuckets:   1000,
		MaxCallbackFrames: 4096,
		UpdateInterval:    333 * time.Millisecond, // 3 times per second
	}
}

// PlaybackService orchestrates loading, transport, loop and stretch commands.
// It owns the session attached to the engine and publishes every state change
// on the event bus.
//
// Commands take the service lock only long enough to find the session; the
// engine components they call are safe for concurrent use.
type PlaybackService struct {
	// Dependencies (injected)
	logger   *slog.Logger
	factory  ports.DecoderFactory
	metadata ports.MetadataReader
	engine   *engine.Engine
	bus      ports.EventBus
	cfg      PlaybackConfig

	// State
	session  *engine.Session
	envelope domain.Envelope
	stretch  domain.StretchParams
	loading  bool

	// Concurrency control
	mu       sync.RWMutex
	loadMu   sync.Mutex // serializes LoadFile
	ctx      context.Context
	cancel   context.CancelFunc
	updateWg sync.WaitGroup
	shutdown sync.Once
}

// NewPlaybackService creates a playback service and starts its progress routine.
// The engine must already be feeding an output device.
func NewPlaybackService(
	logger *slog.Logger,
	factory ports.DecoderFactory,
	metadata ports.MetadataReader,
	eng *engine.Engine,
	bus ports.EventBus,
	cfg PlaybackConfig,
) *PlaybackService {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultPlaybackConfig().UpdateInterval
	}
	if cfg.EnvelopeBuckets <= 0 {
		cfg.EnvelopeBuckets = DefaultPlaybackConfig().EnvelopeBuckets
	}
	if cfg.MaxCallbackFrames < eng.MaxFrames() {
		cfg.MaxCallbackFrames = eng.MaxFrames()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PlaybackService{
		logger:   logger.With(slog.String("component", "playback")),
		factory:  factory,
		metadata: metadata,
		engine:   eng,
		bus:      bus,
		cfg:      cfg,
		stretch:  domain.DefaultStretch(),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.logger.Debug("playback service initialized")
	s.startUpdateRoutine()
	return s
}

// LoadFile opens path, computes its envelope and swaps it in as the current
// track. The previous track keeps playing until the new one is ready and is
// left untouched if loading fails.
//
// The new track starts playing when nothing was loaded before or the previous
// track was playing.
func (s *PlaybackService) LoadFile(path string) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.logger.Debug("loading file", slog.String("path", path))
	s.setLoading(true)
	defer s.setLoading(false)
	s.bus.Publish(domain.NewTrackLoadingEvent(path))

	session, envelope, err := s.openSession(path)
	if err != nil {
		err = domain.NewEngineError("load", path, err)
		s.logger.Warn("failed to load file", slog.String("path", path), slog.Any("error", err))
		s.bus.Publish(domain.NewTrackErrorEvent(path, err))
		return err
	}

	s.mu.Lock()
	previous := s.session
	autoplay := previous == nil || previous.State().Playing()
	s.session = session
	s.envelope = envelope
	s.mu.Unlock()

	if autoplay {
		if err := session.Transport().Play(); err != nil {
			s.logger.Warn("failed to start playback", slog.Any("error", err))
			autoplay = false
		}
	}
	s.engine.Attach(session)
	if previous != nil {
		if err := previous.Close(); err != nil {
			s.logger.Warn("failed to close previous track", slog.Any("error", err))
		}
	}

	track := session.Track()
	s.logger.Info("track loaded",
		slog.String("path", path),
		slog.String("codec", track.Codec),
		slog.Duration("duration", track.Duration()))

	s.bus.Publish(domain.NewTrackLoadedEvent(track, envelope))
	if autoplay {
		s.bus.Publish(domain.NewPlaybackStartedEvent(session.Transport().Position()))
	}
	return nil
}

// openSession builds a started, unattached session for path.
func (s *PlaybackService) openSession(path string) (*engine.Session, domain.Envelope, error) {
	dec, err := s.factory.Open(path)
	if err != nil {
		return nil, domain.Envelope{}, err
	}

	envelope, frames, err := engine.ComputeEnvelope(s.ctx, dec, s.cfg.EnvelopeBuckets)
	if err != nil {
		_ = dec.Close()
		return nil, domain.Envelope{}, fmt.Errorf("scan audio: %w", err)
	}
	if frames == 0 {
		_ = dec.Close()
		return nil, domain.Envelope{}, fmt.Errorf("no audio frames: %w", domain.ErrUnsupportedFormat)
	}
	if _, err := dec.SeekTo(0); err != nil {
		_ = dec.Close()
		return nil, domain.Envelope{}, fmt.Errorf("rewind after scan: %w", err)
	}

	track := dec.Track()
	if frames != track.TotalFrames {
		s.logger.Debug("container length differs from decoded length",
			slog.Int64("header", track.TotalFrames),
			slog.Int64("decoded", frames))
		track.TotalFrames = frames
	}

	if s.metadata != nil {
		meta, err := s.metadata.ReadMetadata(path)
		if err != nil {
			s.logger.Debug("no metadata", slog.String("path", path), slog.Any("error", err))
		}
		track.Metadata = meta
	}

	var session *engine.Session
	onError := func(err error) {
		s.logger.Error("decoding stopped", slog.String("path", path), slog.Any("error", err))
		session.Transport().Pause()
		s.bus.Publish(domain.NewTrackErrorEvent(path, err))
	}

	session, err = engine.NewSession(track, dec, engine.SessionConfig{
		DeviceRate:        s.cfg.DeviceRate,
		DeviceChannels:    s.cfg.DeviceChannels,
		BufferDuration:    s.cfg.BufferDuration,
		MaxCallbackFrames: s.cfg.MaxCallbackFrames,
		OnError:           onError,
	}, s.logger)
	if err != nil {
		_ = dec.Close()
		return nil, domain.Envelope{}, err
	}

	s.mu.RLock()
	session.State().SetStretch(s.stretch)
	s.mu.RUnlock()

	session.Start(s.ctx)
	return session, envelope, nil
}

func (s *PlaybackService) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

// current returns the loaded session or ErrNoTrackLoaded.
func (s *PlaybackService) current() (*engine.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil, domain.ErrNoTrackLoaded
	}
	return s.session, nil
}

// Play starts or resumes playback of the current track.
func (s *PlaybackService) Play() error {
	session, err := s.current()
	if err != nil {
		return err
	}
	if session.State().Playing() {
		return nil
	}
	if err := session.Transport().Play(); err != nil {
		return err
	}
	s.bus.Publish(domain.NewPlaybackStartedEvent(session.Transport().Position()))
	return nil
}

// Pause pauses playback of the current track.
func (s *PlaybackService) Pause() error {
	session, err := s.current()
	if err != nil {
		return err
	}
	if !session.State().Playing() {
		return nil
	}
	session.Transport().Pause()
	s.bus.Publish(domain.NewPlaybackPausedEvent(session.Transport().Position()))
	return nil
}

// TogglePlayPause plays when paused and pauses when playing.
func (s *PlaybackService) TogglePlayPause() error {
	session, err := s.current()
	if err != nil {
		return err
	}
	if session.State().Playing() {
		return s.Pause()
	}
	return s.Play()
}

// SeekTo seeks to frame, clamped to the track.
func (s *PlaybackService) SeekTo(frame int64) error {
	return s.seek(func(t *engine.Transport) (int64, error) { return t.SeekTo(frame) })
}

// SeekFraction seeks to a fraction of the track.
func (s *PlaybackService) SeekFraction(fraction float64) error {
	return s.seek(func(t *engine.Transport) (int64, error) { return t.SeekFraction(fraction) })
}

// RewindToZero seeks to the first frame.
func (s *PlaybackService) RewindToZero() error {
	return s.seek((*engine.Transport).RewindToZero)
}

// RewindBy moves back by seconds.
func (s *PlaybackService) RewindBy(seconds float64) error {
	return s.seek(func(t *engine.Transport) (int64, error) { return t.RewindBy(seconds) })
}

// SkipBy moves by seconds, forward when positive.
func (s *PlaybackService) SkipBy(seconds float64) error {
	return s.seek(func(t *engine.Transport) (int64, error) { return t.SkipBy(seconds) })
}

func (s *PlaybackService) seek(fn func(t *engine.Transport) (int64, error)) error {
	session, err := s.current()
	if err != nil {
		return err
	}
	reached, err := fn(session.Transport())
	if err != nil {
		s.logger.Warn("seek failed", slog.Any("error", err))
		return err
	}
	s.bus.Publish(domain.NewPlaybackProgressEvent(session.Track(), reached, session.State().Underruns()))
	return nil
}

// SetLoopStart places the loop start marker.
func (s *PlaybackService) SetLoopStart(frame int64) error {
	return s.loop(func(l *engine.LoopController) domain.LoopRegion { return l.SetStart(frame) })
}

// SetLoopEnd places the loop end marker.
func (s *PlaybackService) SetLoopEnd(frame int64) error {
	return s.loop(func(l *engine.LoopController) domain.LoopRegion { return l.SetEnd(frame) })
}

// SetLoopStartAtCursor places the loop start marker at the playback position.
func (s *PlaybackService) SetLoopStartAtCursor() error {
	session, err := s.current()
	if err != nil {
		return err
	}
	return s.SetLoopStart(session.Transport().Position())
}

// SetLoopEndAtCursor places the loop end marker at the playback position.
func (s *PlaybackService) SetLoopEndAtCursor() error {
	session, err := s.current()
	if err != nil {
		return err
	}
	return s.SetLoopEnd(session.Transport().Position())
}

// ClearLoopStart removes the start marker. An active loop stops looping and
// keeps its end marker.
func (s *PlaybackService) ClearLoopStart() error {
	return s.loop((*engine.LoopController).ClearStart)
}

// ClearLoopEnd removes the end marker. An active loop stops looping and keeps
// its start marker.
func (s *PlaybackService) ClearLoopEnd() error {
	return s.loop((*engine.LoopController).ClearEnd)
}

// ClearLoop removes both markers.
func (s *PlaybackService) ClearLoop() error {
	return s.loop((*engine.LoopController).Clear)
}

// DragLoopStart moves the start marker while it is being dragged.
func (s *PlaybackService) DragLoopStart(frame int64) error {
	return s.loop(func(l *engine.LoopController) domain.LoopRegion { return l.DragStart(frame) })
}

// DragLoopEnd moves the end marker while it is being dragged.
func (s *PlaybackService) DragLoopEnd(frame int64) error {
	return s.loop(func(l *engine.LoopController) domain.LoopRegion { return l.DragEnd(frame) })
}

// MoveLoop moves the loop window so it starts at start.
func (s *PlaybackService) MoveLoop(start int64) error {
	return s.loop(func(l *engine.LoopController) domain.LoopRegion { return l.MoveWindow(start) })
}

// ShiftLoop moves the loop window by its own width.
func (s *PlaybackService) ShiftLoop(direction int) error {
	if direction != -1 && direction != 1 {
		return domain.NewValidationError("direction", direction, "must be -1 or 1")
	}
	return s.loop(func(l *engine.LoopController) domain.LoopRegion { return l.Shift(direction) })
}

func (s *PlaybackService) loop(fn func(l *engine.LoopController) domain.LoopRegion) error {
	session, err := s.current()
	if err != nil {
		return err
	}
	region := fn(session.Loop())
	s.bus.Publish(domain.NewLoopChangedEvent(region))
	return nil
}

// SetSpeed changes the playback speed, keeping the pitch.
func (s *PlaybackService) SetSpeed(speed float64) error {
	return s.updateStretch(func(p domain.StretchParams) domain.StretchParams {
		return domain.StretchFromSpeed(speed, p.PitchRatio)
	})
}

// SetPitch changes the pitch ratio, keeping the speed.
func (s *PlaybackService) SetPitch(pitch float64) error {
	return s.updateStretch(func(p domain.StretchParams) domain.StretchParams {
		return domain.StretchFromSpeed(p.Speed(), pitch)
	})
}

// ResetStretch restores speed and pitch to 1.
func (s *PlaybackService) ResetStretch() error {
	return s.updateStretch(func(domain.StretchParams) domain.StretchParams {
		return domain.DefaultStretch()
	})
}

// updateStretch applies to the current track and to every track loaded later.
func (s *PlaybackService) updateStretch(fn func(domain.StretchParams) domain.StretchParams) error {
	s.mu.Lock()
	s.stretch = fn(s.stretch)
	params := s.stretch
	session := s.session
	s.mu.Unlock()

	if session != nil {
		session.State().SetStretch(params)
	}
	s.bus.Publish(domain.NewStretchChangedEvent(params))
	return nil
}

// SetVolume sets the output gain, clamped to [0, 2].
func (s *PlaybackService) SetVolume(volume float64) error {
	s.engine.SetVolume(volume)
	s.bus.Publish(domain.NewVolumeChangedEvent(s.engine.Volume()))
	return nil
}

// Snapshot returns the current playback state.
func (s *PlaybackService) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Status:  domain.StatusIdle,
		Loop:    domain.UnsetLoop(),
		Stretch: s.stretch,
		Volume:  s.engine.Volume(),
	}
	if s.session == nil {
		if s.loading {
			snap.Status = domain.StatusLoading
		}
		return snap
	}

	track := s.session.Track()
	snap.Track = &track
	snap.Status = s.session.Transport().Status()
	snap.Position = s.session.Transport().Position()
	snap.Loop = s.session.Loop().Snapshot()
	return snap
}

// Envelope returns the waveform of the current track.
func (s *PlaybackService) Envelope() domain.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.envelope
}

// Shutdown stops the progress routine and releases the current track.
func (s *PlaybackService) Shutdown() error {
	var err error
	s.shutdown.Do(func() {
		s.cancel()
		s.updateWg.Wait()

		// Wait for an in-flight load so its session is not leaked.
		s.loadMu.Lock()
		defer s.loadMu.Unlock()

		s.mu.Lock()
		session := s.session
		s.session = nil
		s.mu.Unlock()

		if session == nil {
			return
		}
		s.engine.Detach()
		err = session.Close()
	})
	return err
}

// startUpdateRoutine starts a goroutine that periodically publishes progress events.
func (s *PlaybackService) startUpdateRoutine() {
	s.updateWg.Add(1)
	go func() {
		defer s.updateWg.Done()
		ticker := time.NewTicker(s.cfg.UpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.publishProgressUpdate()
			}
		}
	}()
}

// publishProgressUpdate reports the position and, once, the end of the track.
func (s *PlaybackService) publishProgressUpdate() {
	session, err := s.current()
	if err != nil {
		return
	}

	state := session.State()
	position := state.Position()
	if state.TakeCompleted() {
		s.logger.Debug("track completed", slog.Int64("position", position))
		s.bus.Publish(domain.NewPlaybackCompletedEvent(position))
	}
	if !s.bus.HasSubscribers(domain.EventPlaybackProgress) {
		return
	}
	s.bus.Publish(domain.NewPlaybackProgressEvent(session.Track(), position, state.Underruns()))
}

var _ ports.PlaybackController = (*PlaybackService)(nil)
