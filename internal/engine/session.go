package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/ports"
)

// DefaultBlockFrames is the largest block the sample buffer stores.
const DefaultBlockFrames = 4096

// SessionConfig sizes the pipeline of one track.
type SessionConfig struct {
	// DeviceRate and DeviceChannels describe the output the engine renders for.
	DeviceRate     int
	DeviceChannels int

	// BufferDuration is the audio held between the producer and the callback.
	BufferDuration time.Duration

	// MaxCallbackFrames is the largest request the callback serves in one pass.
	MaxCallbackFrames int

	// OnError receives unrecoverable decode errors from the producer goroutine.
	OnError func(error)
}

// Session is the playback pipeline of one loaded track: decoder, producer,
// sample buffer, transport, loop controller and the per-track callback state.
type Session struct {
	track     domain.Track
	decoder   ports.Decoder
	state     *SharedState
	buffer    *SampleBuffer
	loop      *LoopController
	transport *Transport
	producer  *Producer
	render    *renderer
	logger    *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSession builds the pipeline for track, which was opened as dec. The
// session takes ownership of dec. Allocation happens here, not on the callback.
func NewSession(track domain.Track, dec ports.Decoder, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	if track.SampleRate <= 0 || track.Channels <= 0 {
		return nil, fmt.Errorf("track %q has rate %d and %d channels: %w",
			track.Path, track.SampleRate, track.Channels, domain.ErrUnsupportedFormat)
	}
	if cfg.DeviceRate <= 0 || cfg.DeviceChannels <= 0 {
		return nil, fmt.Errorf("invalid device format %d Hz, %d channels", cfg.DeviceRate, cfg.DeviceChannels)
	}
	if cfg.MaxCallbackFrames <= 0 {
		cfg.MaxCallbackFrames = 4096
	}

	capacity := int(cfg.BufferDuration.Seconds() * float64(track.SampleRate))
	if capacity < 2*DefaultBlockFrames {
		capacity = 2 * DefaultBlockFrames
	}

	logger = logger.With(slog.String("track", track.ID))
	state := NewSharedState(track.TotalFrames)
	buffer := NewSampleBuffer(track.Channels, DefaultBlockFrames, capacity)
	cursor := newDecodeCursor(dec, state)
	transport := newTransport(cursor, buffer, state, track.SampleRate, logger)

	s := &Session{
		track:     track,
		decoder:   dec,
		state:     state,
		buffer:    buffer,
		loop:      NewLoopController(state),
		transport: transport,
		producer:  newProducer(cursor, buffer, state, transport, logger, cfg.OnError),
		render: newRenderer(state, buffer, track.SampleRate, track.Channels,
			cfg.DeviceRate, cfg.DeviceChannels, cfg.MaxCallbackFrames),
		logger: logger,
	}
	return s, nil
}

// Start launches the producer goroutine. Playback stays paused.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.producer.Run(ctx)
	}()
}

// Close stops the producer and releases the decoder.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.playing.Store(false)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		err = s.decoder.Close()
	})
	return err
}

// Track returns the loaded track.
func (s *Session) Track() domain.Track {
	return s.track
}

// State returns the shared playback state.
func (s *Session) State() *SharedState {
	return s.state
}

// Buffer returns the sample buffer.
func (s *Session) Buffer() *SampleBuffer {
	return s.buffer
}

// Loop returns the loop controller.
func (s *Session) Loop() *LoopController {
	return s.loop
}

// Transport returns the transport controller.
func (s *Session) Transport() *Transport {
	return s.transport
}
