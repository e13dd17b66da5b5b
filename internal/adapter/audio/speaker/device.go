// Package speaker plays the engine output on the system sound card through oto.
package speaker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// bytesPerSample is the size of one float32 sample.
const bytesPerSample = 4

// Device is an oto output opened at a fixed rate and channel count.
// oto allows one context per process, so a Device is opened once per run.
type Device struct {
	logger   *slog.Logger
	rate     int
	channels int
	buffer   time.Duration

	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	started bool
	closed  bool
}

// NewDevice describes an output. Nothing is opened until Start.
// buffer is the device-side latency; smaller values mean more frequent callbacks.
func NewDevice(rate, channels int, buffer time.Duration, logger *slog.Logger) *Device {
	return &Device{
		logger:   logger,
		rate:     rate,
		channels: channels,
		buffer:   buffer,
	}
}

// SampleRate returns the device rate in Hz.
func (d *Device) SampleRate() int {
	return d.rate
}

// Channels returns the device channel count.
func (d *Device) Channels() int {
	return d.channels
}

// Start opens the sound card and begins pulling float32 frames from r.
func (d *Device) Start(r io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.closed {
		return errors.New("speaker already started")
	}

	op := &oto.NewContextOptions{
		SampleRate:   d.rate,
		ChannelCount: d.channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   d.buffer,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("open audio output: %w: %w", domain.ErrDeviceUnavailable, err)
	}
	<-ready

	player := ctx.NewPlayer(r)
	frames := int(int64(d.rate) * int64(d.buffer) / int64(time.Second))
	if frames > 0 {
		player.SetBufferSize(frames * d.channels * bytesPerSample)
	}
	player.Play()

	d.ctx = ctx
	d.player = player
	d.started = true

	d.logger.Info("audio output started",
		slog.Int("rate", d.rate),
		slog.Int("channels", d.channels),
		slog.Duration("buffer", d.buffer))
	return nil
}

// Close stops the player and suspends the context.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.player == nil {
		return nil
	}

	var errs []error
	if err := d.player.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close player: %w", err))
	}
	if err := d.ctx.Suspend(); err != nil {
		errs = append(errs, fmt.Errorf("suspend output: %w", err))
	}
	d.logger.Debug("audio output closed")
	return errors.Join(errs...)
}
