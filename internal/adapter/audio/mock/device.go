// Package mock provides a virtual implementation of the OutputDevice interface.
// This is used for running and testing without a sound card.
package mock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// DefaultPeriod is how often a running device pulls from its reader.
const DefaultPeriod = 10 * time.Millisecond

// Device is a virtual output device. It pulls float32 frames from its reader
// at the device rate and discards them, like a sound card would consume them.
//
// A manual device never pulls on its own; tests drive it with Pull.
//
// Thread-safety: This implementation is thread-safe.
type Device struct {
	// Dependencies
	logger *slog.Logger

	// Configuration
	rate     int
	channels int
	period   time.Duration
	manual   bool

	mu      sync.Mutex
	reader  io.Reader
	started bool
	closed  bool
	buf     []byte
	stop    chan struct{}
	done    chan struct{}

	pulled atomic.Int64

	// Behavior configuration (for testing error scenarios)
	failStart bool
}

// NewDevice creates a device that pulls every DefaultPeriod once started.
func NewDevice(rate, channels int) *Device {
	return &Device{
		rate:     rate,
		channels: channels,
		period:   DefaultPeriod,
		logger:   slog.New(slog.DiscardHandler),
	}
}

// NewManualDevice creates a device that only pulls when Pull is called.
func NewManualDevice(rate, channels int) *Device {
	d := NewDevice(rate, channels)
	d.manual = true
	return d
}

// SetLogger sets the logger for this device.
// This should be called after construction before using the device.
func (d *Device) SetLogger(logger *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = logger
}

// SetFailStart configures the device to refuse Start (for testing).
func (d *Device) SetFailStart(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failStart = fail
}

// SampleRate returns the device rate in Hz.
func (d *Device) SampleRate() int {
	return d.rate
}

// Channels returns the device channel count.
func (d *Device) Channels() int {
	return d.channels
}

// Start begins pulling from r.
func (d *Device) Start(r io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failStart {
		return fmt.Errorf("mock device start failed: %w", domain.ErrDeviceUnavailable)
	}
	if d.started || d.closed {
		return errors.New("mock device already started")
	}

	d.reader = r
	d.started = true
	if d.manual {
		return nil
	}

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	frames := max(1, int(int64(d.rate)*int64(d.period)/int64(time.Second)))
	go d.run(frames)

	d.logger.Debug("mock device started",
		slog.Int("rate", d.rate),
		slog.Int("channels", d.channels),
		slog.Duration("period", d.period))
	return nil
}

func (d *Device) run(frames int) {
	defer close(d.done)

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if _, err := d.Pull(frames); err != nil {
				d.logger.Warn("mock device read failed", slog.Any("error", err))
			}
		}
	}
}

// Pull reads frames from the reader and returns them as interleaved floats.
func (d *Device) Pull(frames int) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.closed {
		return nil, errors.New("mock device not running")
	}

	size := frames * d.channels * 4
	if cap(d.buf) < size {
		d.buf = make([]byte, size)
	}
	buf := d.buf[:size]
	if _, err := io.ReadFull(d.reader, buf); err != nil {
		return nil, err
	}

	out := make([]float32, frames*d.channels)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	d.pulled.Add(int64(frames))
	return out, nil
}

// FramesPulled returns how many frames the device has consumed.
func (d *Device) FramesPulled() int64 {
	return d.pulled.Load()
}

// Close stops pulling. It is safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	stop, done := d.stop, d.done
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
