package service

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/reh/internal/adapter/audio/mock"
	"github.com/tejashwikalptaru/reh/internal/adapter/decoder"
	"github.com/tejashwikalptaru/reh/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/reh/internal/adapter/metadata"
	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/engine"
	"github.com/tejashwikalptaru/reh/internal/logger"
	"github.com/tejashwikalptaru/reh/internal/testutil"
)

const testRate = 44100

// eventLog records published events; handlers may run on the progress goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) record(e domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t domain.EventType) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Event
	for _, e := range l.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// Helper to create a test playback service on a manual device
func newTestPlaybackService(t *testing.T) (*PlaybackService, *mock.Device, *eventLog) {
	t.Helper()
	log := logger.NewTestLogger()
	eng := engine.NewEngine(2, 1024)
	device := mock.NewManualDevice(testRate, 2)
	require.NoError(t, device.Start(eng))

	bus := eventbus.New()
	events := &eventLog{}
	bus.SubscribeAll(events.record)

	cfg := DefaultPlaybackConfig()
	cfg.UpdateInterval = 10 * time.Millisecond
	cfg.EnvelopeBuckets = 100

	service := NewPlaybackService(log, decoder.NewFactory(log), metadata.NewReader(), eng, bus, cfg)
	t.Cleanup(func() {
		_ = service.Shutdown()
		_ = device.Close()
	})
	return service, device, events
}

// writeMonoWAV encodes a 16-bit mono sawtooth of the given length.
func writeMonoWAV(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "take.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, frames)
	for i := range data {
		data[i] = i%2000 - 1000
	}
	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

// writeALawWAV writes a WAVE file carrying G.711 A-law, which is not decoded.
func writeALawWAV(t *testing.T) string {
	t.Helper()
	data := make([]byte, 8000)
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(4+8+16+8+len(data)))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(6))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint32(8000))
	_ = binary.Write(&b, binary.LittleEndian, uint32(8000))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(8))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)

	path := filepath.Join(t.TempDir(), "alaw.wav")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
	return path
}

// pullUntil feeds the engine from the device until cond holds.
func pullUntil(t *testing.T, device *mock.Device, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if _, err := device.Pull(512); err != nil {
			return false
		}
		return cond()
	}, 5*time.Second, time.Millisecond)
}

func TestPlaybackService_LoadFile(t *testing.T) {
	service, _, events := newTestPlaybackService(t)

	path := writeMonoWAV(t, 10*testRate)
	require.NoError(t, service.LoadFile(path))

	snap := service.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, path, snap.Track.Path)
	assert.Equal(t, int64(10*testRate), snap.Track.TotalFrames)
	assert.Equal(t, 1, snap.Track.Channels)
	assert.Equal(t, domain.StatusPlaying, snap.Status, "first track starts playing")
	assert.Equal(t, domain.UnsetLoop(), snap.Loop)
	assert.Equal(t, 100, service.Envelope().Len())

	require.Len(t, events.ofType(domain.EventTrackLoading), 1)
	loaded := events.ofType(domain.EventTrackLoaded)
	require.Len(t, loaded, 1)
	assert.Equal(t, snap.Track.ID, loaded[0].(domain.TrackLoadedEvent).Track.ID)
	assert.Len(t, events.ofType(domain.EventPlaybackStarted), 1)
}

func TestPlaybackService_UnsupportedCodecKeepsPreviousTrack(t *testing.T) {
	service, device, events := newTestPlaybackService(t)

	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate)))
	before := service.Snapshot()
	require.NotNil(t, before.Track)

	err := service.LoadFile(writeALawWAV(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
	var engineErr *domain.EngineError
	assert.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "load", engineErr.Op)

	after := service.Snapshot()
	require.NotNil(t, after.Track)
	assert.Equal(t, before.Track.ID, after.Track.ID)
	assert.Equal(t, domain.StatusPlaying, after.Status)

	failures := events.ofType(domain.EventTrackError)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].(domain.TrackErrorEvent).Error, domain.ErrUnsupportedFormat)

	// The previous track is still rendered.
	start := service.Snapshot().Position
	pullUntil(t, device, func() bool { return service.Snapshot().Position > start })
}

func TestPlaybackService_LoadFile_Missing(t *testing.T) {
	service, _, _ := newTestPlaybackService(t)

	err := service.LoadFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Nil(t, service.Snapshot().Track)
	assert.Equal(t, domain.StatusIdle, service.Snapshot().Status)
}

func TestPlaybackService_CommandsWithoutTrack(t *testing.T) {
	service, _, _ := newTestPlaybackService(t)

	commands := map[string]func() error{
		"play":         service.Play,
		"pause":        service.Pause,
		"toggle":       service.TogglePlayPause,
		"rewind":       service.RewindToZero,
		"seek":         func() error { return service.SeekTo(10) },
		"fraction":     func() error { return service.SeekFraction(0.5) },
		"skip":         func() error { return service.SkipBy(5) },
		"loop start":   service.SetLoopStartAtCursor,
		"loop end":     func() error { return service.SetLoopEnd(100) },
		"clear loop":   service.ClearLoop,
		"move loop":    func() error { return service.MoveLoop(0) },
		"shift loop":   func() error { return service.ShiftLoop(1) },
		"drag loop":    func() error { return service.DragLoopStart(5) },
		"clear marker": service.ClearLoopEnd,
	}
	for name, cmd := range commands {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cmd(), domain.ErrNoTrackLoaded)
		})
	}

	// Mixer and stretch settings do not need a track.
	assert.NoError(t, service.SetVolume(0.5))
	assert.NoError(t, service.SetSpeed(0.5))
}

func TestPlaybackService_SeekTenSecondFile(t *testing.T) {
	service, device, events := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, 10*testRate)))

	require.NoError(t, service.SeekTo(220500))
	reached := service.Snapshot().Position
	assert.LessOrEqual(t, reached, int64(220500))
	assert.Greater(t, reached, int64(0))

	progress := events.ofType(domain.EventPlaybackProgress)
	require.NotEmpty(t, progress)

	last := reached
	for i := 0; i < 5; i++ {
		pullUntil(t, device, func() bool { return service.Snapshot().Position > last })
		pos := service.Snapshot().Position
		assert.Greater(t, pos, last)
		last = pos
	}
}

func TestPlaybackService_SeekClamps(t *testing.T) {
	service, _, _ := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate)))
	require.NoError(t, service.Pause())

	require.NoError(t, service.SeekTo(10*testRate))
	assert.LessOrEqual(t, service.Snapshot().Position, int64(testRate-1))

	require.NoError(t, service.SeekTo(-50))
	assert.Equal(t, int64(0), service.Snapshot().Position)

	require.NoError(t, service.SkipBy(0.5))
	assert.LessOrEqual(t, service.Snapshot().Position, int64(testRate/2))

	require.NoError(t, service.RewindToZero())
	assert.Equal(t, int64(0), service.Snapshot().Position)
}

func TestPlaybackService_PlayPauseToggle(t *testing.T) {
	service, _, events := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate)))
	require.Equal(t, domain.StatusPlaying, service.Snapshot().Status)

	require.NoError(t, service.TogglePlayPause())
	assert.Equal(t, domain.StatusPaused, service.Snapshot().Status)
	require.NoError(t, service.Pause())
	assert.Len(t, events.ofType(domain.EventPlaybackPaused), 1, "pausing twice publishes once")

	require.NoError(t, service.TogglePlayPause())
	assert.Equal(t, domain.StatusPlaying, service.Snapshot().Status)
	assert.Len(t, events.ofType(domain.EventPlaybackStarted), 2)
}

func TestPlaybackService_PausedTrackLoadsPaused(t *testing.T) {
	service, _, _ := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate)))
	require.NoError(t, service.Pause())

	require.NoError(t, service.LoadFile(writeMonoWAV(t, 2*testRate)))
	snap := service.Snapshot()
	assert.Equal(t, int64(2*testRate), snap.Track.TotalFrames)
	assert.Equal(t, domain.StatusPaused, snap.Status)
}

func TestPlaybackService_LoopCommands(t *testing.T) {
	service, device, events := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, 10*testRate)))

	require.NoError(t, service.SetLoopStart(0))
	assert.Equal(t, domain.LoopPartial, service.Snapshot().Loop.State)
	require.NoError(t, service.SetLoopEnd(testRate))
	loop := service.Snapshot().Loop
	assert.Equal(t, domain.LoopActive, loop.State)
	assert.Equal(t, int64(0), loop.Start)
	assert.Equal(t, int64(testRate), loop.End)

	// Play through the loop several times; the cursor stays inside it.
	for i := 0; i < 40; i++ {
		_, err := device.Pull(4096)
		require.NoError(t, err)
		assert.LessOrEqual(t, service.Snapshot().Position, int64(testRate))
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, service.ShiftLoop(1))
	loop = service.Snapshot().Loop
	assert.Equal(t, int64(testRate), loop.Start)
	assert.Equal(t, int64(2*testRate), loop.End)

	require.NoError(t, service.MoveLoop(3*testRate))
	assert.Equal(t, int64(3*testRate), service.Snapshot().Loop.Start)

	require.NoError(t, service.DragLoopEnd(5*testRate))
	assert.Equal(t, int64(5*testRate), service.Snapshot().Loop.End)

	require.NoError(t, service.ClearLoopStart())
	assert.Equal(t, domain.LoopPartial, service.Snapshot().Loop.State)
	assert.Equal(t, int64(5*testRate), service.Snapshot().Loop.End)
	require.NoError(t, service.ClearLoop())
	assert.Equal(t, domain.LoopUnset, service.Snapshot().Loop.State)

	changes := events.ofType(domain.EventLoopChanged)
	require.Len(t, changes, 7)
	assert.Equal(t, domain.UnsetLoop(), changes[6].(domain.LoopChangedEvent).Loop)

	var validation *domain.ValidationError
	assert.True(t, errors.As(service.ShiftLoop(2), &validation))
}

func TestPlaybackService_ClearLoopEndKeepsStart(t *testing.T) {
	service, _, _ := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, 10*testRate)))

	require.NoError(t, service.SetLoopStart(testRate))
	require.NoError(t, service.SetLoopEnd(2*testRate))
	require.NoError(t, service.ClearLoopEnd())

	loop := service.Snapshot().Loop
	assert.Equal(t, domain.LoopPartial, loop.State)
	assert.Equal(t, int64(testRate), loop.Start)
	assert.Equal(t, domain.NoMarker, loop.End)
}

func TestPlaybackService_LoopAtCursor(t *testing.T) {
	service, _, _ := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, 10*testRate)))
	require.NoError(t, service.Pause())

	require.NoError(t, service.SeekTo(2*testRate))
	at := service.Snapshot().Position
	require.NoError(t, service.SetLoopStartAtCursor())
	require.NoError(t, service.SeekTo(4*testRate))
	require.NoError(t, service.SetLoopEndAtCursor())

	loop := service.Snapshot().Loop
	assert.Equal(t, domain.LoopActive, loop.State)
	assert.Equal(t, at, loop.Start)
	assert.Equal(t, service.Snapshot().Position, loop.End)
}

func TestPlaybackService_Stretch(t *testing.T) {
	service, _, events := newTestPlaybackService(t)

	require.NoError(t, service.SetSpeed(2))
	assert.InDelta(t, 2.0, service.Snapshot().Stretch.Speed(), 1e-9)

	require.NoError(t, service.SetPitch(5))
	stretch := service.Snapshot().Stretch
	assert.Equal(t, domain.MaxPitch, stretch.PitchRatio)
	assert.InDelta(t, 2.0, stretch.Speed(), 1e-9, "pitch keeps speed")

	// Settings carry over to a newly loaded track.
	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate)))
	service.mu.RLock()
	applied := service.session.State().Stretch()
	service.mu.RUnlock()
	assert.Equal(t, stretch, applied)

	require.NoError(t, service.ResetStretch())
	assert.True(t, service.Snapshot().Stretch.IsIdentity())
	assert.Len(t, events.ofType(domain.EventStretchChanged), 3)
}

func TestPlaybackService_Volume(t *testing.T) {
	service, _, events := newTestPlaybackService(t)

	require.NoError(t, service.SetVolume(5))
	assert.Equal(t, 2.0, service.Snapshot().Volume)
	require.NoError(t, service.SetVolume(-1))
	assert.Equal(t, 0.0, service.Snapshot().Volume)

	changes := events.ofType(domain.EventVolumeChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, 2.0, changes[0].(domain.VolumeChangedEvent).Volume)
}

func TestPlaybackService_Completion(t *testing.T) {
	service, device, events := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate/10)))

	pullUntil(t, device, func() bool {
		return len(events.ofType(domain.EventPlaybackCompleted)) == 1
	})

	snap := service.Snapshot()
	assert.Equal(t, domain.StatusPaused, snap.Status)
	assert.Equal(t, int64(testRate/10-1), snap.Position)

	// Playing from the end starts over.
	require.NoError(t, service.Play())
	assert.Equal(t, int64(0), service.Snapshot().Position)
}

func TestPlaybackService_Progress(t *testing.T) {
	service, _, events := newTestPlaybackService(t)
	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate)))

	require.Eventually(t, func() bool {
		return len(events.ofType(domain.EventPlaybackProgress)) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	progress := events.ofType(domain.EventPlaybackProgress)
	assert.Equal(t, int64(testRate), progress[0].(domain.PlaybackProgressEvent).Total)
}

func TestPlaybackService_CompletionWithoutProgressListeners(t *testing.T) {
	log := logger.NewTestLogger()
	eng := engine.NewEngine(2, 1024)
	device := mock.NewManualDevice(testRate, 2)
	require.NoError(t, device.Start(eng))

	bus := eventbus.New()
	events := &eventLog{}
	bus.Subscribe(domain.EventPlaybackCompleted, events.record)

	cfg := DefaultPlaybackConfig()
	cfg.UpdateInterval = 10 * time.Millisecond
	cfg.EnvelopeBuckets = 100
	service := NewPlaybackService(log, decoder.NewFactory(log), metadata.NewReader(), eng, bus, cfg)
	t.Cleanup(func() {
		_ = service.Shutdown()
		_ = device.Close()
	})

	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate/10)))
	pullUntil(t, device, func() bool {
		return len(events.ofType(domain.EventPlaybackCompleted)) == 1
	})
	assert.False(t, bus.HasSubscribers(domain.EventPlaybackProgress))
}

func TestPlaybackService_ShutdownReleasesGoroutines(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	log := logger.NewTestLogger()
	eng := engine.NewEngine(2, 1024)
	bus := eventbus.New()
	service := NewPlaybackService(log, decoder.NewFactory(log), metadata.NewReader(), eng, bus, DefaultPlaybackConfig())

	require.NoError(t, service.LoadFile(writeMonoWAV(t, testRate)))
	require.NoError(t, service.Shutdown())
	require.NoError(t, service.Shutdown())

	assert.Nil(t, eng.Session())
	assert.Nil(t, service.Snapshot().Track)
	assert.Error(t, service.LoadFile(writeMonoWAV(t, testRate)))
}
