package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fyne.io/fyne/v2/test"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	config := DefaultConfig()
	config.UseMockAudio = true // Use mock for testing
	config.TestFyneApp = test.NewApp()

	app, err := NewApplication(config)
	require.NoError(t, err)
	require.NotNil(t, app)
	return app
}

func writeTestWAV(t *testing.T, seconds int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "take.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, seconds*44100)
	for i := range data {
		data[i] = (i % 200) * 100
	}
	enc := wav.NewEncoder(f, 44100, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 44100},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestNewApplication(t *testing.T) {
	app := newTestApplication(t)

	assert.NotNil(t, app.GetPlaybackService())
	assert.NotNil(t, app.GetEventBus())
	assert.NotNil(t, app.GetFyneApp())

	snap := app.GetPlaybackService().Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Nil(t, snap.Track)

	assert.NoError(t, app.Shutdown())
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "com.tejashwi.reh", config.AppID)
	assert.Equal(t, 44100, config.DeviceSampleRate)
	assert.Equal(t, 2, config.DeviceChannels)
	assert.Equal(t, 50*time.Millisecond, config.DeviceBuffer)
	assert.Equal(t, 300*time.Millisecond, config.BufferDuration)
	assert.Equal(t, 1000, config.EnvelopeBuckets)
	assert.False(t, config.UseMockAudio)
	assert.Empty(t, config.InitialFile)
}

func TestApplicationLifecycle(t *testing.T) {
	app := newTestApplication(t)

	// Run would normally block, but we're not calling it in test

	assert.NoError(t, app.Shutdown())

	// Shutdown again should not panic
	assert.NoError(t, app.Shutdown())
}

func TestApplicationOpenFile(t *testing.T) {
	app := newTestApplication(t)
	defer app.Shutdown()

	path := writeTestWAV(t, 2)
	app.OpenFile(path)

	playback := app.GetPlaybackService()
	require.Eventually(t, func() bool {
		return playback.Snapshot().Track != nil
	}, 5*time.Second, 10*time.Millisecond)

	snap := playback.Snapshot()
	assert.Equal(t, path, snap.Track.Path)
	assert.Equal(t, int64(2*44100), snap.Track.TotalFrames)
	assert.Len(t, playback.Envelope().Peaks, 1000)

	// The mock device pulls in real time, so the first track plays.
	assert.Eventually(t, func() bool {
		return playback.Snapshot().Position > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestApplicationOpenMissingFile(t *testing.T) {
	app := newTestApplication(t)
	defer app.Shutdown()

	errs := make(chan domain.Event, 1)
	app.GetEventBus().Subscribe(domain.EventTrackError, func(e domain.Event) {
		errs <- e
	})

	app.OpenFile(filepath.Join(t.TempDir(), "missing.wav"))

	select {
	case e := <-errs:
		assert.ErrorIs(t, e.(domain.TrackErrorEvent).Error, domain.ErrIO)
	case <-time.After(5 * time.Second):
		t.Fatal("no track error published")
	}
	assert.Nil(t, app.GetPlaybackService().Snapshot().Track)
}
