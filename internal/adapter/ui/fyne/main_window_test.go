package fyne

import (
	"math"
	"testing"

	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"

	"github.com/tejashwikalptaru/reh/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/logger"
)

func newTestMainWindow(t *testing.T) (*MainWindow, *fakeController) {
	t.Helper()
	a := test.NewApp()
	t.Cleanup(a.Quit)

	w := NewMainWindow(a)
	controller := &fakeController{snapshot: domain.Snapshot{
		Status:  domain.StatusIdle,
		Loop:    domain.UnsetLoop(),
		Stretch: domain.DefaultStretch(),
		Volume:  1,
	}}
	p := NewPresenter(logger.NewTestLogger(), controller, eventbus.New(), w)
	w.SetPresenter(p)
	t.Cleanup(p.Shutdown)
	return w, controller
}

func TestMainWindow_Buttons(t *testing.T) {
	w, controller := newTestMainWindow(t)

	test.Tap(w.playButton)
	test.Tap(w.startButton)
	test.Tap(w.endButton)
	test.Tap(w.clearButton)
	test.Tap(w.resetButton)

	assert.Equal(t, []string{
		"toggle", "loop start here", "loop end here", "clear loop", "reset",
	}, controller.Calls())
}

func TestMainWindow_Sliders(t *testing.T) {
	w, controller := newTestMainWindow(t)

	// Programmatic updates do not echo back as commands.
	w.SetStretch(2, 0.5)
	w.SetVolume(1.5)
	assert.Empty(t, controller.Calls())
	assert.InDelta(t, 1.0, w.speedSlider.Value, 1e-9)
	assert.InDelta(t, -1.0, w.pitchSlider.Value, 1e-9)
	assert.Equal(t, "Speed 2.00x", w.speedLabel.Text)
	assert.Equal(t, "Volume 1.50x", w.volumeLabel.Text)

	w.speedSlider.OnChanged(math.Log2(0.5))
	w.volumeSlider.OnChanged(0.5)
	assert.Equal(t, []string{"speed 0.50", "volume 0.50"}, controller.Calls())
}

func TestMainWindow_ViewUpdates(t *testing.T) {
	w, _ := newTestMainWindow(t)

	w.SetTrack("/music/take.wav", 441000, domain.Envelope{Peaks: []float32{1}})
	w.SetPosition(44100, "1.00s : 10.00s")
	w.SetLoop(domain.LoopRegion{Start: 0, End: 44100, State: domain.LoopActive}, "Loop: 0.00s - 1.00s")
	w.SetPlayState(true)
	w.SetLoading(true)

	assert.Equal(t, "/music/take.wav", w.pathLabel.Text)
	assert.Equal(t, "1.00s : 10.00s", w.timeLabel.Text)
	assert.Equal(t, "Loop: 0.00s - 1.00s", w.loopLabel.Text)
	assert.Equal(t, "Pause", w.playButton.Text)
	assert.True(t, w.loadingLabel.Visible())

	w.SetLoading(false)
	w.SetPlayState(false)
	assert.False(t, w.loadingLabel.Visible())
	assert.Equal(t, "Play", w.playButton.Text)
}

func TestMainWindow_WaveformSeeks(t *testing.T) {
	w, controller := newTestMainWindow(t)

	w.waveform.OnSeek(1234)
	w.waveform.OnLoopMoved(50)
	assert.Equal(t, []string{"seek 1234", "move 50"}, controller.Calls())
}
