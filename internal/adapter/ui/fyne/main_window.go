package fyne

import (
	"fmt"
	"math"
	"sync"

	fyneapp "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/tejashwikalptaru/reh/internal/adapter/ui/fyne/widgets"
	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/ports"
	"github.com/tejashwikalptaru/reh/res"
)

// Window geometry.
const (
	WIDTH  = 550
	HEIGHT = 350
)

// MainWindow is the main UI window implementing the UIView interface.
// It handles all UI rendering and user interactions.
//
// The MainWindow follows the MVP pattern:
// - It's a "dumb view" that just displays data
// - All business logic is in the Presenter
// - User interactions are forwarded to the Presenter
//
// View methods may be called from any goroutine; they hop to the UI thread
// with fyne.Do.
type MainWindow struct {
	app    fyneapp.App
	window fyneapp.Window

	// UI components
	openButton   *widget.Button
	playButton   *widget.Button
	resetButton  *widget.Button
	startButton  *widget.Button
	endButton    *widget.Button
	clearButton  *widget.Button
	pathLabel    *widget.Label
	timeLabel    *widget.Label
	loopLabel    *widget.Label
	loadingLabel *widget.Label
	speedLabel   *widget.Label
	pitchLabel   *widget.Label
	volumeLabel  *widget.Label
	speedSlider  *widget.Slider
	pitchSlider  *widget.Slider
	volumeSlider *widget.Slider
	waveform     *widgets.Waveform

	// Lifecycle management
	closeOnce sync.Once

	// Presenter (set after construction)
	presenter *Presenter
}

// NewMainWindow creates a new main window.
func NewMainWindow(app fyneapp.App) *MainWindow {
	w := &MainWindow{
		app: app,
	}

	w.window = app.NewWindow(AppName)
	w.buildUI()
	w.window.Resize(fyneapp.NewSize(WIDTH, HEIGHT))

	return w
}

// SetPresenter connects the presenter to this view.
// This must be called before showing the window.
func (w *MainWindow) SetPresenter(presenter *Presenter) {
	w.presenter = presenter
	w.wirePresenterHandlers()
	w.addShortcuts()
}

// buildUI constructs the UI components.
func (w *MainWindow) buildUI() {
	w.openButton = widget.NewButtonWithIcon("Open File", theme.FolderOpenIcon(), nil)
	w.pathLabel = widget.NewLabel("")
	w.pathLabel.Truncation = fyneapp.TextTruncateEllipsis
	w.pathLabel.Alignment = fyneapp.TextAlignCenter
	w.timeLabel = widget.NewLabel(formatTimes(0, 0))
	w.timeLabel.Alignment = fyneapp.TextAlignCenter
	w.loadingLabel = widget.NewLabel("Loading...")
	w.loadingLabel.Hide()

	w.waveform = widgets.NewWaveform()

	// Speed and pitch sliders move in log2 space so 1x sits in the middle.
	w.speedSlider = widget.NewSlider(math.Log2(domain.MinSpeed), math.Log2(domain.MaxSpeed))
	w.speedSlider.Step = 0.01
	w.pitchSlider = widget.NewSlider(math.Log2(domain.MinPitch), math.Log2(domain.MaxPitch))
	w.pitchSlider.Step = 0.01
	w.volumeSlider = widget.NewSlider(0, 2)
	w.volumeSlider.Step = 0.01
	w.speedLabel = widget.NewLabel(factorText("Speed", 1))
	w.pitchLabel = widget.NewLabel(factorText("Pitch", 1))
	w.volumeLabel = widget.NewLabel(factorText("Volume", 1))

	sliders := container.New(
		layout.NewFormLayout(),
		w.speedLabel, w.speedSlider,
		w.pitchLabel, w.pitchSlider,
		w.volumeLabel, w.volumeSlider,
	)

	w.playButton = widget.NewButtonWithIcon("Play", theme.MediaPlayIcon(), nil)
	w.resetButton = widget.NewButton("Reset", nil)
	w.startButton = widget.NewButton("[ Set Start", nil)
	w.endButton = widget.NewButton("] Set End", nil)
	w.clearButton = widget.NewButton("Clear Loop", nil)
	w.loopLabel = widget.NewLabel("")

	buttons := container.NewHBox(
		w.playButton, w.resetButton, widget.NewSeparator(),
		w.startButton, w.endButton, w.clearButton, widget.NewSeparator(),
		w.loopLabel,
	)

	header := container.NewVBox(
		container.NewCenter(w.openButton),
		w.pathLabel,
		w.timeLabel,
	)
	footer := container.NewVBox(sliders, buttons)
	body := container.NewBorder(header, footer, nil, nil,
		container.NewStack(w.waveform, container.NewCenter(w.loadingLabel)))
	w.window.SetContent(container.NewPadded(body))

	w.window.SetMainMenu(fyneapp.NewMainMenu(w.createMenu()...))
}

// wirePresenterHandlers connects UI events to presenter handlers.
func (w *MainWindow) wirePresenterHandlers() {
	if w.presenter == nil {
		return
	}
	p := w.presenter

	w.openButton.OnTapped = w.handleOpenFile
	w.playButton.OnTapped = p.OnPlayPauseClicked
	w.resetButton.OnTapped = p.OnResetStretch
	w.startButton.OnTapped = p.OnLoopStartHere
	w.endButton.OnTapped = p.OnLoopEndHere
	w.clearButton.OnTapped = p.OnClearLoop

	w.speedSlider.OnChanged = func(value float64) {
		p.OnSpeedChanged(math.Exp2(value))
	}
	w.pitchSlider.OnChanged = func(value float64) {
		p.OnPitchChanged(math.Exp2(value))
	}
	w.volumeSlider.OnChanged = p.OnVolumeChanged

	w.waveform.OnSeek = p.OnSeekRequested
	w.waveform.OnLoopMoved = p.OnLoopMoved
	w.waveform.OnMarkerDragged = func(marker widgets.Marker, frame int64) {
		switch marker {
		case widgets.MarkerStart:
			p.OnLoopStartDragged(frame)
		case widgets.MarkerEnd:
			p.OnLoopEndDragged(frame)
		}
	}
}

// createMenu creates the application menu.
func (w *MainWindow) createMenu() []*fyneapp.Menu {
	openFile := fyneapp.NewMenuItem("Open", w.handleOpenFile)
	fileMenu := fyneapp.NewMenu("File", openFile)

	shortcuts := fyneapp.NewMenuItem("Keyboard Shortcuts", func() {
		w.showMarkdown("Keyboard Shortcuts", res.ShortcutsContent)
	})
	about := fyneapp.NewMenuItem("About", func() {
		w.showMarkdown("About "+AppName, res.AboutContent)
	})
	helpMenu := fyneapp.NewMenu("Help", shortcuts, about)

	return []*fyneapp.Menu{fileMenu, helpMenu}
}

func (w *MainWindow) showMarkdown(title, content string) {
	text := widget.NewRichTextFromMarkdown(content)
	text.Wrapping = fyneapp.TextWrapWord
	d := dialog.NewCustom(title, "Close", container.NewVScroll(text), w.window)
	d.Resize(fyneapp.NewSize(WIDTH-50, HEIGHT-30))
	d.Show()
}

// handleOpenFile handles the "Open File" action.
func (w *MainWindow) handleOpenFile() {
	if w.presenter == nil {
		return
	}
	NewFileDialog(w.window, w.presenter.OnFileOpened, w.presenter.logger).Show()
}

// addShortcuts adds keyboard shortcuts.
func (w *MainWindow) addShortcuts() {
	c := w.window.Canvas()
	p := w.presenter

	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyneapp.KeyO, Modifier: fyneapp.KeyModifierShortcutDefault},
		func(fyneapp.Shortcut) { w.handleOpenFile() })
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyneapp.KeyLeft, Modifier: fyneapp.KeyModifierShortcutDefault},
		func(fyneapp.Shortcut) { p.OnShiftLoop(-1) })
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyneapp.KeyRight, Modifier: fyneapp.KeyModifierShortcutDefault},
		func(fyneapp.Shortcut) { p.OnShiftLoop(1) })

	c.SetOnTypedKey(func(e *fyneapp.KeyEvent) {
		handleKey(p, e.Name)
	})
	c.SetOnTypedRune(func(r rune) {
		handleRune(p, r)
	})
}

// handleKey maps non-character keys to commands.
func handleKey(p *Presenter, key fyneapp.KeyName) {
	switch key {
	case fyneapp.KeyLeft:
		p.OnSkip(-1)
	case fyneapp.KeyRight:
		p.OnSkip(1)
	case fyneapp.KeyHome:
		p.OnRewindToZero()
	case fyneapp.KeyEscape:
		p.OnQuit()
	}
}

// handleRune maps typed characters to commands. Shift+[ and Shift+] arrive
// as braces.
func handleRune(p *Presenter, r rune) {
	switch r {
	case ' ':
		p.OnPlayPauseClicked()
	case '[':
		p.OnLoopStartHere()
	case ']':
		p.OnLoopEndHere()
	case '{':
		p.OnClearLoopStart()
	case '}':
		p.OnClearLoopEnd()
	case 'c', 'C':
		p.OnClearLoop()
	case 'r', 'R':
		p.OnResetStretch()
	case 'q', 'Q':
		p.OnQuit()
	case '0':
		p.OnRewindToZero()
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		p.OnRewindBy(int(r - '0'))
	}
}

// ShowAndRun shows the window and runs the application.
func (w *MainWindow) ShowAndRun() {
	w.window.ShowAndRun()
}

// Close closes the window.
// It's safe to call multiple times (idempotent).
func (w *MainWindow) Close() {
	w.closeOnce.Do(func() {
		w.window.Close()
	})
}

// GetWindow returns the underlying Fyne window.
func (w *MainWindow) GetWindow() fyneapp.Window {
	return w.window
}

// UIView interface implementation

// SetTitle updates the window title.
func (w *MainWindow) SetTitle(title string) {
	fyneapp.Do(func() {
		w.window.SetTitle(title)
	})
}

// SetLoading shows or hides the loading indicator.
func (w *MainWindow) SetLoading(loading bool) {
	fyneapp.Do(func() {
		if loading {
			w.loadingLabel.Show()
		} else {
			w.loadingLabel.Hide()
		}
	})
}

// SetTrack shows the path and installs a new envelope.
func (w *MainWindow) SetTrack(path string, totalFrames int64, envelope domain.Envelope) {
	fyneapp.Do(func() {
		w.pathLabel.SetText(path)
		w.waveform.SetTrack(totalFrames, envelope)
	})
}

// SetPosition moves the cursor and updates the time label.
func (w *MainWindow) SetPosition(frame int64, text string) {
	fyneapp.Do(func() {
		w.waveform.SetCursor(frame)
		w.timeLabel.SetText(text)
	})
}

// SetLoop redraws the loop and updates its label.
func (w *MainWindow) SetLoop(loop domain.LoopRegion, text string) {
	fyneapp.Do(func() {
		w.waveform.SetLoop(loop)
		w.loopLabel.SetText(text)
	})
}

// SetPlayState updates the play/pause button state.
func (w *MainWindow) SetPlayState(playing bool) {
	fyneapp.Do(func() {
		if playing {
			w.playButton.SetText("Pause")
			w.playButton.SetIcon(theme.MediaPauseIcon())
		} else {
			w.playButton.SetText("Play")
			w.playButton.SetIcon(theme.MediaPlayIcon())
		}
	})
}

// SetStretch moves the speed and pitch sliders without firing their handlers.
func (w *MainWindow) SetStretch(speed, pitch float64) {
	fyneapp.Do(func() {
		w.speedSlider.Value = math.Log2(speed)
		w.speedSlider.Refresh()
		w.speedLabel.SetText(factorText("Speed", speed))
		w.pitchSlider.Value = math.Log2(pitch)
		w.pitchSlider.Refresh()
		w.pitchLabel.SetText(factorText("Pitch", pitch))
	})
}

// SetVolume moves the volume slider without firing its handler.
func (w *MainWindow) SetVolume(volume float64) {
	fyneapp.Do(func() {
		w.volumeSlider.Value = volume
		w.volumeSlider.Refresh()
		w.volumeLabel.SetText(factorText("Volume", volume))
	})
}

// ShowError displays an error dialog.
func (w *MainWindow) ShowError(title, message string) {
	fyneapp.Do(func() {
		dialog.ShowInformation(title, message, w.window)
	})
}

// Quit closes the application.
func (w *MainWindow) Quit() {
	fyneapp.Do(func() {
		w.app.Quit()
	})
}

func factorText(name string, value float64) string {
	return fmt.Sprintf("%s %.2fx", name, value)
}

// Verify UIView implementation
var _ ports.UIView = (*MainWindow)(nil)
