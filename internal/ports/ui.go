// Package ports define the UI interface for view abstraction.
// This interface allows the presenter to update the UI without depending on Fyne directly.
package ports

import (
	"github.com/tejashwikalptaru/reh/internal/domain"
)

// UIView is the passive view driven by the presenter.
//
// The presenter receives events from the event bus, formats them, and calls
// these methods. Events arrive on whatever goroutine published them, so
// implementations marshal the calls onto their UI thread themselves.
type UIView interface {
	// SetTitle updates the window title.
	SetTitle(title string)

	// SetLoading shows or hides the loading indicator.
	SetLoading(loading bool)

	// SetTrack installs a freshly loaded track: its file path, its length in
	// frames and its waveform envelope.
	SetTrack(path string, totalFrames int64, envelope domain.Envelope)

	// SetPosition moves the waveform cursor to frame and shows text as the time label.
	SetPosition(frame int64, text string)

	// SetLoop redraws the loop markers and shows text as the loop label.
	SetLoop(loop domain.LoopRegion, text string)

	// SetPlayState updates the play/pause button.
	SetPlayState(playing bool)

	// SetStretch moves the speed and pitch sliders.
	SetStretch(speed, pitch float64)

	// SetVolume moves the volume slider (0 to 2).
	SetVolume(volume float64)

	// ShowError displays an error to the user.
	ShowError(title, message string)

	// Quit closes the application.
	Quit()
}
