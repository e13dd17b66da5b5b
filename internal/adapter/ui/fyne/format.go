package fyne

import (
	"errors"
	"fmt"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

func windowTitle(track domain.Track) string {
	return AppName + " – " + track.DisplayTitle()
}

// timeText renders "cur : total" in seconds.
func timeText(track domain.Track, frame int64) string {
	return formatTimes(track.FramesToDuration(frame).Seconds(), track.Duration().Seconds())
}

func formatTimes(current, total float64) string {
	return fmt.Sprintf("%.2fs : %.2fs", current, total)
}

// loopText renders the loop label. Unset markers read as the track bounds.
func loopText(track domain.Track, loop domain.LoopRegion) string {
	start, end := loop.Start, loop.End
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = track.TotalFrames
	}
	return fmt.Sprintf("Loop: %.2fs - %.2fs",
		track.FramesToDuration(start).Seconds(),
		track.FramesToDuration(end).Seconds())
}

func errorMessage(path string, err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return fmt.Sprintf("%s is not a supported audio format.\n\n%v", path, err)
	case errors.Is(err, domain.ErrIO), errors.Is(err, domain.ErrInvalidFilePath):
		return fmt.Sprintf("%s could not be read.\n\n%v", path, err)
	default:
		return fmt.Sprintf("Playback of %s stopped.\n\n%v", path, err)
	}
}
