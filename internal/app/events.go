package app

import (
	"context"
	"log/slog"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// logEvent returns a bus handler that traces state changes at debug level.
// Progress ticks are skipped.
func logEvent(log *slog.Logger) domain.EventHandler {
	return func(event domain.Event) {
		var attrs []slog.Attr
		switch e := event.(type) {
		case domain.PlaybackProgressEvent:
			return
		case domain.TrackLoadingEvent:
			attrs = append(attrs, slog.String("path", e.Path))
		case domain.TrackLoadedEvent:
			attrs = append(attrs,
				slog.String("path", e.Track.Path),
				slog.String("codec", e.Track.Codec),
				slog.Int64("frames", e.Track.TotalFrames))
		case domain.TrackErrorEvent:
			attrs = append(attrs, slog.String("path", e.Path), slog.Any("error", e.Error))
		case domain.PlaybackStartedEvent:
			attrs = append(attrs, slog.Int64("position", e.Position))
		case domain.LoopChangedEvent:
			attrs = append(attrs,
				slog.Int64("start", e.Loop.Start),
				slog.Int64("end", e.Loop.End),
				slog.String("state", e.Loop.State.String()))
		case domain.StretchChangedEvent:
			attrs = append(attrs,
				slog.Float64("time_ratio", e.Params.TimeRatio),
				slog.Float64("pitch_ratio", e.Params.PitchRatio))
		case domain.VolumeChangedEvent:
			attrs = append(attrs, slog.Float64("volume", e.Volume))
		}
		log.LogAttrs(context.Background(), slog.LevelDebug, "event", append(attrs, slog.String("type", string(event.Type())))...)
	}
}
