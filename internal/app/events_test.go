package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/logger"
)

func TestLogEvent(t *testing.T) {
	log, out := logger.NewCaptureLogger(slog.LevelDebug)
	handle := logEvent(log)

	handle(domain.NewLoopChangedEvent(domain.LoopRegion{Start: 100, End: 900, State: domain.LoopActive}))
	handle(domain.NewVolumeChangedEvent(0.75))
	handle(domain.NewPlaybackProgressEvent(domain.Track{TotalFrames: 1000}, 10, 0))

	lines := out.Lines()
	require.Len(t, lines, 2, "progress ticks are not logged")
	assert.Contains(t, lines[0], "type=loop.changed")
	assert.Contains(t, lines[0], "start=100")
	assert.Contains(t, lines[0], "end=900")
	assert.Contains(t, lines[1], "volume=0.75")
}
