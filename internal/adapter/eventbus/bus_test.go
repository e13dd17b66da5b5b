package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/logger"
)

var testTrack = domain.Track{ID: "t1", Path: "/music/etude.wav", SampleRate: 48000, TotalFrames: 480000}

func progress(position int64) domain.Event {
	return domain.NewPlaybackProgressEvent(testTrack, position, 0)
}

func TestPublish_DeliversToTypeSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	var got []domain.Event
	id := bus.Subscribe(domain.EventTrackLoaded, func(e domain.Event) { got = append(got, e) })
	require.NotEmpty(t, id)

	bus.Publish(domain.NewTrackLoadedEvent(testTrack, domain.Envelope{}))
	bus.Publish(domain.NewVolumeChangedEvent(0.5))

	require.Len(t, got, 1)
	loaded, ok := got[0].(domain.TrackLoadedEvent)
	require.True(t, ok)
	assert.Equal(t, "t1", loaded.Track.ID)
}

func TestPublish_SubscriptionOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	var order []string
	bus.Subscribe(domain.EventLoopChanged, func(domain.Event) { order = append(order, "first") })
	bus.SubscribeAll(func(domain.Event) { order = append(order, "all") })
	bus.Subscribe(domain.EventLoopChanged, func(domain.Event) { order = append(order, "last") })

	bus.Publish(domain.NewLoopChangedEvent(domain.LoopRegion{}))
	assert.Equal(t, []string{"first", "all", "last"}, order)
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	var typed, all int
	typedID := bus.Subscribe(domain.EventVolumeChanged, func(domain.Event) { typed++ })
	allID := bus.SubscribeAll(func(domain.Event) { all++ })

	bus.Publish(domain.NewVolumeChangedEvent(1))
	bus.Unsubscribe(typedID)
	bus.Publish(domain.NewVolumeChangedEvent(1))
	bus.Unsubscribe(allID)
	bus.Publish(domain.NewVolumeChangedEvent(1))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)

	bus.Unsubscribe("unknown")
	bus.Unsubscribe(typedID)
}

func TestHasSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	assert.False(t, bus.HasSubscribers(domain.EventPlaybackProgress))

	id := bus.Subscribe(domain.EventPlaybackProgress, func(domain.Event) {})
	assert.True(t, bus.HasSubscribers(domain.EventPlaybackProgress))
	assert.False(t, bus.HasSubscribers(domain.EventTrackError))

	bus.Unsubscribe(id)
	assert.False(t, bus.HasSubscribers(domain.EventPlaybackProgress))

	bus.SubscribeAll(func(domain.Event) {})
	assert.True(t, bus.HasSubscribers(domain.EventTrackError))
}

func TestPublish_HandlerPanicIsLogged(t *testing.T) {
	log, out := logger.NewCaptureLogger(slog.LevelInfo)
	bus := New(WithLogger(log))
	defer bus.Close()

	var after int
	bus.Subscribe(domain.EventTrackError, func(domain.Event) { panic("view gone") })
	bus.Subscribe(domain.EventTrackError, func(domain.Event) { after++ })

	require.NotPanics(t, func() {
		bus.Publish(domain.NewTrackErrorEvent("/x.wav", domain.ErrIO))
	})
	assert.Equal(t, 1, after)
	assert.Contains(t, out.String(), "event handler panicked")
	assert.Contains(t, out.String(), "view gone")
}

func TestClose(t *testing.T) {
	bus := New()
	var calls int
	bus.SubscribeAll(func(domain.Event) { calls++ })

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Close(), ErrClosed)

	bus.Publish(domain.NewVolumeChangedEvent(1))
	assert.Zero(t, calls)
	assert.False(t, bus.HasSubscribers(domain.EventVolumeChanged))
	assert.Panics(t, func() { bus.SubscribeAll(func(domain.Event) {}) })
}

func TestSubscribe_RejectsMisuse(t *testing.T) {
	bus := New()
	defer bus.Close()

	assert.Panics(t, func() { bus.Subscribe(domain.EventTrackLoaded, nil) })
	assert.Panics(t, func() { bus.Subscribe("", func(domain.Event) {}) })
	assert.NotPanics(t, func() { bus.Publish(nil) })
}

// A view that is slow to redraw must not build a backlog of progress ticks.
func TestCoalesceLatest_SlowHandlerSeesNewestProgress(t *testing.T) {
	bus := New(CoalesceLatest(domain.EventPlaybackProgress))
	defer bus.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var positions []int64
	bus.Subscribe(domain.EventPlaybackProgress, func(e domain.Event) {
		p := e.(domain.PlaybackProgressEvent).Position
		mu.Lock()
		positions = append(positions, p)
		first := len(positions) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish(progress(100))
	}()
	<-entered

	// The drainer is busy; these return at once and only the last survives.
	bus.Publish(progress(200))
	bus.Publish(progress(300))
	bus.Publish(progress(400))
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not finish draining")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{100, 400}, positions)
}

func TestCoalesceLatest_OtherTypesAreNotDropped(t *testing.T) {
	bus := New(CoalesceLatest(domain.EventPlaybackProgress))
	defer bus.Close()

	var loops, ticks int
	bus.Subscribe(domain.EventLoopChanged, func(domain.Event) { loops++ })
	bus.Subscribe(domain.EventPlaybackProgress, func(domain.Event) { ticks++ })

	for i := 0; i < 5; i++ {
		bus.Publish(domain.NewLoopChangedEvent(domain.LoopRegion{}))
		bus.Publish(progress(int64(i)))
	}
	// Sequential publishes never overlap, so nothing coalesces.
	assert.Equal(t, 5, loops)
	assert.Equal(t, 5, ticks)
}

func TestCoalesceLatest_RepublishFromHandler(t *testing.T) {
	bus := New(CoalesceLatest(domain.EventPlaybackProgress))
	defer bus.Close()

	var seen []int64
	bus.Subscribe(domain.EventPlaybackProgress, func(e domain.Event) {
		p := e.(domain.PlaybackProgressEvent).Position
		seen = append(seen, p)
		if p < 3 {
			bus.Publish(progress(p + 1))
		}
	})

	bus.Publish(progress(0))
	assert.Equal(t, []int64{0, 1, 2, 3}, seen)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := New(CoalesceLatest(domain.EventPlaybackProgress))
	defer bus.Close()

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := bus.Subscribe(domain.EventPlaybackProgress, func(domain.Event) { delivered.Add(1) })
			bus.Unsubscribe(id)
			bus.SubscribeAll(func(domain.Event) { delivered.Add(1) })
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(progress(int64(i*50 + j)))
				bus.Publish(domain.NewVolumeChangedEvent(0.5))
			}
		}(i)
	}
	wg.Wait()

	// Every publisher has returned, so no coalesced event is left pending.
	before := delivered.Load()
	bus.Publish(progress(-1))
	assert.Equal(t, before+8, delivered.Load())
}
