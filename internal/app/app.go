// Package app provides application-level orchestration and dependency injection.
// This package wires together all components and manages the application lifecycle.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"

	"github.com/tejashwikalptaru/reh/internal/adapter/audio/mock"
	"github.com/tejashwikalptaru/reh/internal/adapter/audio/speaker"
	"github.com/tejashwikalptaru/reh/internal/adapter/decoder"
	"github.com/tejashwikalptaru/reh/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/reh/internal/adapter/metadata"
	fyneui "github.com/tejashwikalptaru/reh/internal/adapter/ui/fyne"
	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/engine"
	"github.com/tejashwikalptaru/reh/internal/logger"
	"github.com/tejashwikalptaru/reh/internal/ports"
	"github.com/tejashwikalptaru/reh/internal/service"
)

// Application is the root application structure that holds all dependencies.
// It follows the Dependency Injection pattern with constructor-based injection.
//
// The Application struct is responsible for:
// - Creating and wiring all dependencies
// - Managing the application lifecycle (startup, shutdown)
// - Providing a clean entry point for main.go
type Application struct {
	// Core dependencies
	logger  *slog.Logger
	fyneApp fyne.App
	config  Config

	// Infrastructure
	eventBus *eventbus.Bus
	engine   *engine.Engine
	device   ports.OutputDevice

	// Services
	playbackService *service.PlaybackService

	// UI
	presenter  *fyneui.Presenter
	mainWindow *fyneui.MainWindow

	shutdownOnce sync.Once
	shutdownErr  error
}

// Config holds application configuration.
type Config struct {
	// AppID is the unique application identifier
	AppID string

	// DeviceSampleRate is the output rate in Hz
	DeviceSampleRate int

	// DeviceChannels is the output channel count
	DeviceChannels int

	// DeviceBuffer is the sound card latency
	DeviceBuffer time.Duration

	// BufferDuration is how much decoded audio the sample buffer holds
	BufferDuration time.Duration

	// EnvelopeBuckets is the resolution of the waveform overview
	EnvelopeBuckets int

	// UseMockAudio plays into a virtual device instead of the sound card
	UseMockAudio bool

	// LogLevel controls logging verbosity
	LogLevel slog.Level

	// InitialFile is opened by Run when set
	InitialFile string

	// TestFyneApp allows injecting a test Fyne app for testing (nil for production)
	TestFyneApp fyne.App
}

// DefaultConfig returns the default application configuration.
func DefaultConfig() Config {
	loggerCfg := logger.DefaultConfig()
	playback := service.DefaultPlaybackConfig()
	return Config{
		AppID:            "com.tejashwi.reh",
		DeviceSampleRate: playback.DeviceRate,
		DeviceChannels:   playback.DeviceChannels,
		DeviceBuffer:     50 * time.Millisecond,
		BufferDuration:   playback.BufferDuration,
		EnvelopeBuckets:  playback.EnvelopeBuckets,
		UseMockAudio:     false,
		LogLevel:         loggerCfg.Level,
	}
}

// NewApplication creates a new application with all dependencies wired.
// This is the main dependency injection function.
func NewApplication(config Config) (*Application, error) {
	app := &Application{config: config}

	// Step 1: Create Fyne application
	if config.TestFyneApp != nil {
		app.fyneApp = config.TestFyneApp
	} else {
		app.fyneApp = fyneapp.NewWithID(config.AppID)
	}

	// Step 2: Create logger
	app.logger = logger.NewLogger(logger.Config{
		Level:  config.LogLevel,
		Format: "text",
	})
	app.logger.Info("initializing application",
		slog.String("app_id", config.AppID),
		slog.String("version", GetVersionInfo().FullString()))

	// Step 3: Create an event bus
	busLog := app.logger.With(slog.String("component", "eventbus"))
	app.eventBus = eventbus.New(
		eventbus.WithLogger(busLog),
		eventbus.CoalesceLatest(domain.EventPlaybackProgress),
	)
	app.eventBus.SubscribeAll(logEvent(busLog))

	// Step 4: Create the playback engine and start the output device on it
	playbackCfg := service.DefaultPlaybackConfig()
	playbackCfg.DeviceRate = config.DeviceSampleRate
	playbackCfg.DeviceChannels = config.DeviceChannels
	playbackCfg.BufferDuration = config.BufferDuration
	playbackCfg.EnvelopeBuckets = config.EnvelopeBuckets

	app.engine = engine.NewEngine(config.DeviceChannels, playbackCfg.MaxCallbackFrames)

	if config.UseMockAudio {
		device := mock.NewDevice(config.DeviceSampleRate, config.DeviceChannels)
		device.SetLogger(app.logger.With(slog.String("device", "mock")))
		app.device = device
	} else {
		app.device = speaker.NewDevice(config.DeviceSampleRate, config.DeviceChannels, config.DeviceBuffer,
			app.logger.With(slog.String("device", "speaker")))
	}
	if err := app.device.Start(app.engine); err != nil {
		return nil, fmt.Errorf("failed to start audio output: %w", err)
	}

	// Step 5: Create services (with dependency injection)
	app.playbackService = service.NewPlaybackService(
		app.logger.With(slog.String("service", "playback")),
		decoder.NewFactory(app.logger.With(slog.String("component", "decoder"))),
		metadata.NewReader(),
		app.engine,
		app.eventBus,
		playbackCfg,
	)

	// Step 6: Create UI
	app.mainWindow = fyneui.NewMainWindow(app.fyneApp)

	// Step 7: Create Presenter and wire with UI
	app.presenter = fyneui.NewPresenter(
		app.logger.With(slog.String("component", "presenter")),
		app.playbackService,
		app.eventBus,
		app.mainWindow,
	)

	// Connect presenter to the main window
	app.mainWindow.SetPresenter(app.presenter)

	return app, nil
}

// OpenFile loads path in the background, as if it was picked in the file dialog.
func (a *Application) OpenFile(path string) {
	a.presenter.OnFileOpened(path)
}

// Run starts the application.
// This is called from main.go after the application is created.
func (a *Application) Run() error {
	a.logger.Info("Reh started")

	if a.config.InitialFile != "" {
		a.OpenFile(a.config.InitialFile)
	}

	// Show and run UI (blocks until the window is closed)
	a.mainWindow.ShowAndRun()
	return nil
}

// Shutdown gracefully shuts down the application.
// It's safe to call multiple times (idempotent).
func (a *Application) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down application")

		var errs []error

		// Shutdown UI and presenter first so no command reaches a closed service
		if a.presenter != nil {
			a.presenter.Shutdown()
		}

		if a.playbackService != nil {
			if err := a.playbackService.Shutdown(); err != nil {
				errs = append(errs, fmt.Errorf("playback service: %w", err))
			}
		}

		if a.device != nil {
			if err := a.device.Close(); err != nil {
				errs = append(errs, fmt.Errorf("audio output: %w", err))
			}
		}

		if a.eventBus != nil {
			if err := a.eventBus.Close(); err != nil {
				errs = append(errs, fmt.Errorf("event bus: %w", err))
			}
		}

		a.shutdownErr = errors.Join(errs...)
		if a.shutdownErr != nil {
			a.logger.Warn("shutdown finished with errors", slog.Any("error", a.shutdownErr))
			return
		}
		a.logger.Info("application shutdown complete")
	})
	return a.shutdownErr
}

// GetPlaybackService returns the playback service.
func (a *Application) GetPlaybackService() *service.PlaybackService {
	return a.playbackService
}

// GetEventBus returns the event bus.
func (a *Application) GetEventBus() ports.EventBus {
	return a.eventBus
}

// GetFyneApp returns the Fyne application.
func (a *Application) GetFyneApp() fyne.App {
	return a.fyneApp
}
