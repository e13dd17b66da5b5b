// Package main is the entry point for Reh, an audio practice player.
//
// Reh plays one file at a time with a draggable A/B loop, independent
// speed and pitch control and a waveform overview.
//
// Build:
//
//	go build -o build/reh ./cmd
//
// Run:
//
//	./build/reh [audio-file-path]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/tejashwikalptaru/reh/internal/app"
	"github.com/tejashwikalptaru/reh/internal/logger"
)

// errShowVersion asks main to print the version and exit.
var errShowVersion = errors.New("show version")

// parseArgs builds the application config from the command line.
func parseArgs(args []string, stderr io.Writer) (app.Config, error) {
	config := app.DefaultConfig()

	fs := flag.NewFlagSet("reh", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: reh [flags] [audio-file-path]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	mockAudio := fs.Bool("mock", false, "play into a virtual device instead of the sound card")
	showVersion := fs.Bool("version", false, "print the version and exit")
	logLevel := fs.String("log-level", "", "DEBUG, INFO, WARN or ERROR (default from "+logger.EnvLevel+")")

	if err := fs.Parse(args); err != nil {
		return config, err
	}
	if *showVersion {
		return config, errShowVersion
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return config, fmt.Errorf("expected at most one file, got %d", fs.NArg())
	}

	config.UseMockAudio = *mockAudio
	if *logLevel != "" {
		level, err := logger.ParseLevel(*logLevel)
		if err != nil {
			return config, err
		}
		config.LogLevel = level
	}
	if fs.NArg() == 1 {
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return config, fmt.Errorf("resolve %s: %w", fs.Arg(0), err)
		}
		config.InitialFile = path
	}
	return config, nil
}

func main() {
	config, err := parseArgs(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, errShowVersion):
		fmt.Println(app.GetVersionInfo().FullString())
		return
	case errors.Is(err, flag.ErrHelp):
		return
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Create the application with dependency injection
	application, err := app.NewApplication(config)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Ensure a graceful shutdown
	defer func() {
		if err := application.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		}
	}()

	// Run application (blocks until the window closed)
	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}
