package mock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/testutil"
)

// floatReader serves the same frame forever.
type floatReader struct {
	value float32
}

func (r floatReader) Read(p []byte) (int, error) {
	n := len(p) - len(p)%4
	for i := 0; i < n; i += 4 {
		binary.LittleEndian.PutUint32(p[i:], math.Float32bits(r.value))
	}
	return n, nil
}

// TestManualDevicePull tests pulling frames by hand.
func TestManualDevicePull(t *testing.T) {
	device := NewManualDevice(48000, 2)

	if _, err := device.Pull(10); err == nil {
		t.Error("Pull before Start should fail")
	}

	if err := device.Start(floatReader{value: 0.25}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	samples, err := device.Pull(10)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if len(samples) != 20 {
		t.Fatalf("Expected 20 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s != 0.25 {
			t.Errorf("Sample %d: expected 0.25, got %v", i, s)
		}
	}
	if device.FramesPulled() != 10 {
		t.Errorf("Expected 10 frames pulled, got %d", device.FramesPulled())
	}
}

// TestStartTwice tests that a device only starts once.
func TestStartTwice(t *testing.T) {
	device := NewManualDevice(44100, 2)
	if err := device.Start(floatReader{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := device.Start(floatReader{}); err == nil {
		t.Error("Second Start should fail")
	}
}

// TestFailStart tests the configured start failure.
func TestFailStart(t *testing.T) {
	device := NewManualDevice(44100, 2)
	device.SetFailStart(true)

	err := device.Start(floatReader{})
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

// TestPullReaderError tests that reader errors surface from Pull.
func TestPullReaderError(t *testing.T) {
	device := NewManualDevice(44100, 1)
	if err := device.Start(bytes.NewReader(make([]byte, 8))); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := device.Pull(4); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected ErrUnexpectedEOF, got %v", err)
	}
}

// TestRunningDeviceConsumes tests the ticker loop and a clean Close.
func TestRunningDeviceConsumes(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	device := NewDevice(44100, 2)
	if err := device.Start(floatReader{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for device.FramesPulled() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if device.FramesPulled() == 0 {
		t.Error("Running device never pulled")
	}

	if err := device.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := device.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if _, err := device.Pull(1); err == nil {
		t.Error("Pull after Close should fail")
	}
}
