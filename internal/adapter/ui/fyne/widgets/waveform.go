// Package widgets provides custom Fyne widgets for the Reh practice player.
package widgets

import (
	"image"
	"image/color"
	"math"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// MarkerGrab is how close, in pixels, a press must land to pick up a marker.
const MarkerGrab = 12

// Marker identifies a loop marker under the pointer.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerStart
	MarkerEnd
)

var (
	backgroundColor = color.RGBA{R: 10, G: 10, B: 10, A: 255}
	waveColor       = color.RGBA{R: 0, G: 180, B: 100, A: 255}
	loopShade       = color.RGBA{R: 0, G: 255, B: 0, A: 30}
	cursorColor     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	startColor      = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	endColor        = color.RGBA{R: 50, G: 80, B: 255, A: 255}
)

// Waveform draws a track envelope with its loop region, loop markers and the
// playback cursor.
//
// A click seeks. A drag that starts near a marker moves that marker; with
// Ctrl held it moves the whole loop instead. Any other drag scrubs.
type Waveform struct {
	widget.BaseWidget

	raster *canvas.Raster

	mu     sync.RWMutex
	peaks  []float32
	total  int64
	cursor int64
	loop   domain.LoopRegion

	// Drag state, touched only on the UI thread
	pressX    float32
	pressCtrl bool
	dragging  Marker
	moveLoop  bool
	started   bool

	// OnSeek is called with a frame for clicks and scrubs.
	OnSeek func(frame int64)

	// OnMarkerDragged is called with the new frame of a dragged marker.
	OnMarkerDragged func(marker Marker, frame int64)

	// OnLoopMoved is called with the new loop start of a ctrl-drag.
	OnLoopMoved func(start int64)
}

// NewWaveform creates an empty waveform.
func NewWaveform() *Waveform {
	w := &Waveform{loop: domain.UnsetLoop()}
	w.raster = canvas.NewRaster(w.draw)
	w.ExtendBaseWidget(w)
	return w
}

// CreateRenderer implements fyne.Widget.
func (w *Waveform) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(w.raster)
}

// MinSize returns the minimum size of the waveform.
func (w *Waveform) MinSize() fyne.Size {
	return fyne.NewSize(100, 100)
}

// SetTrack replaces the envelope and resets the cursor and loop.
func (w *Waveform) SetTrack(total int64, envelope domain.Envelope) {
	w.mu.Lock()
	w.peaks = envelope.Peaks
	w.total = total
	w.cursor = 0
	w.loop = domain.UnsetLoop()
	w.mu.Unlock()
	w.raster.Refresh()
}

// SetCursor moves the playback cursor.
func (w *Waveform) SetCursor(frame int64) {
	w.mu.Lock()
	changed := w.cursor != frame
	w.cursor = frame
	w.mu.Unlock()
	if changed {
		w.raster.Refresh()
	}
}

// SetLoop redraws the loop markers.
func (w *Waveform) SetLoop(loop domain.LoopRegion) {
	w.mu.Lock()
	w.loop = loop
	w.mu.Unlock()
	w.raster.Refresh()
}

// frameAt maps an x coordinate in a widget of the given width to a frame.
func (w *Waveform) frameAt(x, width float32) int64 {
	w.mu.RLock()
	total := w.total
	w.mu.RUnlock()

	if width <= 0 || total <= 0 {
		return 0
	}
	f := math.Max(0, math.Min(1, float64(x/width)))
	frame := int64(f * float64(total))
	if frame >= total {
		frame = total - 1
	}
	return frame
}

// xOf maps a frame to an x coordinate.
func xOf(frame, total int64, width float32) float32 {
	if total <= 0 {
		return 0
	}
	return float32(float64(frame) / float64(total) * float64(width))
}

// markerAt returns the marker within MarkerGrab pixels of x. The start marker
// wins ties.
func (w *Waveform) markerAt(x, width float32) Marker {
	w.mu.RLock()
	loop, total := w.loop, w.total
	w.mu.RUnlock()

	near := func(frame int64) bool {
		return frame >= 0 && float32(math.Abs(float64(x-xOf(frame, total, width)))) < MarkerGrab
	}
	switch {
	case near(loop.Start):
		return MarkerStart
	case near(loop.End):
		return MarkerEnd
	default:
		return MarkerNone
	}
}

// Tapped seeks to the clicked frame.
func (w *Waveform) Tapped(e *fyne.PointEvent) {
	if w.OnSeek != nil {
		w.OnSeek(w.frameAt(e.Position.X, w.Size().Width))
	}
}

// MouseDown records where a drag may start and whether Ctrl was held.
func (w *Waveform) MouseDown(e *desktop.MouseEvent) {
	w.pressX = e.Position.X
	w.pressCtrl = e.Modifier&fyne.KeyModifierControl != 0 || e.Modifier&fyne.KeyModifierSuper != 0
}

// MouseUp implements desktop.Mouseable.
func (w *Waveform) MouseUp(*desktop.MouseEvent) {}

// Dragged implements fyne.Draggable.
func (w *Waveform) Dragged(e *fyne.DragEvent) {
	w.dragTo(e.Position.X, w.Size().Width)
}

// DragEnd implements fyne.Draggable.
func (w *Waveform) DragEnd() {
	w.started = false
}

func (w *Waveform) dragTo(x, width float32) {
	if !w.started {
		w.started = true
		w.dragging = w.markerAt(w.pressX, width)
		w.moveLoop = w.pressCtrl && w.dragging != MarkerNone
	}

	frame := w.frameAt(x, width)
	switch {
	case w.moveLoop:
		w.mu.RLock()
		span := w.loop.End - w.loop.Start
		w.mu.RUnlock()
		start := frame
		if w.dragging == MarkerEnd {
			start = frame - span
		}
		if w.OnLoopMoved != nil {
			w.OnLoopMoved(start)
		}
	case w.dragging != MarkerNone:
		if w.OnMarkerDragged != nil {
			w.OnMarkerDragged(w.dragging, frame)
		}
	default:
		if w.OnSeek != nil {
			w.OnSeek(frame)
		}
	}
}

// draw renders the waveform at w by h pixels.
func (w *Waveform) draw(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(img, 0, width, 0, height, backgroundColor)
	if width == 0 || height == 0 {
		return img
	}

	w.mu.RLock()
	peaks, total, cursor, loop := w.peaks, w.total, w.cursor, w.loop
	w.mu.RUnlock()

	fw := float32(width)
	if loop.Active() {
		x0 := int(xOf(loop.Start, total, fw))
		x1 := int(xOf(loop.End, total, fw))
		blendRect(img, x0, x1, 0, height, loopShade)
	}

	if n := len(peaks); n > 0 {
		mid := float64(height) / 2
		for x := 0; x < width; x++ {
			peak := peaks[min(n-1, x*n/width)]
			// Widen to cover buckets that share a column.
			for i := x*n/width + 1; i < min(n, (x+1)*n/width); i++ {
				peak = max(peak, peaks[i])
			}
			h := max(1, int(float64(peak)*float64(height)*0.45))
			fillRect(img, x, x+1, int(mid)-h, int(mid)+h, waveColor)
		}
	}

	if total > 0 {
		drawLine(img, int(xOf(cursor, total, fw)), 1, height, cursorColor)
		if loop.Start >= 0 {
			drawLine(img, int(xOf(loop.Start, total, fw)), 2, height, startColor)
		}
		if loop.End >= 0 {
			drawLine(img, int(xOf(loop.End, total, fw)), 2, height, endColor)
		}
	}
	return img
}

func fillRect(img *image.RGBA, x0, x1, y0, y1 int, c color.RGBA) {
	r := image.Rect(x0, y0, x1, y1).Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// blendRect draws c over the image with its alpha.
func blendRect(img *image.RGBA, x0, x1, y0, y1 int, c color.RGBA) {
	r := image.Rect(x0, y0, x1, y1).Intersect(img.Bounds())
	a := uint32(c.A)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			p := img.RGBAAt(x, y)
			p.R = uint8((uint32(c.R)*a + uint32(p.R)*(255-a)) / 255)
			p.G = uint8((uint32(c.G)*a + uint32(p.G)*(255-a)) / 255)
			p.B = uint8((uint32(c.B)*a + uint32(p.B)*(255-a)) / 255)
			img.SetRGBA(x, y, p)
		}
	}
}

func drawLine(img *image.RGBA, x, thickness, height int, c color.RGBA) {
	x0 := x - thickness/2
	fillRect(img, x0, x0+thickness, 0, height, c)
}

// Ensure Waveform implements the required interfaces
var _ fyne.Tappable = (*Waveform)(nil)
var _ fyne.Draggable = (*Waveform)(nil)
var _ desktop.Mouseable = (*Waveform)(nil)
