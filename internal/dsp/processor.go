// Package dsp implements the sample processing used between the sample buffer
// and the audio device: time stretching, pitch shifting and rate conversion.
//
// Nothing in this package allocates after Configure, so Processor may run on
// the device callback.
package dsp

import (
	"github.com/tejashwikalptaru/reh/internal/domain"
)

const unityEpsilon = 1e-9

// Processor time-stretches and pitch-shifts a stream of interleaved frames and
// converts it from the track rate to the device rate.
//
// Time scaling by TimeRatio×PitchRatio runs first (WSOLA), then cubic resampling
// by PitchRatio×inRate/outRate restores the duration while moving the pitch.
// Either stage is bypassed when its factor is exactly one, so identity
// parameters at equal rates copy input to output unchanged.
type Processor struct {
	channels int
	inRate   int
	outRate  int

	wsola     *WSOLA
	resampler *Resampler
	stage     []float32
	out       fifo

	stretching bool
	resampling bool
}

// NewProcessor creates an unconfigured processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Configure allocates every buffer for the given rates and channel count.
// maxBlockFrames bounds the input of a single Process call and maxReadFrames
// the output drained between calls. Configure must not run concurrently with
// Process.
func (p *Processor) Configure(inRate, outRate, channels, maxBlockFrames, maxReadFrames int) {
	p.channels = channels
	p.inRate = inRate
	p.outRate = outRate

	maxScale := (1 / domain.MinSpeed) * domain.MaxPitch
	p.wsola = NewWSOLA(inRate, channels, maxBlockFrames)
	stageFrames := p.wsola.MaxOutput(maxBlockFrames, maxScale)
	p.stage = make([]float32, stageFrames*channels)

	p.resampler = NewResampler(channels, stageFrames)
	minStep := domain.MinPitch * float64(inRate) / float64(outRate)
	outFrames := MaxOutput(stageFrames, minStep) + maxReadFrames
	p.out = newFIFO(outFrames * channels)

	p.stretching = false
	p.resampling = inRate != outRate
}

// Channels returns the configured channel count.
func (p *Processor) Channels() int {
	return p.channels
}

// Reset clears the overlap, interpolation and output state.
// Called on every discontinuous seek.
func (p *Processor) Reset() {
	if p.wsola == nil {
		return
	}
	p.wsola.Reset()
	p.resampler.Reset()
	p.out.Reset()
}

// Process consumes one block of interleaved frames with the given parameters.
// Output accumulates internally; drain it with Read.
func (p *Processor) Process(input []float32, params domain.StretchParams) {
	scale := params.TimeRatio * params.PitchRatio
	step := params.PitchRatio * float64(p.inRate) / float64(p.outRate)

	stretching := !nearOne(scale)
	if stretching != p.stretching {
		p.wsola.Reset()
		p.stretching = stretching
	}
	resampling := !nearOne(step)
	if resampling != p.resampling {
		p.resampler.Reset()
		p.resampling = resampling
	}

	data := input
	if stretching {
		n := p.wsola.Process(input, scale, p.stage)
		data = p.stage[:n*p.channels]
	}

	if resampling {
		p.resampler.Process(data, step, &p.out)
		return
	}
	p.out.Write(data)
}

// Buffered returns the number of output frames ready to read.
func (p *Processor) Buffered() int {
	if p.channels == 0 {
		return 0
	}
	return p.out.Len() / p.channels
}

// Read moves up to len(dst)/channels frames into dst and returns the frame count.
func (p *Processor) Read(dst []float32) int {
	if p.channels == 0 {
		return 0
	}
	n := len(dst) / p.channels * p.channels
	return p.out.Read(dst[:n]) / p.channels
}

func nearOne(v float64) bool {
	return v > 1-unityEpsilon && v < 1+unityEpsilon
}
