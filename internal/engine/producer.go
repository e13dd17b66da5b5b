package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

const (
	// maxRecoverableSkips bounds consecutive corrupt blocks skipped before the
	// track is given up.
	maxRecoverableSkips = 16

	producerBackoff = 5 * time.Millisecond
	producerIdle    = 10 * time.Millisecond
)

// Producer is the decode goroutine of one track. It keeps the sample buffer
// full, follows the loop, and services seeks requested by the playback callback.
type Producer struct {
	cursor    *decodeCursor
	buffer    *SampleBuffer
	state     *SharedState
	transport *Transport
	logger    *slog.Logger
	onError   func(error)
}

func newProducer(cursor *decodeCursor, buffer *SampleBuffer, state *SharedState, transport *Transport, logger *slog.Logger, onError func(error)) *Producer {
	return &Producer{
		cursor:    cursor,
		buffer:    buffer,
		state:     state,
		transport: transport,
		logger:    logger,
		onError:   onError,
	}
}

// Run decodes until ctx is canceled.
func (p *Producer) Run(ctx context.Context) {
	p.logger.Debug("producer started")
	defer p.logger.Debug("producer stopped")

	skips := 0
	for ctx.Err() == nil {
		p.serviceSeek()

		block, epoch, err := p.cursor.nextBlock(p.state.Loop())
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.buffer.MarkEnd(epoch)
				p.waitForSeek(ctx, epoch)
				continue
			}
			if domain.IsRecoverable(err) && skips < maxRecoverableSkips {
				skips++
				p.logger.Warn("skipping corrupt block", slog.Any("error", err), slog.Int("skips", skips))
				continue
			}

			p.logger.Error("decode failed", slog.Any("error", err))
			p.buffer.MarkEnd(epoch)
			if p.onError != nil {
				p.onError(err)
			}
			p.waitForSeek(ctx, epoch)
			skips = 0
			continue
		}
		skips = 0

		p.push(ctx, block)
	}
}

// push hands block to the buffer in chunks, backing off while it is full.
func (p *Producer) push(ctx context.Context, block domain.SampleBlock) {
	limit := p.buffer.BlockFrames()
	for block.Frames() > 0 {
		chunk := block
		if chunk.Frames() > limit {
			chunk.Samples = block.Samples[:limit*block.Channels]
		}

		for {
			err := p.buffer.Push(chunk)
			if err == nil {
				break
			}
			if !errors.Is(err, domain.ErrBufferFull) {
				// Stale after a seek, or malformed; either way it is not needed.
				if !errors.Is(err, errStaleBlock) {
					p.logger.Warn("dropping block", slog.Any("error", err))
				}
				return
			}
			if p.seekPending() || !sleep(ctx, producerBackoff) {
				return
			}
		}

		n := chunk.Frames()
		block.Samples = block.Samples[n*block.Channels:]
		block.StartFrame += int64(n)
	}
}

// waitForSeek idles after end of stream until the epoch changes or a seek is requested.
func (p *Producer) waitForSeek(ctx context.Context, epoch uint32) {
	for p.cursorEpoch() == epoch && !p.seekPending() {
		if !sleep(ctx, producerIdle) {
			return
		}
	}
}

func (p *Producer) serviceSeek() {
	epoch, frame, ok := p.state.takeSeekRequest()
	if !ok {
		return
	}
	_, err := p.transport.resync(epoch, frame)
	switch {
	case err == nil:
	case errors.Is(err, errSeekSuperseded):
		// A user seek got there first; the callback resets on its epoch.
		p.logger.Debug("dropping superseded seek request", slog.Int64("frame", frame))
	default:
		p.logger.Error("requested seek failed", slog.Int64("frame", frame), slog.Any("error", err))
		p.state.seekFailed.Store(true)
		if p.onError != nil {
			p.onError(err)
		}
	}
}

func (p *Producer) seekPending() bool {
	return p.state.seekPending()
}

func (p *Producer) cursorEpoch() uint32 {
	p.cursor.mu.Lock()
	defer p.cursor.mu.Unlock()
	return p.cursor.epoch
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
