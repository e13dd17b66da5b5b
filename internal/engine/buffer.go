package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// errStaleBlock is returned by Push for a block decoded before the last flush.
var errStaleBlock = errors.New("stale block")

// PopResult describes what a PopFrames call consumed.
type PopResult struct {
	// Frames is the number of real frames copied; the rest is silence.
	Frames int
	// Epoch is the generation the frames belong to.
	Epoch uint32
	// Start is the track frame of the first copied frame, -1 if none.
	Start int64
	// Next is the track frame following the last copied frame, -1 if none.
	Next int64
}

type slot struct {
	epoch  uint32
	start  int64
	frames int
	data   []float32
}

// SampleBuffer is a bounded single-producer single-consumer queue of sample
// blocks. The producer goroutine pushes, the device callback pops. Neither
// side blocks or allocates.
//
// A flush only switches the accepted epoch. Blocks still queued from the old
// epoch are dropped by whichever side meets them first, so the consumer never
// reads them.
type SampleBuffer struct {
	channels    int
	blockFrames int
	slots       []slot

	head atomic.Uint64 // written by the consumer
	tail atomic.Uint64 // written by the producer

	epoch    atomic.Uint32
	endEpoch atomic.Uint64 // epoch+1 once the producer hit end of stream
	frames   atomic.Int64

	// offset is the number of frames already read from the head slot.
	// Consumer only.
	offset int
}

// NewSampleBuffer creates a buffer holding at least capacityFrames frames in
// blocks of at most blockFrames.
func NewSampleBuffer(channels, blockFrames, capacityFrames int) *SampleBuffer {
	n := (capacityFrames + blockFrames - 1) / blockFrames
	if n < 2 {
		n = 2
	}
	b := &SampleBuffer{
		channels:    channels,
		blockFrames: blockFrames,
		slots:       make([]slot, n),
	}
	for i := range b.slots {
		b.slots[i].data = make([]float32, blockFrames*channels)
	}
	return b
}

// Channels returns the channel count of queued frames.
func (b *SampleBuffer) Channels() int {
	return b.channels
}

// BlockFrames returns the largest block Push accepts.
func (b *SampleBuffer) BlockFrames() int {
	return b.blockFrames
}

// Capacity returns the number of frames the buffer can hold.
func (b *SampleBuffer) Capacity() int {
	return len(b.slots) * b.blockFrames
}

// Buffered returns the number of queued frames, including any not yet
// dropped as stale.
func (b *SampleBuffer) Buffered() int {
	return int(b.frames.Load())
}

// Epoch returns the epoch currently accepted.
func (b *SampleBuffer) Epoch() uint32 {
	return b.epoch.Load()
}

// Push copies block into the queue. It returns domain.ErrBufferFull when no
// slot is free; the caller keeps the block and retries later. A block from an
// old epoch is rejected with errStaleBlock.
func (b *SampleBuffer) Push(block domain.SampleBlock) error {
	if block.Epoch != b.epoch.Load() {
		return errStaleBlock
	}
	if block.Channels != b.channels {
		return fmt.Errorf("push block with %d channels into %d channel buffer", block.Channels, b.channels)
	}
	frames := block.Frames()
	if frames > b.blockFrames {
		return fmt.Errorf("push block of %d frames, limit %d", frames, b.blockFrames)
	}
	if frames == 0 {
		return nil
	}

	t := b.tail.Load()
	if t-b.head.Load() >= uint64(len(b.slots)) {
		return domain.ErrBufferFull
	}
	s := &b.slots[t%uint64(len(b.slots))]
	copy(s.data, block.Samples[:frames*b.channels])
	s.epoch = block.Epoch
	s.start = block.StartFrame
	s.frames = frames

	b.frames.Add(int64(frames))
	b.tail.Store(t + 1)
	return nil
}

// PopFrames fills dst with exactly n frames. When fewer than n frames of the
// current epoch are queued the remainder is silence and domain.ErrUnderrun is
// returned.
func (b *SampleBuffer) PopFrames(dst []float32, n int) (PopResult, error) {
	return b.pop(dst, n, false)
}

// PopRun is PopFrames that stops early where the queued audio jumps, that is
// where a block does not start at the frame following the previous one. The
// rest of dst is silence. Stopping at a jump is not an underrun: err is nil
// and res.Frames < n.
func (b *SampleBuffer) PopRun(dst []float32, n int) (PopResult, error) {
	return b.pop(dst, n, true)
}

func (b *SampleBuffer) pop(dst []float32, n int, stopAtJump bool) (PopResult, error) {
	ch := b.channels
	epoch := b.epoch.Load()
	res := PopResult{Epoch: epoch, Start: -1, Next: -1}

	filled := 0
	jumped := false
	for filled < n {
		s := b.headSlot()
		if s == nil {
			break
		}
		if s.epoch != epoch {
			b.dropHead(s)
			continue
		}
		if stopAtJump && res.Next >= 0 && s.start+int64(b.offset) != res.Next {
			jumped = true
			break
		}

		take := s.frames - b.offset
		if take > n-filled {
			take = n - filled
		}
		copy(dst[filled*ch:(filled+take)*ch], s.data[b.offset*ch:(b.offset+take)*ch])
		if res.Start < 0 {
			res.Start = s.start + int64(b.offset)
		}
		b.offset += take
		filled += take
		res.Next = s.start + int64(b.offset)
		b.frames.Add(-int64(take))

		if b.offset == s.frames {
			b.offset = 0
			b.head.Add(1)
		}
	}

	clear(dst[filled*ch : n*ch])
	res.Frames = filled
	if filled < n && !jumped {
		return res, domain.ErrUnderrun
	}
	return res, nil
}

// NextFrame returns the track frame of the next frame PopFrames would read.
// Consumer only.
func (b *SampleBuffer) NextFrame() (int64, bool) {
	epoch := b.epoch.Load()
	for {
		s := b.headSlot()
		if s == nil {
			return 0, false
		}
		if s.epoch != epoch {
			b.dropHead(s)
			continue
		}
		return s.start + int64(b.offset), true
	}
}

// DropStale discards queued blocks of old epochs so the producer can refill.
// Consumer only.
func (b *SampleBuffer) DropStale() {
	b.NextFrame()
}

// FlushAndReset makes epoch the accepted epoch. Every queued block of an older
// epoch becomes unreadable at once.
func (b *SampleBuffer) FlushAndReset(epoch uint32) {
	b.epoch.Store(epoch)
}

// MarkEnd records that the producer reached end of stream for epoch.
func (b *SampleBuffer) MarkEnd(epoch uint32) {
	b.endEpoch.Store(uint64(epoch) + 1)
}

// Ended reports whether the producer reached end of stream for epoch.
func (b *SampleBuffer) Ended(epoch uint32) bool {
	return b.endEpoch.Load() == uint64(epoch)+1
}

func (b *SampleBuffer) headSlot() *slot {
	h := b.head.Load()
	if h == b.tail.Load() {
		return nil
	}
	return &b.slots[h%uint64(len(b.slots))]
}

func (b *SampleBuffer) dropHead(s *slot) {
	b.frames.Add(-int64(s.frames - b.offset))
	b.offset = 0
	b.head.Add(1)
}
