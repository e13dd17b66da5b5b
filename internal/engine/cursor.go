package engine

import (
	"errors"
	"io"
	"sync"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/ports"
)

// decodeCursor guards the decoder shared by the producer and the transport.
// Every field is protected by mu.
type decodeCursor struct {
	mu    sync.Mutex
	dec   ports.Decoder
	state *SharedState

	// epoch tags every block decoded from now on.
	epoch uint32

	// next is the frame the next emitted block should start at.
	next int64

	// skipUntil drops decoded frames before this index, so a loop wrap on a
	// decoder that seeks to a frame boundary does not repeat audio.
	skipUntil int64

	// resync is set when a block was cut at the loop end and the decoder sits
	// past next.
	resync bool
}

func newDecodeCursor(dec ports.Decoder, state *SharedState) *decodeCursor {
	return &decodeCursor{dec: dec, state: state}
}

// seek repositions the decoder for a new epoch. Caller holds mu.
func (c *decodeCursor) seek(epoch uint32, frame int64) (int64, error) {
	reached, err := c.dec.SeekTo(frame)
	if err != nil {
		return 0, err
	}
	c.epoch = epoch
	c.next = reached
	c.skipUntil = reached
	c.resync = false
	return reached, nil
}

// wrap moves the decoder to frame within the current epoch. Caller holds mu.
func (c *decodeCursor) wrap(frame int64) error {
	reached, err := c.dec.SeekTo(frame)
	if err != nil {
		return err
	}
	c.next = reached
	c.skipUntil = frame
	c.resync = false
	return nil
}

// nextBlock decodes the next block for the current epoch, honoring the loop.
// The returned block may be empty when it fell entirely before skipUntil.
func (c *decodeCursor) nextBlock(loop domain.LoopRegion) (domain.SampleBlock, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	epoch := c.epoch
	looping := loop.Active()

	switch {
	case looping && c.next >= loop.End:
		if err := c.wrap(loop.Start); err != nil {
			return domain.SampleBlock{}, epoch, err
		}
	case c.resync:
		target := c.next
		if err := c.wrap(target); err != nil {
			return domain.SampleBlock{}, epoch, err
		}
	}

	block, err := c.dec.NextBlock()
	if errors.Is(err, io.EOF) && looping && c.next > loop.Start {
		// The track ended before the loop end; the header overstated its length.
		// Playback wraps here too once it knows.
		if c.next < loop.End {
			c.state.streamEnd.Store(c.next)
		}
		if werr := c.wrap(loop.Start); werr != nil {
			return domain.SampleBlock{}, epoch, werr
		}
		block, err = c.dec.NextBlock()
	}
	if err != nil {
		return domain.SampleBlock{}, epoch, err
	}

	c.next = block.EndFrame()
	block = trimHead(block, c.skipUntil)
	if looping && block.StartFrame < loop.End && block.EndFrame() > loop.End {
		block = trimTail(block, loop.End)
		c.next = loop.End
		c.resync = true
	}
	block.Epoch = epoch
	return block, epoch, nil
}

func trimHead(b domain.SampleBlock, from int64) domain.SampleBlock {
	if b.StartFrame >= from {
		return b
	}
	drop := from - b.StartFrame
	if frames := int64(b.Frames()); drop > frames {
		drop = frames
	}
	b.Samples = b.Samples[int(drop)*b.Channels:]
	b.StartFrame += drop
	return b
}

func trimTail(b domain.SampleBlock, end int64) domain.SampleBlock {
	keep := end - b.StartFrame
	b.Samples = b.Samples[:int(keep)*b.Channels]
	return b
}
