package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/riff"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

var imaIndexTable = [16]int{-1, -1, -1, -1, 2, 4, 6, 8, -1, -1, -1, -1, 2, 4, 6, 8}

var imaStepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17, 19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118, 130, 143, 157, 173, 190, 209, 230,
	253, 279, 307, 337, 371, 408, 449, 494, 544, 598, 658, 724, 796, 876, 963,
	1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024, 3327,
	3660, 4026, 4428, 4871, 5358, 5894, 6484, 7132, 7845, 8630, 9493, 10442,
	11487, 12635, 13899, 15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794,
	32767,
}

var msAdaptationTable = [16]int{230, 230, 230, 230, 307, 409, 512, 614, 768, 614, 512, 409, 307, 230, 230, 230}

var msCoefficients = [7][2]int{{256, 0}, {512, -256}, {0, 0}, {192, 64}, {240, 0}, {460, -208}, {392, -232}}

// adpcmWave decodes IMA and Microsoft ADPCM block by block. Seeking lands on
// the block holding the target and decodes forward to it.
type adpcmWave struct {
	file            *os.File
	ima             bool
	channels        int
	blockAlign      int
	samplesPerBlock int
	dataStart       int64
	dataSize        int64
	blocks          int64
	total           int64

	raw     []byte
	decoded []float32 // one block, interleaved
	have    int       // frames in decoded
	offset  int       // frames of decoded already returned
	block   int64     // index of the next block to read
}

func openADPCM(file *os.File) (source, domain.Track, error) {
	parser := riff.New(file)
	if err := parser.ParseHeaders(); err != nil {
		return nil, domain.Track{}, fmt.Errorf("read riff header: %w: %w", domain.ErrIO, err)
	}

	var haveFmt bool
	for {
		chunk, err := parser.NextChunk()
		if err != nil {
			if !haveFmt {
				return nil, domain.Track{}, fmt.Errorf("adpcm wave without fmt chunk: %w", domain.ErrUnsupportedFormat)
			}
			return nil, domain.Track{}, fmt.Errorf("adpcm wave without data chunk: %w: %w", domain.ErrIO, err)
		}

		switch chunk.ID {
		case riff.FmtID:
			if err := chunk.DecodeWavHeader(parser); err != nil {
				return nil, domain.Track{}, fmt.Errorf("read fmt chunk: %w: %w", domain.ErrIO, err)
			}
			haveFmt = true
		case riff.DataFormatID:
			if !haveFmt {
				return nil, domain.Track{}, fmt.Errorf("data before fmt chunk: %w", domain.ErrUnsupportedFormat)
			}
			start, err := file.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, domain.Track{}, fmt.Errorf("locate adpcm data: %w: %w", domain.ErrIO, err)
			}
			return newADPCM(file, parser, start, int64(chunk.Size))
		default:
			chunk.Drain()
		}
	}
}

func newADPCM(file *os.File, p *riff.Parser, dataStart, dataSize int64) (source, domain.Track, error) {
	channels := int(p.NumChannels)
	blockAlign := int(p.BlockAlign)
	ima := p.WavAudioFormat == wavFormatIMAADPCM

	if channels < 1 || channels > 2 {
		return nil, domain.Track{}, domain.UnsupportedError(string(containerWAVE), fmt.Sprintf("adpcm with %d channels", channels))
	}

	var spb int
	if ima {
		if p.BitsPerSample != 4 || blockAlign <= 4*channels {
			return nil, domain.Track{}, domain.UnsupportedError(string(containerWAVE), "ima adpcm layout")
		}
		spb = (blockAlign-4*channels)*8/(4*channels) + 1
	} else {
		if blockAlign <= 7*channels {
			return nil, domain.Track{}, domain.UnsupportedError(string(containerWAVE), "ms adpcm layout")
		}
		spb = (blockAlign-7*channels)*2/channels + 2
	}

	blocks := dataSize / int64(blockAlign)
	total := blocks * int64(spb)
	// A trailing partial block still decodes the samples it holds.
	if rest := dataSize % int64(blockAlign); rest > 0 {
		blocks++
		total += partialBlockFrames(ima, int(rest), channels)
	}

	codec := "ms-adpcm"
	if ima {
		codec = "ima-adpcm"
	}
	a := &adpcmWave{
		file:            file,
		ima:             ima,
		channels:        channels,
		blockAlign:      blockAlign,
		samplesPerBlock: spb,
		dataStart:       dataStart,
		dataSize:        dataSize,
		blocks:          blocks,
		total:           total,
		raw:             make([]byte, blockAlign),
		decoded:         make([]float32, spb*channels),
	}
	track := domain.Track{
		Codec:       codec,
		SampleRate:  int(p.SampleRate),
		Channels:    channels,
		TotalFrames: total,
	}
	return a, track, nil
}

func partialBlockFrames(ima bool, size, channels int) int64 {
	if ima {
		if size <= 4*channels {
			return 0
		}
		return int64((size-4*channels)*8/(4*channels) + 1)
	}
	if size <= 7*channels {
		return 0
	}
	return int64((size-7*channels)*2/channels + 2)
}

func (a *adpcmWave) read(dst []float32) (int, error) {
	ch := a.channels
	written := 0
	for written < len(dst)/ch {
		if a.offset >= a.have {
			if err := a.nextBlock(); err != nil {
				if written > 0 && errors.Is(err, io.EOF) {
					return written, nil
				}
				return written, err
			}
		}
		n := copy(dst[written*ch:], a.decoded[a.offset*ch:a.have*ch]) / ch
		a.offset += n
		written += n
	}
	return written, nil
}

func (a *adpcmWave) nextBlock() error {
	if a.block >= a.blocks {
		return io.EOF
	}
	size := int64(a.blockAlign)
	if rest := a.dataSize - a.block*size; rest < size {
		size = rest
	}
	raw := a.raw[:size]
	if _, err := io.ReadFull(a.file, raw); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read adpcm block %d: %w", a.block, err)
	}
	a.block++

	var frames int
	var err error
	if a.ima {
		frames, err = decodeIMABlock(raw, a.channels, a.decoded)
	} else {
		frames, err = decodeMSBlock(raw, a.channels, a.decoded)
	}
	if err != nil {
		a.have, a.offset = 0, 0
		return corrupt(err)
	}
	a.have, a.offset = frames, 0
	return nil
}

func (a *adpcmWave) seek(frame int64) (int64, error) {
	block := frame / int64(a.samplesPerBlock)
	if block >= a.blocks {
		block = a.blocks - 1
	}
	if block < 0 {
		block = 0
	}
	if _, err := a.file.Seek(a.dataStart+block*int64(a.blockAlign), io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek adpcm data: %w: %w", domain.ErrIO, err)
	}
	a.block = block
	a.have, a.offset = 0, 0

	skip := frame - block*int64(a.samplesPerBlock)
	if skip > 0 {
		if err := a.nextBlock(); err != nil {
			return 0, err
		}
		a.offset = int(min(skip, int64(a.have)))
	}
	return block*int64(a.samplesPerBlock) + int64(a.offset), nil
}

func (a *adpcmWave) close() error {
	return a.file.Close()
}

// decodeIMABlock decodes one IMA ADPCM block into interleaved floats.
func decodeIMABlock(raw []byte, channels int, out []float32) (int, error) {
	if len(raw) < 4*channels {
		return 0, errors.New("short ima block")
	}
	pred := make([]int, channels)
	index := make([]int, channels)
	for c := 0; c < channels; c++ {
		h := raw[4*c:]
		pred[c] = int(int16(binary.LittleEndian.Uint16(h)))
		index[c] = int(h[2])
		if index[c] > 88 {
			return 0, fmt.Errorf("ima step index %d", index[c])
		}
		out[c] = float32(pred[c]) / 32768
	}

	// After the header, each channel contributes 4 bytes (8 samples) in turn.
	data := raw[4*channels:]
	groups := len(data) / (4 * channels)
	for g := 0; g < groups; g++ {
		for c := 0; c < channels; c++ {
			chunk := data[(g*channels+c)*4 : (g*channels+c)*4+4]
			for i := 0; i < 8; i++ {
				nibble := chunk[i/2] >> (4 * uint(i%2)) & 0x0f
				pred[c], index[c] = imaStep(pred[c], index[c], nibble)
				frame := 1 + g*8 + i
				out[frame*channels+c] = float32(pred[c]) / 32768
			}
		}
	}
	return 1 + groups*8, nil
}

func imaStep(pred, index int, nibble byte) (int, int) {
	step := imaStepTable[index]
	diff := step >> 3
	if nibble&1 != 0 {
		diff += step >> 2
	}
	if nibble&2 != 0 {
		diff += step >> 1
	}
	if nibble&4 != 0 {
		diff += step
	}
	if nibble&8 != 0 {
		pred -= diff
	} else {
		pred += diff
	}
	pred = max(-32768, min(32767, pred))
	index = max(0, min(88, index+imaIndexTable[nibble]))
	return pred, index
}

// decodeMSBlock decodes one Microsoft ADPCM block into interleaved floats.
func decodeMSBlock(raw []byte, channels int, out []float32) (int, error) {
	if len(raw) < 7*channels {
		return 0, errors.New("short ms adpcm block")
	}
	coef1 := make([]int, channels)
	coef2 := make([]int, channels)
	delta := make([]int, channels)
	s1 := make([]int, channels)
	s2 := make([]int, channels)

	p := 0
	for c := 0; c < channels; c++ {
		pi := int(raw[p])
		if pi >= len(msCoefficients) {
			return 0, fmt.Errorf("ms adpcm predictor %d", pi)
		}
		coef1[c], coef2[c] = msCoefficients[pi][0], msCoefficients[pi][1]
		p++
	}
	for c := 0; c < channels; c++ {
		delta[c] = int(int16(binary.LittleEndian.Uint16(raw[p:])))
		p += 2
	}
	for c := 0; c < channels; c++ {
		s1[c] = int(int16(binary.LittleEndian.Uint16(raw[p:])))
		p += 2
	}
	for c := 0; c < channels; c++ {
		s2[c] = int(int16(binary.LittleEndian.Uint16(raw[p:])))
		p += 2
	}

	// The header holds the first two samples, oldest in s2.
	for c := 0; c < channels; c++ {
		out[c] = float32(s2[c]) / 32768
		out[channels+c] = float32(s1[c]) / 32768
	}

	frame := 2
	c := 0
	for _, b := range raw[p:] {
		for _, nibble := range [2]byte{b >> 4, b & 0x0f} {
			signed := int(nibble)
			if signed >= 8 {
				signed -= 16
			}
			pred := (s1[c]*coef1[c]+s2[c]*coef2[c])/256 + signed*delta[c]
			pred = max(-32768, min(32767, pred))
			s2[c], s1[c] = s1[c], pred
			delta[c] = max(16, msAdaptationTable[nibble]*delta[c]/256)

			out[frame*channels+c] = float32(pred) / 32768
			c++
			if c == channels {
				c = 0
				frame++
			}
		}
	}
	return frame, nil
}
