package decoder

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// WAVE format tags.
const (
	wavFormatPCM        = 0x0001
	wavFormatMSADPCM    = 0x0002
	wavFormatFloat      = 0x0003
	wavFormatALaw       = 0x0006
	wavFormatMuLaw      = 0x0007
	wavFormatIMAADPCM   = 0x0011
	wavFormatMPEG3      = 0x0055
	wavFormatExtensible = 0xfffe
)

func wavCodecName(tag uint16) string {
	switch tag {
	case wavFormatALaw:
		return "a-law"
	case wavFormatMuLaw:
		return "mu-law"
	case wavFormatMPEG3:
		return "mp3"
	default:
		return fmt.Sprintf("format 0x%04x", tag)
	}
}

// openWAVE reads the fmt chunk and dispatches to the PCM or ADPCM reader.
func openWAVE(file *os.File) (source, domain.Track, error) {
	dec := wav.NewDecoder(file)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, domain.Track{}, fmt.Errorf("read wave header: %w: %w", domain.ErrIO, err)
	}

	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatFloat, wavFormatExtensible:
		return openPCMWave(file, dec)
	case wavFormatIMAADPCM, wavFormatMSADPCM:
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, domain.Track{}, fmt.Errorf("rewind wave: %w: %w", domain.ErrIO, err)
		}
		return openADPCM(file)
	default:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerWAVE), wavCodecName(dec.WavAudioFormat))
	}
}

// pcmWave reads integer and float PCM through go-audio/wav.
type pcmWave struct {
	file      *os.File
	dec       *wav.Decoder
	channels  int
	bitDepth  int
	float     bool
	dataStart int64
	frameSize int64
	total     int64
	pos       int64
	ints      *audio.IntBuffer
}

func openPCMWave(file *os.File, dec *wav.Decoder) (source, domain.Track, error) {
	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	isFloat := dec.WavAudioFormat == wavFormatFloat

	switch {
	case channels < 1:
		return nil, domain.Track{}, fmt.Errorf("wave with %d channels: %w", channels, domain.ErrUnsupportedFormat)
	case isFloat && bitDepth != 32:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerWAVE), fmt.Sprintf("float%d", bitDepth))
	case bitDepth != 8 && bitDepth != 16 && bitDepth != 24 && bitDepth != 32:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerWAVE), fmt.Sprintf("pcm%d", bitDepth))
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, domain.Track{}, fmt.Errorf("find wave data: %w: %w", domain.ErrIO, err)
	}
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("locate wave data: %w: %w", domain.ErrIO, err)
	}

	frameSize := int64(channels * bitDepth / 8)
	w := &pcmWave{
		file:      file,
		dec:       dec,
		channels:  channels,
		bitDepth:  bitDepth,
		float:     isFloat,
		dataStart: start,
		frameSize: frameSize,
		total:     int64(dec.PCMSize) / frameSize,
		ints: &audio.IntBuffer{
			Format: dec.Format(),
			Data:   make([]int, BlockFrames*channels),
		},
	}

	codec := "pcm"
	if isFloat {
		codec = "float"
	}
	track := domain.Track{
		Codec:       codec,
		SampleRate:  int(dec.SampleRate),
		Channels:    channels,
		TotalFrames: w.total,
	}
	return w, track, nil
}

func (w *pcmWave) read(dst []float32) (int, error) {
	frames := int64(len(dst) / w.channels)
	if remaining := w.total - w.pos; frames > remaining {
		frames = remaining
	}
	if frames <= 0 {
		return 0, io.EOF
	}

	w.ints.Data = w.ints.Data[:cap(w.ints.Data)]
	if want := int(frames) * w.channels; want < len(w.ints.Data) {
		w.ints.Data = w.ints.Data[:want]
	}
	n, err := w.dec.PCMBuffer(w.ints)
	n -= n % w.channels
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	scale := intScale(w.bitDepth)
	for i, v := range w.ints.Data[:n] {
		switch {
		case w.float:
			dst[i] = math.Float32frombits(uint32(int32(v)))
		case w.bitDepth == 8:
			// 8-bit WAVE samples are unsigned.
			dst[i] = float32(v-128) / 128
		default:
			dst[i] = float32(v) * scale
		}
	}

	got := n / w.channels
	w.pos += int64(got)
	if err != nil && !errors.Is(err, io.EOF) {
		return got, fmt.Errorf("read wave data: %w", err)
	}
	return got, nil
}

func (w *pcmWave) seek(frame int64) (int64, error) {
	offset := w.dataStart + frame*w.frameSize
	if _, err := w.file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek wave data: %w: %w", domain.ErrIO, err)
	}
	// The data chunk reader is bounded by what is left of the chunk.
	w.dec.PCMChunk.R = io.LimitReader(w.file, (w.total-frame)*w.frameSize)
	w.pos = frame
	return frame, nil
}

func (w *pcmWave) close() error {
	return w.file.Close()
}

// intScale maps a signed integer sample of bitDepth bits to [-1, 1).
func intScale(bitDepth int) float32 {
	return 1 / float32(int64(1)<<(bitDepth-1))
}
