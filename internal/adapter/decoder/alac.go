package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/icza/bitio"
)

// ALAC element tags.
const (
	alacSCE = 0
	alacCPE = 1
	alacCCE = 2
	alacLFE = 3
	alacDSE = 4
	alacPCE = 5
	alacFIL = 6
	alacEND = 7
)

// Adaptive Golomb coder constants.
const (
	agQBShift   = 9
	agQB        = 1 << agQBShift
	agMMulShift = 2
	agMDenShift = agQBShift - agMMulShift - 1
	agMOff      = 1 << (agMDenShift - 2)
	agBitOff    = 24
	agMaxPrefix = 9
	agRunBits   = 16
	agMeanClamp = 0xffff
	agLongRun   = 65535
)

// alacCookieLen is the size of an ALACSpecificConfig.
const alacCookieLen = 24

var errALACPacket = errors.New("malformed alac packet")

// alacConfig is the ALACSpecificConfig stored in an MP4 sample entry.
type alacConfig struct {
	frameLength uint32
	bitDepth    uint8
	pb          uint8
	mb          uint8
	kb          uint8
	channels    uint8
	maxRun      uint16
	sampleRate  uint32
}

// findALACCookie locates the config inside a sample entry payload. The
// config box is a 36 byte full box, possibly nested in a QuickTime wave box.
func findALACCookie(entry []byte) ([]byte, bool) {
	marker := []byte{0, 0, 0, 8 + 4 + alacCookieLen, 'a', 'l', 'a', 'c'}
	i := bytes.Index(entry, marker)
	if i < 0 || i+len(marker)+4+alacCookieLen > len(entry) {
		return nil, false
	}
	start := i + len(marker) + 4
	return entry[start : start+alacCookieLen], true
}

func parseALACConfig(cookie []byte) (alacConfig, error) {
	if len(cookie) < alacCookieLen {
		return alacConfig{}, fmt.Errorf("alac config of %d bytes", len(cookie))
	}
	cfg := alacConfig{
		frameLength: binary.BigEndian.Uint32(cookie[0:4]),
		bitDepth:    cookie[5],
		pb:          cookie[6],
		mb:          cookie[7],
		kb:          cookie[8],
		channels:    cookie[9],
		maxRun:      binary.BigEndian.Uint16(cookie[10:12]),
		sampleRate:  binary.BigEndian.Uint32(cookie[20:24]),
	}
	switch {
	case cfg.frameLength == 0 || cfg.frameLength > 1<<16:
		return cfg, fmt.Errorf("alac frame length %d", cfg.frameLength)
	case cfg.channels == 0 || cfg.channels > 8:
		return cfg, fmt.Errorf("alac with %d channels", cfg.channels)
	case cfg.bitDepth != 16 && cfg.bitDepth != 20 && cfg.bitDepth != 24 && cfg.bitDepth != 32:
		return cfg, fmt.Errorf("%d-bit alac", cfg.bitDepth)
	case cfg.kb == 0 || cfg.kb > 31:
		return cfg, fmt.Errorf("alac rice limit %d", cfg.kb)
	}
	return cfg, nil
}

// alacDecoder turns ALAC packets into interleaved integer samples at the
// configured bit depth. Packets are independent of each other.
type alacDecoder struct {
	cfg        alacConfig
	predictor  []int32
	mixU, mixV []int32
	shift      []uint16
	out        []int32
}

func newALACDecoder(cfg alacConfig) *alacDecoder {
	n := int(cfg.frameLength)
	return &alacDecoder{
		cfg:       cfg,
		predictor: make([]int32, n),
		mixU:      make([]int32, n),
		mixV:      make([]int32, n),
		shift:     make([]uint16, 2*n),
		out:       make([]int32, n*int(cfg.channels)),
	}
}

// alacParams are the per-channel prediction parameters of a compressed element.
type alacParams struct {
	mode     uint
	denShift uint
	pbFactor uint32
	coefs    []int16
}

// decode decodes one packet into d.out and returns its frame count.
func (d *alacDecoder) decode(packet []byte) (int, error) {
	br := bitio.NewReader(bytes.NewReader(packet))
	channels := int(d.cfg.channels)
	frames := 0
	for ch := 0; ch < channels; {
		tag := br.TryReadBits(3)
		if br.TryError != nil {
			return 0, fmt.Errorf("%w: %w", errALACPacket, br.TryError)
		}

		var (
			n   int
			err error
		)
		switch tag {
		case alacSCE, alacLFE:
			n, err = d.decodeMono(br, ch)
			ch++
		case alacCPE:
			if ch+2 > channels {
				return 0, fmt.Errorf("%w: channel pair past channel %d", errALACPacket, channels)
			}
			n, err = d.decodeStereo(br, ch)
			ch += 2
		case alacDSE:
			skipALACData(br)
			continue
		case alacFIL:
			skipALACFill(br)
			continue
		case alacEND:
			if ch == 0 {
				return 0, fmt.Errorf("%w: no audio elements", errALACPacket)
			}
			return frames, nil
		default:
			return 0, fmt.Errorf("%w: unsupported element %d", errALACPacket, tag)
		}
		if err != nil {
			return 0, err
		}
		if br.TryError != nil {
			return 0, fmt.Errorf("%w: %w", errALACPacket, br.TryError)
		}
		if frames != 0 && n != frames {
			return 0, fmt.Errorf("%w: elements disagree on length", errALACPacket)
		}
		frames = n
	}
	return frames, nil
}

// readHeader reads the element header up to the prediction parameters and
// returns the frame count, shifted byte count and escape flag.
func (d *alacDecoder) readHeader(br *bitio.Reader) (int, uint, bool, error) {
	br.TryReadBits(4)
	if br.TryReadBits(12) != 0 {
		return 0, 0, false, fmt.Errorf("%w: reserved header bits set", errALACPacket)
	}
	head := br.TryReadBits(4)
	partial := head>>3 != 0
	shifted := uint(head >> 1 & 0x3)
	escape := head&0x1 != 0
	if shifted == 3 {
		return 0, 0, false, fmt.Errorf("%w: shift of 3 bytes", errALACPacket)
	}

	frames := int(d.cfg.frameLength)
	if partial {
		frames = int(br.TryReadBits(32))
	}
	if frames <= 0 || frames > int(d.cfg.frameLength) {
		return 0, 0, false, fmt.Errorf("%w: %d frames in packet", errALACPacket, frames)
	}
	return frames, shifted, escape, br.TryError
}

func readALACParams(br *bitio.Reader) alacParams {
	head := br.TryReadBits(8)
	p := alacParams{mode: uint(head >> 4), denShift: uint(head & 0xf)}
	head = br.TryReadBits(8)
	p.pbFactor = uint32(head >> 5)
	p.coefs = make([]int16, head&0x1f)
	for i := range p.coefs {
		p.coefs[i] = int16(br.TryReadBits(16))
	}
	return p
}

func (d *alacDecoder) decodeMono(br *bitio.Reader, ch int) (int, error) {
	frames, shifted, escape, err := d.readHeader(br)
	if err != nil {
		return 0, err
	}
	chanBits := uint(d.cfg.bitDepth) - shifted*8

	if escape {
		readVerbatim(br, d.mixU[:frames], chanBits)
		shifted = 0
	} else {
		br.TryReadBits(16) // mix bits and residue, unused for one channel
		params := readALACParams(br)
		d.readShift(br, frames, shifted, 1)
		if err := d.predict(br, d.mixU, frames, chanBits, params); err != nil {
			return 0, err
		}
	}

	channels := int(d.cfg.channels)
	for i := 0; i < frames; i++ {
		v := d.mixU[i]
		if shifted != 0 {
			v = v<<(shifted*8) | int32(d.shift[i])
		}
		d.out[i*channels+ch] = v
	}
	return frames, nil
}

func (d *alacDecoder) decodeStereo(br *bitio.Reader, ch int) (int, error) {
	frames, shifted, escape, err := d.readHeader(br)
	if err != nil {
		return 0, err
	}
	chanBits := uint(d.cfg.bitDepth) - shifted*8 + 1

	var mixBits, mixRes int32
	if escape {
		chanBits = uint(d.cfg.bitDepth)
		for i := 0; i < frames; i++ {
			d.mixU[i] = signExtend(uint32(br.TryReadBits(uint8(chanBits))), chanBits)
			d.mixV[i] = signExtend(uint32(br.TryReadBits(uint8(chanBits))), chanBits)
		}
		shifted = 0
	} else {
		mixBits = int32(br.TryReadBits(8))
		mixRes = int32(int8(br.TryReadBits(8)))
		paramsU := readALACParams(br)
		paramsV := readALACParams(br)
		d.readShift(br, frames, shifted, 2)
		if err := d.predict(br, d.mixU, frames, chanBits, paramsU); err != nil {
			return 0, err
		}
		if err := d.predict(br, d.mixV, frames, chanBits, paramsV); err != nil {
			return 0, err
		}
	}

	channels := int(d.cfg.channels)
	for i := 0; i < frames; i++ {
		l, r := d.mixU[i], d.mixV[i]
		if mixRes != 0 {
			l = d.mixU[i] + d.mixV[i] - (mixRes*d.mixV[i])>>mixBits
			r = l - d.mixV[i]
		}
		if shifted != 0 {
			l = l<<(shifted*8) | int32(d.shift[2*i])
			r = r<<(shifted*8) | int32(d.shift[2*i+1])
		}
		d.out[i*channels+ch] = l
		d.out[i*channels+ch+1] = r
	}
	return frames, nil
}

// readShift reads the low bytes that were split off before prediction.
func (d *alacDecoder) readShift(br *bitio.Reader, frames int, shifted uint, channels int) {
	if shifted == 0 {
		return
	}
	for i := 0; i < frames*channels; i++ {
		d.shift[i] = uint16(br.TryReadBits(uint8(shifted * 8)))
	}
}

// predict decodes one channel's residuals and runs them through the
// adaptive predictor into dst.
func (d *alacDecoder) predict(br *bitio.Reader, dst []int32, frames int, chanBits uint, p alacParams) error {
	pb := uint32(d.cfg.pb) * p.pbFactor / 4
	if err := d.decodeResiduals(br, d.predictor[:frames], chanBits, pb); err != nil {
		return err
	}
	if p.mode != 0 {
		unpredict(d.predictor, d.predictor, frames, nil, 31, chanBits, 0)
	}
	unpredict(d.predictor, dst, frames, p.coefs, len(p.coefs), chanBits, p.denShift)
	return nil
}

// decodeResiduals reads adaptive Golomb coded residuals with zero runs.
func (d *alacDecoder) decodeResiduals(br *bitio.Reader, dst []int32, chanBits uint, pb uint32) error {
	kb := uint32(d.cfg.kb)
	wb := uint32(1)<<kb - 1
	mb := uint32(d.cfg.mb)
	zmode := uint32(0)

	for c := 0; c < len(dst); {
		k := min(uint32(31-bits.LeadingZeros32((mb>>agQBShift)+3)), kb)
		n := readGolomb(br, uint32(1)<<k-1, k, chanBits)
		if br.TryError != nil {
			return fmt.Errorf("%w: %w", errALACPacket, br.TryError)
		}

		nd := n + zmode
		sign := -int32(nd&1) | 1
		dst[c] = int32((nd+1)>>1) * sign
		c++

		mb = pb*(n+zmode) + mb - (pb*mb)>>agQBShift
		if n > agMeanClamp {
			mb = agMeanClamp
		}

		zmode = 0
		if mb<<agMMulShift < agQB && c < len(dst) {
			zmode = 1
			k := uint32(bits.LeadingZeros32(mb)) - agBitOff + (mb+agMOff)>>agMDenShift
			run := readGolomb(br, (uint32(1)<<k-1)&wb, k, agRunBits)
			if c+int(run) > len(dst) {
				return fmt.Errorf("%w: zero run past frame end", errALACPacket)
			}
			for i := uint32(0); i < run; i++ {
				dst[c] = 0
				c++
			}
			if run >= agLongRun {
				zmode = 0
			}
			mb = 0
		}
	}
	return nil
}

// readGolomb reads one value: a unary prefix capped at agMaxPrefix, then
// either k bits of remainder or, past the cap, escBits of raw value.
func readGolomb(br *bitio.Reader, m, k uint32, escBits uint) uint32 {
	pre := uint32(0)
	for pre < agMaxPrefix && br.TryReadBool() {
		pre++
	}
	if pre >= agMaxPrefix {
		return uint32(br.TryReadBits(uint8(escBits)))
	}
	if k <= 1 {
		return pre * m
	}
	hi := uint32(br.TryReadBits(uint8(k - 1)))
	if hi == 0 {
		return pre * m
	}
	v := hi<<1 | uint32(br.TryReadBits(1))
	return pre*m + v - 1
}

// unpredict runs the adaptive FIR predictor backwards. Its coefficients
// adapt as it goes, so coefs is modified. active 31 is a plain running sum.
func unpredict(pc, out []int32, n int, coefs []int16, active int, chanBits, denShift uint) {
	if n == 0 {
		return
	}
	chanShift := 32 - chanBits
	var denHalf int32
	if denShift > 0 {
		denHalf = 1 << (denShift - 1)
	}

	out[0] = pc[0]
	switch active {
	case 0:
		copy(out[1:n], pc[1:n])
		return
	case 31:
		prev := out[0]
		for j := 1; j < n; j++ {
			prev = (pc[j] + prev) << chanShift >> chanShift
			out[j] = prev
		}
		return
	}

	for j := 1; j <= active && j < n; j++ {
		out[j] = (pc[j] + out[j-1]) << chanShift >> chanShift
	}

	lim := active + 1
	for j := lim; j < n; j++ {
		top := out[j-lim]
		var sum int32
		for k := 0; k < active; k++ {
			sum += int32(coefs[k]) * (out[j-1-k] - top)
		}

		del := pc[j]
		del0 := del
		sg := signOf(del)
		del += top + (sum+denHalf)>>denShift
		out[j] = del << chanShift >> chanShift

		switch {
		case sg > 0:
			for k := active - 1; k >= 0; k-- {
				dd := top - out[j-1-k]
				sgn := signOf(dd)
				coefs[k] -= int16(sgn)
				del0 -= int32(active-k) * ((sgn * dd) >> denShift)
				if del0 <= 0 {
					break
				}
			}
		case sg < 0:
			for k := active - 1; k >= 0; k-- {
				dd := top - out[j-1-k]
				sgn := signOf(dd)
				coefs[k] += int16(sgn)
				del0 -= int32(active-k) * ((-sgn * dd) >> denShift)
				if del0 >= 0 {
					break
				}
			}
		}
	}
}

func readVerbatim(br *bitio.Reader, dst []int32, chanBits uint) {
	for i := range dst {
		dst[i] = signExtend(uint32(br.TryReadBits(uint8(chanBits))), chanBits)
	}
}

func skipALACData(br *bitio.Reader) {
	br.TryReadBits(4)
	align := br.TryReadBool()
	count := br.TryReadBits(8)
	if count == 255 {
		count += br.TryReadBits(8)
	}
	if align {
		br.Align()
	}
	for ; count > 0; count-- {
		br.TryReadBits(8)
	}
}

func skipALACFill(br *bitio.Reader) {
	count := br.TryReadBits(4)
	if count == 15 {
		count += br.TryReadBits(8) - 1
	}
	for ; count > 0; count-- {
		br.TryReadBits(8)
	}
}

func signExtend(v uint32, width uint) int32 {
	shift := 32 - width
	return int32(v<<shift) >> shift
}

func signOf(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
