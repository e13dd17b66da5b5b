package decoder

import (
	"bytes"
)

type container string

const (
	containerUnknown  container = ""
	containerWAVE     container = "wav"
	containerAIFF     container = "aiff"
	containerMP3      container = "mp3"
	containerOgg      container = "ogg"
	containerFLAC     container = "flac"
	containerMatroska container = "matroska"
	containerCAF      container = "caf"
	containerMP4      container = "mp4"
	containerWavPack  container = "wavpack"
)

// probeSize is how much of the file probeContainer looks at.
const probeSize = 64

// probeContainer identifies the container from the first bytes of a file.
func probeContainer(head []byte) container {
	switch {
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return containerWAVE
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("FORM")) &&
		(bytes.Equal(head[8:12], []byte("AIFF")) || bytes.Equal(head[8:12], []byte("AIFC"))):
		return containerAIFF
	case bytes.HasPrefix(head, []byte("OggS")):
		return containerOgg
	case bytes.HasPrefix(head, []byte("fLaC")):
		return containerFLAC
	case bytes.HasPrefix(head, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return containerMatroska
	case bytes.HasPrefix(head, []byte("caff")):
		return containerCAF
	case bytes.HasPrefix(head, []byte("wvpk")):
		return containerWavPack
	case len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")):
		return containerMP4
	case bytes.HasPrefix(head, []byte("ID3")):
		if id3FLAC(head) {
			return containerFLAC
		}
		return containerMP3
	case isMPEGSync(head):
		return containerMP3
	default:
		return containerUnknown
	}
}

// id3FLAC reports whether an ID3 tag in head is followed by a FLAC marker.
// Only tags small enough to fit the probe window are inspected.
func id3FLAC(head []byte) bool {
	if len(head) < 10 {
		return false
	}
	end := 10 + id3Size(head[6:10])
	return end+4 <= len(head) && bytes.Equal(head[end:end+4], []byte("fLaC"))
}

// id3Size decodes the 28-bit syncsafe size of an ID3v2 header.
func id3Size(b []byte) int {
	return int(b[0]&0x7f)<<21 | int(b[1]&0x7f)<<14 | int(b[2]&0x7f)<<7 | int(b[3]&0x7f)
}

// isMPEGSync reports whether head starts with an MPEG audio frame header.
func isMPEGSync(head []byte) bool {
	if len(head) < 4 || head[0] != 0xff || head[1]&0xe0 != 0xe0 {
		return false
	}
	layer := head[1] >> 1 & 0x3
	bitrate := head[2] >> 4
	rate := head[2] >> 2 & 0x3
	return layer != 0 && bitrate != 0xf && rate != 0x3
}
