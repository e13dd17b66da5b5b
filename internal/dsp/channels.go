package dsp

// MapChannels converts frames interleaved with srcChannels channels into dst
// with dstChannels channels. Mono is copied to every output channel, extra
// source channels are folded into the outputs by averaging.
// Returns the number of frames converted.
func MapChannels(dst []float32, dstChannels int, src []float32, srcChannels int) int {
	if srcChannels <= 0 || dstChannels <= 0 {
		return 0
	}
	frames := len(src) / srcChannels
	if limit := len(dst) / dstChannels; frames > limit {
		frames = limit
	}

	switch {
	case srcChannels == dstChannels:
		copy(dst, src[:frames*srcChannels])

	case srcChannels == 1:
		for i := 0; i < frames; i++ {
			v := src[i]
			for c := 0; c < dstChannels; c++ {
				dst[i*dstChannels+c] = v
			}
		}

	case dstChannels == 1:
		scale := 1 / float32(srcChannels)
		for i := 0; i < frames; i++ {
			var sum float32
			for c := 0; c < srcChannels; c++ {
				sum += src[i*srcChannels+c]
			}
			dst[i] = sum * scale
		}

	default:
		// Fold source channel c onto output c mod dstChannels.
		for i := 0; i < frames; i++ {
			out := dst[i*dstChannels : (i+1)*dstChannels]
			for c := range out {
				out[c] = 0
			}
			in := src[i*srcChannels : (i+1)*srcChannels]
			for c, v := range in {
				out[c%dstChannels] += v
			}
			for c := range out {
				n := (srcChannels - c + dstChannels - 1) / dstChannels
				out[c] /= float32(n)
			}
		}
	}

	return frames
}
