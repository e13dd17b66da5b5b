package engine

import (
	"context"
	"errors"
	"io"
	"math"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/ports"
)

// envelopeGrain is the number of frames reduced into one fine peak before the
// final bucketing.
const envelopeGrain = 256

// ComputeEnvelope decodes dec from its current position to the end and
// reduces it to buckets peak amplitudes. It also returns the number of frames
// decoded, which is exact even when the container header is not.
//
// Corrupt blocks are skipped like the producer does; an unrecoverable error
// aborts.
func ComputeEnvelope(ctx context.Context, dec ports.Decoder, buckets int) (domain.Envelope, int64, error) {
	if buckets <= 0 {
		buckets = 1
	}

	var (
		fine   []float32
		peak   float32
		inFine int
		end    int64
		skips  int
	)

	for {
		if err := ctx.Err(); err != nil {
			return domain.Envelope{}, 0, err
		}

		block, err := dec.NextBlock()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if domain.IsRecoverable(err) && skips < maxRecoverableSkips {
				skips++
				continue
			}
			return domain.Envelope{}, 0, err
		}
		skips = 0

		ch := block.Channels
		for i := 0; i < block.Frames(); i++ {
			for _, v := range block.Samples[i*ch : (i+1)*ch] {
				if v < 0 {
					v = -v
				}
				if v > peak {
					peak = v
				}
			}
			inFine++
			if inFine == envelopeGrain {
				fine = append(fine, peak)
				peak, inFine = 0, 0
			}
		}
		if e := block.EndFrame(); e > end {
			end = e
		}
	}
	if inFine > 0 {
		fine = append(fine, peak)
	}

	return domain.Envelope{Peaks: bucketPeaks(fine, buckets)}, end, nil
}

// bucketPeaks reduces fine peaks to n buckets by taking the maximum of each span.
func bucketPeaks(fine []float32, n int) []float32 {
	out := make([]float32, n)
	if len(fine) == 0 {
		return out
	}
	for i := range out {
		lo := i * len(fine) / n
		hi := (i + 1) * len(fine) / n
		if hi <= lo {
			hi = lo + 1
		}
		var m float32
		for _, v := range fine[lo:min(hi, len(fine))] {
			m = float32(math.Max(float64(m), float64(v)))
		}
		out[i] = m
	}
	return out
}
