// Package search narrows encoder quality until the output fits a size ceiling.
package search

import (
	"context"
	"fmt"

	"github.com/Skryldev/image-compressor/config"
	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/policy"
)

// Outcome is the result of FitToSize.
type Outcome struct {
	Params core.EncoderParams
	// Data holds the bytes encoded at Params.Quality; nil when not Applied.
	Data []byte
	// Iterations counts trial encodes, including any floor fallback.
	Iterations int
	TargetMet  bool
	// Applied is false when the format has no quality knob to search.
	Applied bool
}

// Finisher turns a trial encode into the bytes that will actually be
// written, for example by re-inserting carried metadata.  Sizes are measured
// after it runs.
type Finisher func([]byte) []byte

// Searcher runs a bounded binary search over the quality axis.
type Searcher struct {
	registry core.Registry
	floor    int
	maxIter  int
}

// New returns a Searcher bounded by cfg.
func New(reg core.Registry, cfg config.SearchConfig) *Searcher {
	return &Searcher{registry: reg, floor: cfg.QualityFloor, maxIter: cfg.MaxIterations}
}

// FitToSize returns the highest quality in [floor, nominal] whose encoding
// fits maxSize once passed through finish (nil means the raw encode).  The
// nominal quality is probed first.  When even the floor does not fit, the
// floor encoding is returned with TargetMet false.  At most MaxIterations
// trial encodes run in total; the last one is kept for the floor.
func (s *Searcher) FitToSize(ctx context.Context, h *core.ImageHandle, p core.EncoderParams, maxSize int64, finish Finisher) (Outcome, error) {
	if maxSize <= 0 || !policy.SearchApplies(p) {
		return Outcome{Params: p}, nil
	}
	enc, ok := s.registry.EncoderFor(p.Format)
	if !ok {
		return Outcome{}, apperrors.New(apperrors.CategoryEncodeFailure, "search",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, p.Format))
	}

	nominal := p.Quality
	floor := s.floor
	if floor > nominal {
		floor = nominal
	}

	out := Outcome{Applied: true}
	cache := make(map[int][]byte)
	encodeAt := func(q int) ([]byte, error) {
		if b, ok := cache[q]; ok {
			return b, nil
		}
		trial := p
		trial.Quality = q
		b, err := enc.Encode(ctx, h, trial)
		if err != nil {
			return nil, err
		}
		out.Iterations++
		if finish != nil {
			b = finish(b)
		}
		cache[q] = b
		return b, nil
	}
	result := func(q int, data []byte, met bool) Outcome {
		out.Params = p
		out.Params.Quality = q
		out.Data = data
		out.TargetMet = met
		return out
	}

	data, err := encodeAt(nominal)
	if err != nil {
		return Outcome{}, err
	}
	if int64(len(data)) <= maxSize {
		return result(nominal, data, true), nil
	}

	best := -1
	lo, hi := floor, nominal-1
	for lo <= hi && out.Iterations < s.maxIter-1 {
		if err := ctx.Err(); err != nil {
			return Outcome{}, apperrors.Wrap(apperrors.CategoryCancelled, "search", err)
		}
		mid := (lo + hi) / 2
		b, err := encodeAt(mid)
		if err != nil {
			return Outcome{}, err
		}
		if int64(len(b)) <= maxSize {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best >= 0 {
		return result(best, cache[best], true), nil
	}

	data, err = encodeAt(floor)
	if err != nil {
		return Outcome{}, err
	}
	return result(floor, data, int64(len(data)) <= maxSize), nil
}
