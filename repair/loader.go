// Package repair loads source bytes into an ImageHandle, falling back to an
// ordered list of recovery strategies when the strict decode fails.
package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/utils"
)

// LoadResult is the outcome of a Load call.  On failure Handle is nil and
// Log still carries every attempt made.
type LoadResult struct {
	Handle   *core.ImageHandle
	Format   core.Format
	Repaired bool
	// Method is the user-facing label of the strategy that succeeded.
	Method string
	Log    []core.RepairAttempt
}

// Loader is the image loader/repair unit.  It holds no per-file state and
// is safe for concurrent use.
type Loader struct {
	registry   core.Registry
	logger     core.Logger
	strategies []Strategy
}

// NewLoader returns a Loader using DefaultStrategies.
func NewLoader(reg core.Registry, logger core.Logger) *Loader {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Loader{registry: reg, logger: logger, strategies: DefaultStrategies()}
}

// WithStrategies replaces the strategy list.  Order is significant.
func (l *Loader) WithStrategies(s ...Strategy) *Loader {
	cp := *l
	cp.strategies = append([]Strategy(nil), s...)
	return &cp
}

// Load decodes raw strictly.  When that fails and autoRepair is set, each
// strategy is tried once, in order, until one yields a valid handle.
func (l *Loader) Load(ctx context.Context, raw []byte, autoRepair bool) (*LoadResult, error) {
	format := core.Format(utils.DetectFormat(raw))
	res := &LoadResult{Format: format}

	dec, _ := l.registry.DecoderFor(format)
	in := Input{Raw: raw, Format: format, Decoder: dec}

	h, err := l.strict(ctx, in)
	if err == nil {
		res.Handle = withFormat(h, format)
		return res, nil
	}
	if !autoRepair {
		return res, apperrors.New(apperrors.CategoryCorruptInput, "load", err)
	}

	l.logger.Warn("strict decode failed, attempting repair", "format", format, "error", err.Error())

	lastErr := err
	for _, s := range l.strategies {
		if cerr := ctx.Err(); cerr != nil {
			return res, apperrors.New(apperrors.CategoryUnrepairableInput, "load", cerr)
		}
		h, serr := s.Attempt(ctx, in)
		if serr == nil {
			serr = validate(h, true)
			if serr != nil {
				h.Release()
			}
		}
		attempt := core.RepairAttempt{Strategy: s.Name(), Succeeded: serr == nil}
		if serr != nil {
			attempt.Error = serr.Error()
			lastErr = serr
		}
		res.Log = append(res.Log, attempt)
		l.logger.Info("repair attempt", "strategy", s.Name(), "succeeded", attempt.Succeeded)

		if serr == nil {
			res.Handle = withFormat(h, format)
			res.Repaired = true
			res.Method = s.Method()
			return res, nil
		}
	}

	return res, apperrors.New(apperrors.CategoryUnrepairableInput, "load",
		fmt.Errorf("%w: %v", apperrors.ErrAllStrategiesFailed, lastErr))
}

func (l *Loader) strict(ctx context.Context, in Input) (*core.ImageHandle, error) {
	if len(in.Raw) == 0 {
		return nil, apperrors.ErrEmptyInput
	}
	if in.Decoder == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, in.Format)
	}
	h, err := in.Decoder.Decode(ctx, in.Raw, core.DecodeStrict)
	if err != nil {
		return nil, err
	}
	if err := validate(h, false); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}

// validate checks a decoded handle.  Repaired handles must also be in a
// standard colour model.
func validate(h *core.ImageHandle, repaired bool) error {
	if h == nil || h.Pixels == nil {
		return errors.New("decoder returned no image")
	}
	if h.Bounds().Empty() {
		return apperrors.ErrInvalidDimensions
	}
	if repaired && h.ColorMode == core.ColorModeCMYK {
		return fmt.Errorf("%w: %s", apperrors.ErrUnsupportedColorMode, h.ColorMode)
	}
	return nil
}

func withFormat(h *core.ImageHandle, f core.Format) *core.ImageHandle {
	if h.Format == "" || h.Format == core.FormatUnknown {
		h.Format = f
	}
	return h
}
