package repair

import (
	"context"
	"fmt"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/utils"
)

// Input is what every strategy sees: the untouched source bytes, their
// sniffed format and the decoder registered for it (nil if none).
type Input struct {
	Raw     []byte
	Format  core.Format
	Decoder core.Decoder
}

// Strategy is one named recovery attempt.  Attempt must not modify Raw.
type Strategy interface {
	// Name identifies the strategy in the repair log.
	Name() string
	// Method is the label reported on a repaired result.
	Method() string
	Attempt(ctx context.Context, in Input) (*core.ImageHandle, error)
}

// DefaultStrategies returns the fixed recovery order.
func DefaultStrategies() []Strategy {
	return []Strategy{TruncatedTolerant{}, ForceRGB{}, StripMetadata{}}
}

// TruncatedTolerant decodes with stream-completeness checks relaxed.
type TruncatedTolerant struct{}

func (TruncatedTolerant) Name() string   { return "truncated-tolerant decode" }
func (TruncatedTolerant) Method() string { return "truncated loading" }

func (TruncatedTolerant) Attempt(ctx context.Context, in Input) (*core.ImageHandle, error) {
	if in.Decoder == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, in.Format)
	}
	return in.Decoder.Decode(ctx, in.Raw, core.DecodeTolerant)
}

// ForceRGB performs a tolerant decode and coerces the result into NRGBA,
// reporting RGB or RGBA depending on whether the source carried alpha.
type ForceRGB struct{}

func (ForceRGB) Name() string   { return "forced color-mode normalization" }
func (ForceRGB) Method() string { return "force RGB conversion" }

func (ForceRGB) Attempt(ctx context.Context, in Input) (*core.ImageHandle, error) {
	h, err := TruncatedTolerant{}.Attempt(ctx, in)
	if err != nil {
		return nil, err
	}
	return normalize(h), nil
}

// StripMetadata discards metadata blocks and decodes what remains, strictly
// first and tolerantly second.
type StripMetadata struct{}

func (StripMetadata) Name() string   { return "metadata-stripped re-decode" }
func (StripMetadata) Method() string { return "strip metadata" }

func (StripMetadata) Attempt(ctx context.Context, in Input) (*core.ImageHandle, error) {
	if in.Decoder == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, in.Format)
	}
	var (
		stripped []byte
		err      error
	)
	switch in.Format {
	case core.FormatJPEG:
		stripped, err = utils.StripAppSegments(in.Raw)
	case core.FormatPNG:
		stripped, err = stripPNGAncillary(in.Raw)
	default:
		return nil, fmt.Errorf("metadata stripping not supported for %s", in.Format)
	}
	if err != nil {
		return nil, err
	}

	h, err := in.Decoder.Decode(ctx, stripped, core.DecodeStrict)
	if err != nil {
		h, err = in.Decoder.Decode(ctx, stripped, core.DecodeTolerant)
		if err != nil {
			return nil, err
		}
	}
	if h.ColorMode == core.ColorModeCMYK {
		h = normalize(h)
	}
	return h, nil
}

// stripPNGAncillary keeps only the chunks needed to render pixels.
func stripPNGAncillary(data []byte) ([]byte, error) {
	chunks, _, err := utils.ParsePNGChunks(data)
	if err != nil {
		return nil, err
	}
	kept := chunks[:0:0]
	for _, c := range chunks {
		switch c.Type {
		case "IHDR", "PLTE", "tRNS", "IDAT":
			kept = append(kept, c)
		}
	}
	return utils.BuildPNG(kept), nil
}

// normalize converts h to NRGBA and releases the original.
func normalize(h *core.ImageHandle) *core.ImageHandle {
	mode := core.ColorModeRGB
	if h.ColorMode.HasAlpha() {
		mode = core.ColorModeRGBA
	}
	out := h.WithPixels(utils.ToNRGBA(h.Pixels), mode)
	h.Release()
	return out
}
