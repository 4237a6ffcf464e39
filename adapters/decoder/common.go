// Package decoder provides format-specific image decoders.
package decoder

import (
	"context"
	"fmt"
	"image"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// colorMode returns the colour model of a decoded image.  Paletted images
// with a transparent entry report RGBA.
func colorMode(img image.Image) core.ColorMode {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorModeGray
	case *image.CMYK:
		return core.ColorModeCMYK
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return core.ColorModeRGBA
			}
		}
		return core.ColorModePalette
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.NYCbCrA, *image.Alpha, *image.Alpha16:
		return core.ColorModeRGBA
	}
	return core.ColorModeRGB
}

func newHandle(img image.Image, f core.Format, mode core.ColorMode) (*core.ImageHandle, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, apperrors.ErrInvalidDimensions
	}
	return core.NewImageHandle(img, nil, f, mode, nil), nil
}

// strictOnly rejects tolerant requests for formats without a recovery path.
func strictOnly(ctx context.Context, op string, f core.Format, mode core.DecodeMode) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCorruptInput, op, err)
	}
	if mode == core.DecodeTolerant {
		return apperrors.New(apperrors.CategoryCorruptInput, op,
			fmt.Errorf("%w: %s", apperrors.ErrNoTolerantMode, f))
	}
	return nil
}
