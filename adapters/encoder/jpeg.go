// Package encoder provides format-specific image encoders.
package encoder

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/dlecorfec/progjpeg"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/utils"
)

// JPEG encodes baseline or progressive JPEG with github.com/dlecorfec/progjpeg.
// Output never carries metadata segments.
type JPEG struct{}

func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanEncode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Encode(ctx context.Context, h *core.ImageHandle, p core.EncoderParams) ([]byte, error) {
	src, err := source(ctx, "jpeg.encode", h)
	if err != nil {
		return nil, err
	}
	if p.Quality < 1 || p.Quality > 100 {
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, "jpeg.encode",
			fmt.Errorf("quality %d out of range", p.Quality))
	}

	// JPEG has no alpha channel; never let the encoder drop it silently.
	if p.FlattenAlpha || !utils.IsOpaque(src) {
		src = utils.Flatten(src, p.Background)
	}

	opts := &progjpeg.Options{Quality: p.Quality, Progressive: p.Progressive}
	out, err := utils.EncodeToBytes(func(w io.Writer) error { return progjpeg.Encode(w, src, opts) })
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "jpeg.encode", err)
	}
	return out, nil
}

// source validates the handle and the context shared by every encoder.
func source(ctx context.Context, op string, h *core.ImageHandle) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, op, err)
	}
	if h == nil || h.Pixels == nil {
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, op, apperrors.ErrEmptyInput)
	}
	if h.Bounds().Empty() {
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, op, apperrors.ErrInvalidDimensions)
	}
	return h.Pixels, nil
}
