package encoder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/chai2010/webp"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// WebP encodes lossy or lossless WebP with github.com/chai2010/webp.
// MethodEffort is not exposed by this encoder and is ignored; the vips
// backend honours it.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, h *core.ImageHandle, p core.EncoderParams) ([]byte, error) {
	src, err := source(ctx, "webp.encode", h)
	if err != nil {
		return nil, err
	}
	if !p.Lossless && (p.Quality < 1 || p.Quality > 100) {
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, "webp.encode",
			fmt.Errorf("quality %d out of range", p.Quality))
	}

	var buf bytes.Buffer
	opts := &webp.Options{Lossless: p.Lossless, Quality: float32(p.Quality)}
	if err := webp.Encode(&buf, src, opts); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "webp.encode", err)
	}
	return buf.Bytes(), nil
}
