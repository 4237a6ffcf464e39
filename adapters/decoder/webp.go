package decoder

import (
	"bytes"
	"context"

	"github.com/chai2010/webp"
	xwebp "golang.org/x/image/webp"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// WebP decodes WebP images with github.com/chai2010/webp, falling back to
// golang.org/x/image/webp for streams the former rejects.  There is no
// tolerant mode.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(format core.Format) bool {
	return format == core.FormatWebP
}

func (w *WebP) Decode(ctx context.Context, data []byte, mode core.DecodeMode) (*core.ImageHandle, error) {
	if err := strictOnly(ctx, "webp.decode", core.FormatWebP, mode); err != nil {
		return nil, err
	}

	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		var ferr error
		img, ferr = xwebp.Decode(bytes.NewReader(data))
		if ferr != nil {
			return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "webp.decode", err)
		}
	}

	cm := colorMode(img)
	if _, _, hasAlpha, ierr := webp.GetInfo(data); ierr == nil {
		if hasAlpha {
			cm = core.ColorModeRGBA
		} else if cm == core.ColorModeRGBA {
			cm = core.ColorModeRGB
		}
	}
	h, err := newHandle(img, core.FormatWebP, cm)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "webp.decode", err)
	}
	return h, nil
}
