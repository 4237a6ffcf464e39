package decoder

import (
	"bytes"
	"context"
	"image"
	"image/gif"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// Legacy decodes input-only formats (GIF, BMP, TIFF).  Only the first GIF
// frame is read.  None of them has a tolerant mode.
type Legacy struct {
	format core.Format
	decode func(io.Reader) (image.Image, error)
}

func NewGIF() *Legacy  { return &Legacy{format: core.FormatGIF, decode: gif.Decode} }
func NewBMP() *Legacy  { return &Legacy{format: core.FormatBMP, decode: bmp.Decode} }
func NewTIFF() *Legacy { return &Legacy{format: core.FormatTIFF, decode: tiff.Decode} }

func (l *Legacy) CanDecode(format core.Format) bool { return format == l.format }

func (l *Legacy) Decode(ctx context.Context, data []byte, mode core.DecodeMode) (*core.ImageHandle, error) {
	op := string(l.format) + ".decode"
	if err := strictOnly(ctx, op, l.format, mode); err != nil {
		return nil, err
	}
	img, err := l.decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, op, err)
	}
	h, err := newHandle(img, l.format, colorMode(img))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, op, err)
	}
	return h, nil
}
