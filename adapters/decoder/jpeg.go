package decoder

import (
	"bytes"
	"context"
	"image/jpeg"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/utils"
)

// Per-block padding budget for a zero-filled scan.  With canonical Huffman
// tables an all-zero bit string always decodes, and one 8x8 block consumes
// well under 32 bytes of it.
const (
	padBytesPerBlock = 32
	padSlack         = 1024
)

// JPEG decodes JPEG images using the standard library.
type JPEG struct{}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Decode(ctx context.Context, data []byte, mode core.DecodeMode) (*core.ImageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "jpeg.decode", err)
	}

	src := data
	if mode == core.DecodeTolerant {
		padded, err := PadTruncatedJPEG(data)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "jpeg.decode.tolerant", err)
		}
		src = padded
	}

	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "jpeg.decode", err)
	}
	h, err := newHandle(img, core.FormatJPEG, colorMode(img))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "jpeg.decode", err)
	}
	return h, nil
}

// PadTruncatedJPEG completes a stream cut short inside its entropy-coded
// data: a trailing EOI is removed, enough zero bytes to cover every
// remaining block are appended, and a fresh EOI terminates the stream.
// Missing blocks decode as flat garbage rather than failing.  Streams using
// restart intervals cannot be completed this way.
func PadTruncatedJPEG(data []byte) ([]byte, error) {
	frame, err := utils.ParseJPEGFrame(data)
	if err != nil {
		return nil, err
	}
	body := data
	if utils.HasJPEGEOI(body) {
		body = body[:len(body)-2]
	}
	comps := frame.Components
	if comps < 1 || comps > 4 {
		comps = 3
	}
	blocks := utils.CeilDiv(frame.Width, 8) * utils.CeilDiv(frame.Height, 8) * comps
	pad := blocks*padBytesPerBlock + padSlack

	out := make([]byte, 0, len(body)+pad+2)
	out = append(out, body...)
	out = append(out, make([]byte, pad)...)
	out = append(out, 0xFF, 0xD9)
	return out, nil
}
