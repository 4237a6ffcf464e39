package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// PNG encodes images to PNG format.  Encoding is lossless at every level.
type PNG struct {
	pool *bufferPool
}

func NewPNG() *PNG { return &PNG{pool: &bufferPool{}} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, h *core.ImageHandle, params core.EncoderParams) ([]byte, error) {
	src, err := source(ctx, "png.encode", h)
	if err != nil {
		return nil, err
	}
	if params.CompressionLevel < 0 || params.CompressionLevel > 9 {
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, "png.encode",
			fmt.Errorf("compression level %d out of range", params.CompressionLevel))
	}

	// image/png already writes a fully opaque image as truecolour without
	// an alpha channel, which is all DropAlpha asks for.
	enc := &png.Encoder{
		CompressionLevel: PNGLevel(params.CompressionLevel),
		BufferPool:       p.pool,
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, src); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "png.encode", err)
	}
	return buf.Bytes(), nil
}

// PNGLevel maps a 0-9 zlib-style level onto the four levels image/png exposes.
func PNGLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	}
	return png.BestCompression
}

// bufferPool implements png.EncoderBufferPool.
type bufferPool struct{ p sync.Pool }

func (b *bufferPool) Get() *png.EncoderBuffer {
	if v, ok := b.p.Get().(*png.EncoderBuffer); ok {
		return v
	}
	return nil
}

func (b *bufferPool) Put(e *png.EncoderBuffer) { b.p.Put(e) }
