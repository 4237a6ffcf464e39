package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/utils"
)

// PNG decodes PNG images using the standard library.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanDecode(format core.Format) bool {
	return format == core.FormatPNG
}

func (p *PNG) Decode(ctx context.Context, data []byte, mode core.DecodeMode) (*core.ImageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "png.decode", err)
	}

	src := data
	if mode == core.DecodeTolerant {
		rebuilt, err := RebuildPNG(data)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "png.decode.tolerant", err)
		}
		src = rebuilt
	}

	img, err := png.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "png.decode", err)
	}
	h, err := newHandle(img, core.FormatPNG, pngColorMode(src, img))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "png.decode", err)
	}
	return h, nil
}

// pngColorMode prefers the IHDR colour type: the standard decoder returns
// *image.RGBA for opaque truecolour files.
func pngColorMode(data []byte, img image.Image) core.ColorMode {
	chunks, _, err := utils.ParsePNGChunks(data)
	if err != nil || len(chunks) == 0 || chunks[0].Type != "IHDR" {
		return colorMode(img)
	}
	hdr, err := utils.ParsePNGHeader(chunks[0].Data)
	if err != nil {
		return colorMode(img)
	}
	for _, c := range chunks {
		if c.Type == "tRNS" {
			return core.ColorModeRGBA
		}
	}
	switch hdr.ColorType {
	case 0:
		return core.ColorModeGray
	case 3:
		return core.ColorModePalette
	case 4, 6:
		return core.ColorModeRGBA
	}
	return core.ColorModeRGB
}

// RebuildPNG reassembles a damaged PNG from its critical chunks.  Whatever
// prefix of the image data still inflates is kept; missing scanlines are
// zero-filled with filter type None.  CRCs are recomputed and IEND is
// appended.  Interlaced images are not supported.
func RebuildPNG(data []byte) ([]byte, error) {
	chunks, _, err := utils.ParsePNGChunks(data)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 || chunks[0].Type != "IHDR" {
		return nil, errors.New("missing IHDR")
	}
	hdr, err := utils.ParsePNGHeader(chunks[0].Data)
	if err != nil {
		return nil, err
	}
	if hdr.Interlace != 0 {
		return nil, errors.New("interlaced png cannot be rebuilt")
	}

	var (
		kept []utils.PNGChunk
		idat bytes.Buffer
	)
	for _, c := range chunks {
		switch c.Type {
		case "IHDR", "PLTE", "tRNS":
			kept = append(kept, c)
		case "IDAT":
			idat.Write(c.Data)
		}
	}
	if idat.Len() == 0 {
		return nil, errors.New("no image data")
	}

	raw, err := inflatePartial(idat.Bytes())
	if len(raw) == 0 {
		if err == nil {
			err = errors.New("empty image data")
		}
		return nil, fmt.Errorf("inflate: %w", err)
	}

	expected := hdr.Height * hdr.RowBytes()
	if len(raw) > expected {
		raw = raw[:expected]
	} else if len(raw) < expected {
		raw = append(raw, make([]byte, expected-len(raw))...)
	}

	var z bytes.Buffer
	zw, err := zlib.NewWriterLevel(&z, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	kept = append(kept, utils.PNGChunk{Type: "IDAT", Data: z.Bytes()})
	return utils.BuildPNG(kept), nil
}

// inflatePartial returns every byte the zlib stream yields before it ends
// or breaks.
func inflatePartial(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, rerr := zr.Read(buf)
		out.Write(buf[:n])
		if rerr == io.EOF {
			return out.Bytes(), nil
		}
		if rerr != nil {
			return out.Bytes(), rerr
		}
	}
}
