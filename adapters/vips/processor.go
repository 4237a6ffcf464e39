package vips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend is a unified libvips-powered Decoder and Encoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg      BackendConfig
	released sync.Once
}

var (
	// ErrShutdown is returned by NewBackend once libvips has been shut down;
	// libvips cannot be started again in the same process.
	ErrShutdown = errors.New("vips: libvips already shut down in this process")
	// ErrInUse is returned by Shutdown while a Backend is still unreleased.
	ErrInUse = errors.New("vips: backends still in use")
)

// libvips starts with the first Backend and stops only on Shutdown.
var lifecycle struct {
	sync.Mutex
	started bool
	stopped bool
	refs    int
}

// NewBackend returns a ready Backend, starting libvips on first use.  The
// settings of the first Backend configure libvips for the whole process.
func NewBackend(cfg BackendConfig) (*Backend, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	lifecycle.Lock()
	defer lifecycle.Unlock()
	if lifecycle.stopped {
		return nil, ErrShutdown
	}
	if !lifecycle.started {
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
		})
		lifecycle.started = true
	}
	lifecycle.refs++
	return &Backend{cfg: cfg}, nil
}

// Release gives up this Backend's reference.  libvips keeps running so
// later Backends can be created.  Calling it more than once is a no-op.
func (b *Backend) Release() {
	b.released.Do(func() {
		lifecycle.Lock()
		lifecycle.refs--
		lifecycle.Unlock()
	})
}

// Shutdown stops libvips for the rest of the process.  Call it once at exit
// after every Backend is released.
func Shutdown() error {
	lifecycle.Lock()
	defer lifecycle.Unlock()
	if lifecycle.refs > 0 {
		return ErrInUse
	}
	if lifecycle.started && !lifecycle.stopped {
		govips.Shutdown()
	}
	lifecycle.stopped = true
	return nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatGIF, core.FormatTIFF:
		return true
	}
	return false
}

// Decode loads data with fail-on-error in strict mode and without it in
// tolerant mode.  Pixels are materialised eagerly so truncation surfaces
// here rather than at encode time.
func (b *Backend) Decode(ctx context.Context, data []byte, mode core.DecodeMode) (*core.ImageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "vips.decode", err)
	}

	params := govips.NewImportParams()
	params.FailOnError.Set(mode == core.DecodeStrict)
	ref, err := govips.LoadImageFromBuffer(data, params)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "vips.decode", err)
	}

	px, err := materialise(ref)
	if err != nil {
		ref.Close()
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "vips.decode.pixels", err)
	}

	h := core.NewImageHandle(px, ref, vipsFormatToCore(ref.Format()), colorMode(ref), ref.Close)
	if h.Bounds().Empty() {
		h.Release()
		return nil, apperrors.New(apperrors.CategoryCorruptInput, "vips.decode", apperrors.ErrInvalidDimensions)
	}
	return h, nil
}

// materialise renders ref into a Go image via an uncompressed PNG export.
func materialise(ref *govips.ImageRef) (image.Image, error) {
	ep := govips.NewPngExportParams()
	ep.Compression = 0
	ep.StripMetadata = true
	buf, _, err := ref.ExportPng(ep)
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(buf))
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

func (b *Backend) Encode(ctx context.Context, h *core.ImageHandle, p core.EncoderParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "vips.encode", err)
	}
	if h == nil || h.Pixels == nil {
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, "vips.encode", apperrors.ErrEmptyInput)
	}

	ref, err := b.workingRef(h)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "vips.encode.ref", err)
	}
	defer ref.Close()

	needFlatten := ref.HasAlpha() && (p.Format == core.FormatJPEG || p.FlattenAlpha || p.DropAlpha)
	if needFlatten {
		bg := &govips.Color{R: p.Background.R, G: p.Background.G, B: p.Background.B}
		if err := ref.Flatten(bg); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "vips.encode.flatten", err)
		}
	}

	switch p.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = p.Quality
		ep.Interlace = p.Progressive
		ep.StripMetadata = p.StripMetadata
		buf, _, err := ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.Compression = p.CompressionLevel
		ep.StripMetadata = p.StripMetadata
		buf, _, err := ref.ExportPng(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "vips.encode.png", err)
		}
		return buf, nil

	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = p.Quality
		ep.Lossless = p.Lossless
		ep.ReductionEffort = p.MethodEffort
		ep.StripMetadata = p.StripMetadata
		buf, _, err := ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncodeFailure, "vips.encode.webp", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, p.Format))
	}
}

// workingRef returns a private ImageRef for one export.  A handle that still
// carries its load-time ref is copied so the export never mutates it; any
// other handle is rebuilt from its pixels.
func (b *Backend) workingRef(h *core.ImageHandle) (*govips.ImageRef, error) {
	if ref, ok := h.Native.(*govips.ImageRef); ok && ref != nil {
		return ref.Copy()
	}
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, h.Pixels); err != nil {
		return nil, err
	}
	return govips.NewImageFromBuffer(buf.Bytes())
}

// ─── RegisterVipsBackend ──────────────────────────────────────────────────────

// RegisterVipsBackend replaces the pure-Go codecs with libvips for every
// format libvips reads or writes.  BMP keeps its pure-Go decoder.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatGIF, core.FormatTIFF} {
		reg.RegisterDecoder(f, b)
	}
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterEncoder(f, b)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	case govips.ImageTypeGIF:
		return core.FormatGIF
	case govips.ImageTypeTIFF:
		return core.FormatTIFF
	default:
		return core.FormatUnknown
	}
}

func colorMode(ref *govips.ImageRef) core.ColorMode {
	if ref.HasAlpha() {
		return core.ColorModeRGBA
	}
	switch ref.Interpretation() {
	case govips.InterpretationBW:
		return core.ColorModeGray
	case govips.InterpretationCMYK:
		return core.ColorModeCMYK
	default:
		return core.ColorModeRGB
	}
}

// compile-time interface checks
var _ core.Decoder = (*Backend)(nil)
var _ core.Encoder = (*Backend)(nil)
