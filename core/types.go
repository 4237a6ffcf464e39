package core

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Skryldev/image-compressor/errors"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatTIFF    Format = "tiff"
	FormatUnknown Format = "unknown"
)

// Extension returns the conventional file extension, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tif"
	case FormatUnknown, "":
		return ""
	}
	return "." + string(f)
}

// ReadOnlyExtension reports whether ext names a format that is decoded but
// never written (.gif, .bmp, .tif, .tiff).
func ReadOnlyExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// WrittenPath returns the path output of format f actually lands on: a
// destination named with a read-only extension takes f's extension instead.
func WrittenPath(dest string, f Format) string {
	ext := filepath.Ext(dest)
	if !ReadOnlyExtension(ext) {
		return dest
	}
	return strings.TrimSuffix(dest, ext) + f.Extension()
}

// ColorMode represents the image colour model.
type ColorMode string

const (
	ColorModeRGB     ColorMode = "rgb"
	ColorModeRGBA    ColorMode = "rgba"
	ColorModeGray    ColorMode = "gray"
	ColorModePalette ColorMode = "palette"
	ColorModeCMYK    ColorMode = "cmyk"
)

// HasAlpha reports whether the mode carries an alpha channel.
func (m ColorMode) HasAlpha() bool { return m == ColorModeRGBA }

// Complexity is the categorical content estimate produced by the analyzer.
type Complexity string

const (
	ComplexitySimpleGraphic Complexity = "simple-graphic"
	ComplexityPhotographic  Complexity = "photographic"
)

// Preset is a named bundle of nominal encoder quality parameters.
type Preset string

const (
	PresetMaximum  Preset = "maximum"
	PresetHigh     Preset = "high"
	PresetBalanced Preset = "balanced"
	PresetSmall    Preset = "small"
)

// TargetFormat is the caller's requested output format.
type TargetFormat string

const (
	TargetKeep TargetFormat = "keep"
	TargetJPEG TargetFormat = "jpeg"
	TargetPNG  TargetFormat = "png"
	TargetWebP TargetFormat = "webp"
)

// Policy is the caller-supplied compression request.  It is passed by value
// and never mutated or cached by the core.
type Policy struct {
	Preset           Preset       `json:"preset"`
	TargetFormat     TargetFormat `json:"target_format"`
	MaxSizeBytes     int64        `json:"max_size_bytes,omitempty"` // 0 = unset
	PreserveMetadata bool         `json:"preserve_metadata"`
	AutoRepair       bool         `json:"auto_repair"`
}

// Characteristics is derived once per ImageHandle and never mutated.
type Characteristics struct {
	Width        int
	Height       int
	ColorMode    ColorMode
	HasAlpha     bool
	Complexity   Complexity
	SourceFormat Format

	// Opaque is true when every sampled alpha value is fully opaque.
	Opaque       bool
	UniqueColors int
	Score        float64
}

// EncoderParams is computed fresh per file from Policy x Characteristics.
type EncoderParams struct {
	Format           Format
	Quality          int  // 0-100; unused for PNG
	Progressive      bool // JPEG only
	CompressionLevel int  // 0-9; PNG only
	MethodEffort     int  // 0-6; WebP only
	Lossless         bool // WebP only
	StripMetadata    bool

	// FlattenAlpha composites the image onto Background before encoding.
	// Always set for JPEG output of an image with alpha.
	FlattenAlpha bool
	// DropAlpha discards an alpha channel that carries no transparency.
	DropAlpha  bool
	Background color.NRGBA

	// NominalQuality is the preset value before any size-target narrowing.
	NominalQuality int
}

// RepairAttempt is one entry of the append-only repair log.
type RepairAttempt struct {
	Strategy  string `json:"strategy"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// CompressionResult is produced once per processed file and never mutated.
type CompressionResult struct {
	Success                 bool               `json:"success"`
	Source                  string             `json:"source"`
	Destination             string             `json:"destination,omitempty"`
	OriginalSizeBytes       int64              `json:"original_size_bytes"`
	CompressedSizeBytes     int64              `json:"compressed_size_bytes"`
	CompressionRatioPercent float64            `json:"compression_ratio_percent"`
	Repaired                bool               `json:"repaired"`
	RepairMethod            string             `json:"repair_method,omitempty"`
	RepairLog               []RepairAttempt    `json:"repair_log,omitempty"`
	FailureReason           apperrors.Category `json:"failure_reason,omitempty"`
	Error                   string             `json:"error,omitempty"`
	Suggestions             []string           `json:"suggestions,omitempty"`

	SourceFormat   Format        `json:"source_format,omitempty"`
	OutputFormat   Format        `json:"output_format,omitempty"`
	Preset         Preset        `json:"preset,omitempty"`
	Quality        int           `json:"quality,omitempty"`
	TargetUnmet    bool          `json:"target_unmet,omitempty"`
	AlphaFlattened bool          `json:"alpha_flattened,omitempty"`
	SourceHash     string        `json:"source_hash,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// RatioPercent computes (1 - compressed/original) * 100.  A zero original
// size yields 0.
func RatioPercent(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	return (1 - float64(compressed)/float64(original)) * 100
}

// ImageHandle is an exclusively owned reference to decoded pixel data.
// Pixels is always populated; Native optionally holds a backend-specific
// representation (e.g. a libvips image) that is valid only while Pixels is
// unchanged.
type ImageHandle struct {
	Pixels    image.Image
	Native    any
	Format    Format
	ColorMode ColorMode

	release func()
}

// NewImageHandle returns a handle; release, when non-nil, runs once on Release.
func NewImageHandle(px image.Image, native any, f Format, mode ColorMode, release func()) *ImageHandle {
	return &ImageHandle{Pixels: px, Native: native, Format: f, ColorMode: mode, release: release}
}

// Bounds returns the pixel bounds, or an empty rectangle for a nil handle.
func (h *ImageHandle) Bounds() image.Rectangle {
	if h == nil || h.Pixels == nil {
		return image.Rectangle{}
	}
	return h.Pixels.Bounds()
}

// WithPixels returns a new handle over px that inherits h's format.  The
// native representation is dropped since it no longer matches the pixels;
// h keeps ownership of its own resources.
func (h *ImageHandle) WithPixels(px image.Image, mode ColorMode) *ImageHandle {
	return &ImageHandle{Pixels: px, Format: h.Format, ColorMode: mode}
}

// Release frees backend resources.  Safe to call more than once.
func (h *ImageHandle) Release() {
	if h == nil {
		return
	}
	if h.release != nil {
		h.release()
		h.release = nil
	}
	h.Native = nil
}

// ImageData is the per-file state passed through the pipeline stages.
type ImageData struct {
	Source       string
	Destination  string
	Policy       Policy
	Raw          []byte
	OriginalSize int64
	// SourceHash is the hex SHA-256 of Raw.
	SourceHash string

	Handle       *ImageHandle
	Repaired     bool
	RepairMethod string
	RepairLog    []RepairAttempt
	// Suggestions are attached by the load stage when loading fails.
	Suggestions []string

	Characteristics *Characteristics
	Params          *EncoderParams

	// Set by the size-target search.
	SearchApplied bool
	TargetUnmet   bool

	AlphaFlattened bool

	Encoded []byte
	// EncodedQuality records the quality Encoded was produced at so the
	// encode stage can reuse search output.
	EncodedQuality int
	Written        bool
}

// Task is one unit of batch work.
type Task struct {
	Source      string
	Destination string
	Policy      Policy
}

// BatchReport aggregates the results of a batch.
type BatchReport struct {
	Results         []CompressionResult `json:"results"`
	Total           int                 `json:"total_files"`
	Succeeded       int                 `json:"successful"`
	Failed          int                 `json:"failed"`
	Skipped         int                 `json:"skipped"`
	OriginalBytes   int64               `json:"total_original_size_bytes"`
	CompressedBytes int64               `json:"total_compressed_size_bytes"`
	AverageRatio    float64             `json:"average_compression_ratio"`
	Elapsed         time.Duration       `json:"elapsed_ns"`
}

// Step is the fundamental pipeline building block.  Steps must be safe for
// concurrent use across goroutines; all per-file state lives in ImageData.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}
