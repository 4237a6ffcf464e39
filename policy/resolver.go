// Package policy maps a caller Policy and measured Characteristics onto
// concrete encoder parameters.
package policy

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// Nominal is one row of the preset table.
type Nominal struct {
	JPEGQuality int
	WebPQuality int
	PNGLevel    int
	Progressive bool
}

// WebPMethodEffort is the encoder effort used for every WebP output.
const WebPMethodEffort = 6

var presets = map[core.Preset]Nominal{
	core.PresetMaximum:  {JPEGQuality: 95, WebPQuality: 85, PNGLevel: 9, Progressive: true},
	core.PresetHigh:     {JPEGQuality: 88, WebPQuality: 80, PNGLevel: 8, Progressive: true},
	core.PresetBalanced: {JPEGQuality: 82, WebPQuality: 75, PNGLevel: 7, Progressive: true},
	core.PresetSmall:    {JPEGQuality: 75, WebPQuality: 70, PNGLevel: 6, Progressive: false},
}

// Presets returns the preset names in descending quality order.
func Presets() []core.Preset {
	return []core.Preset{core.PresetMaximum, core.PresetHigh, core.PresetBalanced, core.PresetSmall}
}

// NominalFor returns the table row for p.
func NominalFor(p core.Preset) (Nominal, bool) {
	n, ok := presets[p]
	return n, ok
}

// ParsePreset parses a preset name case-insensitively.
func ParsePreset(s string) (core.Preset, error) {
	p := core.Preset(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := presets[p]; !ok {
		return "", apperrors.New(apperrors.CategoryInvalidPolicy, "policy.preset",
			fmt.Errorf("unknown preset %q", s))
	}
	return p, nil
}

// ParseTargetFormat parses keep/jpeg/jpg/png/webp case-insensitively.
func ParseTargetFormat(s string) (core.TargetFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return core.TargetKeep, nil
	case "jpeg", "jpg":
		return core.TargetJPEG, nil
	case "png":
		return core.TargetPNG, nil
	case "webp":
		return core.TargetWebP, nil
	}
	return "", apperrors.New(apperrors.CategoryInvalidPolicy, "policy.format",
		fmt.Errorf("unknown target format %q", s))
}

// Validate rejects unknown enum values and a negative size target.
func Validate(p core.Policy) error {
	if _, ok := presets[p.Preset]; !ok {
		return apperrors.New(apperrors.CategoryInvalidPolicy, "policy.validate",
			fmt.Errorf("unknown preset %q", p.Preset))
	}
	switch p.TargetFormat {
	case core.TargetKeep, core.TargetJPEG, core.TargetPNG, core.TargetWebP:
	default:
		return apperrors.New(apperrors.CategoryInvalidPolicy, "policy.validate",
			fmt.Errorf("unknown target format %q", p.TargetFormat))
	}
	if p.MaxSizeBytes < 0 {
		return apperrors.New(apperrors.CategoryInvalidPolicy, "policy.validate",
			fmt.Errorf("max size %d must not be negative", p.MaxSizeBytes))
	}
	return nil
}

// Resolver derives EncoderParams.  Background is the fill used whenever
// alpha has to be flattened.
type Resolver struct {
	Background color.NRGBA
}

// NewResolver returns a Resolver flattening onto bg.
func NewResolver(bg color.NRGBA) *Resolver {
	return &Resolver{Background: bg}
}

// Resolve maps p and c to encoder parameters.  It fails only with
// InvalidPolicy.
func (r *Resolver) Resolve(p core.Policy, c core.Characteristics) (core.EncoderParams, error) {
	if err := Validate(p); err != nil {
		return core.EncoderParams{}, err
	}
	n := presets[p.Preset]

	out := core.EncoderParams{
		Format:        OutputFormat(p.TargetFormat, c),
		StripMetadata: !p.PreserveMetadata,
		Background:    r.Background,
	}

	switch out.Format {
	case core.FormatJPEG:
		out.Quality = n.JPEGQuality
		out.Progressive = n.Progressive
		out.FlattenAlpha = c.HasAlpha
	case core.FormatWebP:
		out.Quality = n.WebPQuality
		out.MethodEffort = WebPMethodEffort
		out.Lossless = c.HasAlpha
	case core.FormatPNG:
		out.CompressionLevel = n.PNGLevel
		out.DropAlpha = c.HasAlpha && c.Opaque
	default:
		return core.EncoderParams{}, apperrors.New(apperrors.CategoryInvalidPolicy, "policy.resolve",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, out.Format))
	}
	out.NominalQuality = out.Quality
	return out, nil
}

// OutputFormat resolves the target format.  Keep maps an input-only source
// format (GIF, BMP, TIFF) to PNG for images with alpha or simple graphics
// and to JPEG for photographs.
func OutputFormat(t core.TargetFormat, c core.Characteristics) core.Format {
	switch t {
	case core.TargetJPEG:
		return core.FormatJPEG
	case core.TargetPNG:
		return core.FormatPNG
	case core.TargetWebP:
		return core.FormatWebP
	}
	switch c.SourceFormat {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return c.SourceFormat
	}
	if c.HasAlpha || c.Complexity == core.ComplexitySimpleGraphic {
		return core.FormatPNG
	}
	return core.FormatJPEG
}

// SearchApplies reports whether a size target can be pursued for params.
// PNG and lossless WebP have no continuous quality knob.
func SearchApplies(p core.EncoderParams) bool {
	switch p.Format {
	case core.FormatJPEG:
		return true
	case core.FormatWebP:
		return !p.Lossless
	}
	return false
}
