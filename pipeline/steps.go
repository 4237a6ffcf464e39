// Package pipeline provides the per-file compression stages and the Step API.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Skryldev/image-compressor/analyze"
	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/policy"
	"github.com/Skryldev/image-compressor/repair"
	"github.com/Skryldev/image-compressor/search"
	"github.com/Skryldev/image-compressor/utils"
)

// Stage names, in execution order.
const (
	StageValidate = "validate"
	StageLoad     = "load"
	StageAnalyze  = "analyze"
	StageResolve  = "resolve"
	StagePrepare  = "prepare"
	StageFit      = "fit"
	StageEncode   = "encode"
	StageWrite    = "write"
)

// ── Validate ──────────────────────────────────────────────────────────────────

// ValidateStep rejects a malformed policy before the source is read.
type ValidateStep struct{}

func (s *ValidateStep) Name() string { return StageValidate }

func (s *ValidateStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := policy.Validate(img.Policy); err != nil {
		return nil, err
	}
	return img, nil
}

// ── Load ──────────────────────────────────────────────────────────────────────

// LoadStep reads the source through Storage and decodes it, running the
// repair strategies when the policy allows it.  When img.Raw is already set
// the read is skipped.
type LoadStep struct {
	Storage core.StorageAdapter
	Loader  *repair.Loader
	// MaxBytes bounds the read; 0 disables the limit.
	MaxBytes int64
}

func (s *LoadStep) Name() string { return StageLoad }

func (s *LoadStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	if out.Raw == nil {
		raw, err := s.read(ctx, img.Source)
		if err != nil {
			out.Suggestions = repair.FailureSuggestions(nil, false)
			return &out, err
		}
		out.Raw = raw
	}
	out.OriginalSize = int64(len(out.Raw))
	out.SourceHash = utils.ContentHash(out.Raw)

	res, err := s.Loader.Load(ctx, out.Raw, img.Policy.AutoRepair)
	out.RepairLog = res.Log
	if err != nil {
		out.Suggestions = repair.FailureSuggestions(out.Raw, img.Policy.AutoRepair)
		return &out, err
	}
	out.Handle = res.Handle
	out.Repaired = res.Repaired
	out.RepairMethod = res.Method
	return &out, nil
}

func (s *LoadStep) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Storage.Get(ctx, key)
	if err != nil {
		if apperrors.CategoryOf(err) == "" {
			err = apperrors.Wrap(apperrors.CategoryCorruptInput, StageLoad, err)
		}
		return nil, err
	}
	defer rc.Close()

	raw, err := utils.ReadSource(ctx, rc, s.MaxBytes)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, StageLoad, err)
	}
	return raw, nil
}

// ── Analyze ───────────────────────────────────────────────────────────────────

// AnalyzeStep measures the decoded image once.
type AnalyzeStep struct {
	Analyzer *analyze.Analyzer
}

func (s *AnalyzeStep) Name() string { return StageAnalyze }

func (s *AnalyzeStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Handle == nil {
		return nil, apperrors.New(apperrors.CategoryCorruptInput, s.Name(), apperrors.ErrEmptyInput)
	}
	c := s.Analyzer.Analyze(img.Handle)
	out := *img
	out.Characteristics = &c
	return &out, nil
}

// ── Resolve ───────────────────────────────────────────────────────────────────

// ResolveStep turns Policy x Characteristics into EncoderParams.
type ResolveStep struct {
	Resolver *policy.Resolver
}

func (s *ResolveStep) Name() string { return StageResolve }

func (s *ResolveStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Characteristics == nil {
		return nil, apperrors.New(apperrors.CategoryInvalidPolicy, s.Name(),
			errors.New("characteristics not measured"))
	}
	p, err := s.Resolver.Resolve(img.Policy, *img.Characteristics)
	if err != nil {
		return nil, err
	}
	out := *img
	out.Params = &p
	return &out, nil
}

// ── Prepare ───────────────────────────────────────────────────────────────────

// PrepareStep composites alpha onto the background when the output format
// cannot carry it.  Flattening is recorded separately from repair.
type PrepareStep struct {
	Logger core.Logger
}

func (s *PrepareStep) Name() string { return StagePrepare }

func (s *PrepareStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Params == nil || !img.Params.FlattenAlpha || img.Handle == nil {
		return img, nil
	}
	flat := utils.Flatten(img.Handle.Pixels, img.Params.Background)
	next := img.Handle.WithPixels(flat, core.ColorModeRGB)
	img.Handle.Release()

	out := *img
	out.Handle = next
	out.AlphaFlattened = true
	if s.Logger != nil {
		bg := img.Params.Background
		s.Logger.Info("alpha flattened onto background",
			"source", img.Source, "background", fmt.Sprintf("#%02x%02x%02x", bg.R, bg.G, bg.B))
	}
	return &out, nil
}

// ── Fit ───────────────────────────────────────────────────────────────────────

// FitStep narrows quality until the output fits Policy.MaxSizeBytes.  It is
// a no-op without a size target or for formats without a quality knob.
// Trial sizes include any metadata the encode stage will carry over.
type FitStep struct {
	Searcher *search.Searcher
	Logger   core.Logger
}

func (s *FitStep) Name() string { return StageFit }

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Policy.MaxSizeBytes <= 0 || img.Params == nil {
		return img, nil
	}
	res, err := s.Searcher.FitToSize(ctx, img.Handle, *img.Params, img.Policy.MaxSizeBytes,
		metadataCarrier(img, *img.Params))
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		return img, nil
	}

	out := *img
	p := res.Params
	out.Params = &p
	out.SearchApplied = true
	out.TargetUnmet = !res.TargetMet
	out.Encoded = res.Data
	out.EncodedQuality = p.Quality
	if s.Logger != nil {
		s.Logger.Debug("size search finished",
			"source", img.Source, "quality", p.Quality, "iterations", res.Iterations, "target_met", res.TargetMet)
		if !res.TargetMet {
			s.Logger.Warn("size target unmet at quality floor",
				"source", img.Source, "target", img.Policy.MaxSizeBytes, "size", len(res.Data))
		}
	}
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the handle with the resolved parameters.  Output the
// size search already produced at the final quality is reused.
type EncodeStep struct {
	Registry core.Registry
}

func (s *EncodeStep) Name() string { return StageEncode }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Params == nil || img.Handle == nil {
		return nil, apperrors.New(apperrors.CategoryEncodeFailure, s.Name(), apperrors.ErrEmptyInput)
	}
	p := *img.Params

	data := img.Encoded
	if !img.SearchApplied || data == nil || img.EncodedQuality != p.Quality {
		enc, ok := s.Registry.EncoderFor(p.Format)
		if !ok {
			return nil, apperrors.New(apperrors.CategoryEncodeFailure, s.Name(),
				fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, p.Format))
		}
		var err error
		data, err = enc.Encode(ctx, img.Handle, p)
		if err != nil {
			if apperrors.CategoryOf(err) == "" {
				err = apperrors.Wrap(apperrors.CategoryEncodeFailure, s.Name(), err)
			}
			return nil, err
		}
	}

	if carry := metadataCarrier(img, p); carry != nil {
		data = carry(data)
	}

	out := *img
	out.Encoded = data
	out.EncodedQuality = p.Quality
	if limit := img.Policy.MaxSizeBytes; limit > 0 && int64(len(data)) > limit {
		out.TargetUnmet = true
	}
	return &out, nil
}

// metadataCarrier returns the transform that re-inserts the source's JPEG
// metadata into JPEG output, or nil when metadata is not carried.
func metadataCarrier(img *core.ImageData, p core.EncoderParams) search.Finisher {
	if !img.Policy.PreserveMetadata || p.Format != core.FormatJPEG ||
		img.Handle == nil || img.Handle.Format != core.FormatJPEG {
		return nil
	}
	raw := img.Raw
	return func(dst []byte) []byte { return carryMetadata(raw, dst) }
}

// carryMetadata copies APP1/APP2 segments from src into dst unless the
// encoder already kept them.  Damaged source metadata is skipped.
func carryMetadata(src, dst []byte) []byte {
	segs, err := utils.ExtractMetadataSegments(src)
	if err != nil || len(segs) == 0 {
		return dst
	}
	if have, _ := utils.ExtractMetadataSegments(dst); len(have) > 0 {
		return dst
	}
	merged, err := utils.InsertAppSegments(dst, segs)
	if err != nil {
		return dst
	}
	return merged
}

// ── Write ─────────────────────────────────────────────────────────────────────

// WriteStep persists the encoded bytes at img.Destination.  An empty
// destination (preview) writes nothing.  A destination named with the
// extension of an input-only format (.gif, .bmp, .tif, .tiff) is renamed to
// the extension of the format actually written.
type WriteStep struct {
	Storage core.StorageAdapter
}

func (s *WriteStep) Name() string { return StageWrite }

func (s *WriteStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Destination == "" {
		return img, nil
	}
	dest := img.Destination
	if img.Params != nil {
		dest = core.WrittenPath(dest, img.Params.Format)
	}
	if err := s.Storage.Put(ctx, dest, bytes.NewReader(img.Encoded)); err != nil {
		if apperrors.CategoryOf(err) == "" {
			err = apperrors.Wrap(apperrors.CategoryDestinationUnavailable, s.Name(), err)
		}
		return nil, err
	}
	out := *img
	out.Destination = dest
	out.Written = true
	return &out, nil
}

// compile-time interface checks
var (
	_ core.Step = (*ValidateStep)(nil)
	_ core.Step = (*LoadStep)(nil)
	_ core.Step = (*AnalyzeStep)(nil)
	_ core.Step = (*ResolveStep)(nil)
	_ core.Step = (*PrepareStep)(nil)
	_ core.Step = (*FitStep)(nil)
	_ core.Step = (*EncodeStep)(nil)
	_ core.Step = (*WriteStep)(nil)
)
