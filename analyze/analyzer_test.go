package analyze_test

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/Skryldev/image-compressor/analyze"
	"github.com/Skryldev/image-compressor/config"
	"github.com/Skryldev/image-compressor/core"
)

func newAnalyzer() *analyze.Analyzer { return analyze.New(config.Default().Complexity) }

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func noise(w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func TestAnalyze_SolidIsSimple(t *testing.T) {
	h := core.NewImageHandle(solid(300, 200, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), nil, core.FormatPNG, core.ColorModeRGB, nil)
	c := newAnalyzer().Analyze(h)
	if c.Complexity != core.ComplexitySimpleGraphic {
		t.Errorf("complexity: got %s, want simple-graphic", c.Complexity)
	}
	if c.Width != 300 || c.Height != 200 {
		t.Errorf("dimensions: got %dx%d, want 300x200", c.Width, c.Height)
	}
	if c.UniqueColors != 1 {
		t.Errorf("unique colours: got %d, want 1", c.UniqueColors)
	}
	if c.SourceFormat != core.FormatPNG || c.HasAlpha {
		t.Errorf("format/alpha: got %s/%v", c.SourceFormat, c.HasAlpha)
	}
}

func TestAnalyze_NoiseIsPhotographic(t *testing.T) {
	h := core.NewImageHandle(noise(512, 512), nil, core.FormatJPEG, core.ColorModeRGB, nil)
	c := newAnalyzer().Analyze(h)
	if c.Complexity != core.ComplexityPhotographic {
		t.Errorf("complexity: got %s (score %.3f), want photographic", c.Complexity, c.Score)
	}
}

func TestAnalyze_AlphaOpacity(t *testing.T) {
	opaque := core.NewImageHandle(solid(8, 8, color.NRGBA{R: 1, A: 255}), nil, core.FormatPNG, core.ColorModeRGBA, nil)
	if c := newAnalyzer().Analyze(opaque); !c.HasAlpha || !c.Opaque {
		t.Errorf("opaque rgba: got HasAlpha=%v Opaque=%v", c.HasAlpha, c.Opaque)
	}
	clear := core.NewImageHandle(solid(8, 8, color.NRGBA{R: 1, A: 10}), nil, core.FormatPNG, core.ColorModeRGBA, nil)
	if c := newAnalyzer().Analyze(clear); c.Opaque {
		t.Error("translucent rgba reported opaque")
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	h := core.NewImageHandle(noise(200, 100), nil, core.FormatJPEG, core.ColorModeRGB, nil)
	a := newAnalyzer()
	if first, second := a.Analyze(h), a.Analyze(h); first != second {
		t.Errorf("analysis differs between runs: %+v vs %+v", first, second)
	}
}

func TestWeightedScorer_Monotonic(t *testing.T) {
	s := analyze.WeightedScorer{ColorWeight: 0.6, GradientWeight: 0.4}
	prev := -1.0
	for unique := 0; unique <= 1000; unique += 100 {
		got := s.Score(analyze.Stats{Sampled: 1000, UniqueColors: unique, MeanGradient: 40})
		if got < prev {
			t.Fatalf("score decreased with colour density at %d: %.4f < %.4f", unique, got, prev)
		}
		prev = got
	}
	prev = -1.0
	for grad := 0.0; grad <= 510; grad += 30 {
		got := s.Score(analyze.Stats{Sampled: 1000, UniqueColors: 300, MeanGradient: grad})
		if got < prev {
			t.Fatalf("score decreased with gradient at %.0f: %.4f < %.4f", grad, got, prev)
		}
		if got > 1 {
			t.Fatalf("score above 1: %.4f", got)
		}
		prev = got
	}
}

// constScorer pins the score so classification can be checked in isolation.
type constScorer float64

func (c constScorer) Score(analyze.Stats) float64 { return float64(c) }

func TestAnalyze_FewColoursAreAlwaysSimple(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			// 16 colours in a checker pattern.
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x%4) * 60, G: uint8(y%4) * 60, A: 255})
		}
	}
	h := core.NewImageHandle(img, nil, core.FormatPNG, core.ColorModeRGB, nil)
	c := newAnalyzer().WithScorer(constScorer(1)).Analyze(h)
	if c.Complexity != core.ComplexitySimpleGraphic {
		t.Errorf("complexity: got %s, want simple-graphic", c.Complexity)
	}
}
