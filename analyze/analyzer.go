// Package analyze derives Characteristics from a decoded image.
package analyze

import (
	"image"
	"image/color"
	"math"

	"github.com/Skryldev/image-compressor/config"
	"github.com/Skryldev/image-compressor/core"
	"github.com/Skryldev/image-compressor/utils"
)

// Stats are the raw measurements a Scorer turns into a complexity score.
type Stats struct {
	Sampled      int
	UniqueColors int
	// MeanGradient is the mean of |dx| + |dy| luminance differences between
	// neighbouring samples, in 0..510.
	MeanGradient float64
}

// ColorDensity is UniqueColors / Sampled.
func (s Stats) ColorDensity() float64 {
	if s.Sampled == 0 {
		return 0
	}
	return float64(s.UniqueColors) / float64(s.Sampled)
}

// Scorer maps Stats to a score in [0, 1].  Implementations must be
// non-decreasing in both colour density and gradient.
type Scorer interface {
	Score(s Stats) float64
}

// WeightedScorer is the default linear Scorer.
type WeightedScorer struct {
	ColorWeight    float64
	GradientWeight float64
}

func (w WeightedScorer) Score(s Stats) float64 {
	grad := math.Min(1, s.MeanGradient/255)
	score := w.ColorWeight*s.ColorDensity() + w.GradientWeight*grad
	return math.Max(0, math.Min(1, score))
}

// Analyzer is the characteristic analyzer.  It is stateless and safe for
// concurrent use.
type Analyzer struct {
	scorer Scorer
	cfg    config.ComplexityConfig
}

// New returns an Analyzer with the weighted scorer configured from cfg.
func New(cfg config.ComplexityConfig) *Analyzer {
	return &Analyzer{
		scorer: WeightedScorer{ColorWeight: cfg.ColorDensityWeight, GradientWeight: cfg.GradientWeight},
		cfg:    cfg,
	}
}

// WithScorer returns a copy of a using s.
func (a *Analyzer) WithScorer(s Scorer) *Analyzer {
	cp := *a
	cp.scorer = s
	return &cp
}

// Analyze never fails for a loaded handle.
func (a *Analyzer) Analyze(h *core.ImageHandle) core.Characteristics {
	b := h.Bounds()
	c := core.Characteristics{
		Width:        b.Dx(),
		Height:       b.Dy(),
		ColorMode:    h.ColorMode,
		HasAlpha:     h.ColorMode.HasAlpha(),
		SourceFormat: h.Format,
		Opaque:       true,
		Complexity:   core.ComplexitySimpleGraphic,
	}
	if h.Pixels == nil || b.Empty() {
		return c
	}
	if c.HasAlpha {
		c.Opaque = utils.IsOpaque(h.Pixels)
	}

	st := a.measure(h.Pixels)
	c.UniqueColors = st.UniqueColors
	c.Score = a.scorer.Score(st)
	c.Complexity = a.classify(c.Score, st.UniqueColors)
	return c
}

func (a *Analyzer) classify(score float64, unique int) core.Complexity {
	if unique > a.cfg.SimpleColorLimit && score >= a.cfg.PhotoThreshold {
		return core.ComplexityPhotographic
	}
	return core.ComplexitySimpleGraphic
}

// measure samples img on a regular grid of roughly SampleLimit points.
func (a *Analyzer) measure(img image.Image) Stats {
	b := img.Bounds()
	step := sampleStep(b.Dx(), b.Dy(), a.cfg.SampleLimit)

	cols := utils.CeilDiv(b.Dx(), step)
	rows := utils.CeilDiv(b.Dy(), step)
	lum := make([]float64, cols*rows)
	seen := make(map[uint32]struct{}, 1024)

	for j := 0; j < rows; j++ {
		y := b.Min.Y + j*step
		for i := 0; i < cols; i++ {
			x := b.Min.X + i*step
			n := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			seen[uint32(n.R)<<24|uint32(n.G)<<16|uint32(n.B)<<8|uint32(n.A)] = struct{}{}
			lum[j*cols+i] = 0.299*float64(n.R) + 0.587*float64(n.G) + 0.114*float64(n.B)
		}
	}

	var (
		sum   float64
		pairs int
	)
	for j := 0; j < rows-1; j++ {
		for i := 0; i < cols-1; i++ {
			cur := lum[j*cols+i]
			sum += math.Abs(cur-lum[j*cols+i+1]) + math.Abs(cur-lum[(j+1)*cols+i])
			pairs++
		}
	}
	st := Stats{Sampled: cols * rows, UniqueColors: len(seen)}
	if pairs > 0 {
		st.MeanGradient = sum / float64(pairs)
	}
	return st
}

// sampleStep returns the grid spacing that keeps w*h/step^2 within limit.
func sampleStep(w, h, limit int) int {
	if limit <= 0 || w*h <= limit {
		return 1
	}
	step := int(math.Ceil(math.Sqrt(float64(w) * float64(h) / float64(limit))))
	if step < 1 {
		step = 1
	}
	return step
}
