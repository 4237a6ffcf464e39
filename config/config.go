package config

import (
	"errors"
	"image/color"
)

// Backend selects the codec implementation registered by the processor.
type Backend string

const (
	BackendNative Backend = "native"
	BackendVips   Backend = "vips"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Batch controls.
	WorkerCount int     // default: runtime.NumCPU()
	SubmitRate  float64 // files submitted per second; 0 = unlimited

	Backend Backend

	// Size-target search.
	Search SearchConfig

	// Complexity classification.
	Complexity ComplexityConfig

	// Background is the fill used when alpha must be flattened (JPEG output).
	Background color.NRGBA

	// MaxImageBytes bounds how much of a source file is read; 0 = no limit.
	MaxImageBytes int64

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// SearchConfig bounds the quality search used to meet a size ceiling.
type SearchConfig struct {
	QualityFloor  int // lowest quality the search may reach; default 10
	MaxIterations int // total trial encodes, nominal and floor included; default 10, at least 2
}

// ComplexityConfig tunes the simple-graphic vs photographic classifier.
type ComplexityConfig struct {
	SampleLimit        int     // max pixels sampled; default 65536
	ColorDensityWeight float64 // default 0.6
	GradientWeight     float64 // default 0.4
	PhotoThreshold     float64 // score at or above which an image is photographic; default 0.25
	SimpleColorLimit   int     // images with at most this many colours are always simple; default 256
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount: 0, // resolved at runtime to NumCPU
		Backend:     BackendNative,
		Search: SearchConfig{
			QualityFloor:  10,
			MaxIterations: 10,
		},
		Complexity: ComplexityConfig{
			SampleLimit:        65536,
			ColorDensityWeight: 0.6,
			GradientWeight:     0.4,
			PhotoThreshold:     0.25,
			SimpleColorLimit:   256,
		},
		Background: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		LogLevel:   "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.WorkerCount < 0 {
		return errors.New("config: WorkerCount must not be negative")
	}
	if c.SubmitRate < 0 {
		return errors.New("config: SubmitRate must not be negative")
	}
	switch c.Backend {
	case BackendNative, BackendVips:
	default:
		return errors.New("config: Backend must be native or vips")
	}
	if c.Search.QualityFloor < 1 || c.Search.QualityFloor > 100 {
		return errors.New("config: Search.QualityFloor must be between 1 and 100")
	}
	if c.Search.MaxIterations < 2 {
		return errors.New("config: Search.MaxIterations must be at least 2")
	}
	if c.Complexity.SampleLimit <= 0 {
		return errors.New("config: Complexity.SampleLimit must be positive")
	}
	if c.Complexity.ColorDensityWeight < 0 || c.Complexity.GradientWeight < 0 {
		return errors.New("config: Complexity weights must not be negative")
	}
	if c.Complexity.PhotoThreshold <= 0 || c.Complexity.PhotoThreshold > 1 {
		return errors.New("config: Complexity.PhotoThreshold must be in (0, 1]")
	}
	if c.MaxImageBytes < 0 {
		return errors.New("config: MaxImageBytes must not be negative")
	}
	return nil
}
