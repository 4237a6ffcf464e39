package config_test

import (
	"testing"

	"github.com/Skryldev/image-compressor/config"
)

func TestDefault_IsValid(t *testing.T) {
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Validate(Default()): %v", err)
	}
	cfg := config.Default()
	if cfg.Search.QualityFloor != 10 || cfg.Search.MaxIterations != 10 {
		t.Errorf("search: got floor %d iterations %d, want 10 and 10",
			cfg.Search.QualityFloor, cfg.Search.MaxIterations)
	}
	if cfg.Background.R != 255 || cfg.Background.G != 255 || cfg.Background.B != 255 {
		t.Errorf("background: got %v, want white", cfg.Background)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"negative workers", func(c *config.Config) { c.WorkerCount = -1 }},
		{"negative rate", func(c *config.Config) { c.SubmitRate = -0.5 }},
		{"unknown backend", func(c *config.Config) { c.Backend = "gpu" }},
		{"zero floor", func(c *config.Config) { c.Search.QualityFloor = 0 }},
		{"floor above 100", func(c *config.Config) { c.Search.QualityFloor = 101 }},
		{"no iterations", func(c *config.Config) { c.Search.MaxIterations = 0 }},
		{"one iteration", func(c *config.Config) { c.Search.MaxIterations = 1 }},
		{"no samples", func(c *config.Config) { c.Complexity.SampleLimit = 0 }},
		{"negative weight", func(c *config.Config) { c.Complexity.GradientWeight = -1 }},
		{"threshold above one", func(c *config.Config) { c.Complexity.PhotoThreshold = 1.5 }},
		{"negative read limit", func(c *config.Config) { c.MaxImageBytes = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := config.Validate(cfg); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
