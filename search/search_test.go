package search_test

import (
	"context"
	"image"
	"testing"

	"github.com/Skryldev/image-compressor/config"
	"github.com/Skryldev/image-compressor/core"
	"github.com/Skryldev/image-compressor/search"
)

// linearEncoder produces quality*100 bytes and counts calls.
type linearEncoder struct {
	calls int
	seen  []int
}

func (e *linearEncoder) CanEncode(core.Format) bool { return true }

func (e *linearEncoder) Encode(_ context.Context, _ *core.ImageHandle, p core.EncoderParams) ([]byte, error) {
	e.calls++
	e.seen = append(e.seen, p.Quality)
	return make([]byte, p.Quality*100), nil
}

func newSearcher(floor, iter int) (*search.Searcher, *linearEncoder) {
	enc := &linearEncoder{}
	reg := core.NewRegistry()
	reg.RegisterEncoder(core.FormatJPEG, enc)
	reg.RegisterEncoder(core.FormatWebP, enc)
	reg.RegisterEncoder(core.FormatPNG, enc)
	return search.New(reg, config.SearchConfig{QualityFloor: floor, MaxIterations: iter}), enc
}

var (
	testHandle = core.NewImageHandle(image.NewNRGBA(image.Rect(0, 0, 4, 4)), nil, core.FormatJPEG, core.ColorModeRGB, nil)
	jpegParams = core.EncoderParams{Format: core.FormatJPEG, Quality: 82, NominalQuality: 82}
)

func TestFitToSize_NominalFits(t *testing.T) {
	s, enc := newSearcher(10, 10)
	out, err := s.FitToSize(context.Background(), testHandle, jpegParams, 9000, nil)
	if err != nil {
		t.Fatalf("FitToSize: %v", err)
	}
	if !out.Applied || !out.TargetMet || out.Params.Quality != 82 {
		t.Errorf("got applied=%v met=%v quality=%d, want nominal 82", out.Applied, out.TargetMet, out.Params.Quality)
	}
	if enc.calls != 1 || out.Iterations != 1 {
		t.Errorf("encodes: got %d (iterations %d), want 1", enc.calls, out.Iterations)
	}
}

func TestFitToSize_HighestFittingQuality(t *testing.T) {
	s, _ := newSearcher(10, 10)
	out, err := s.FitToSize(context.Background(), testHandle, jpegParams, 5000, nil)
	if err != nil {
		t.Fatalf("FitToSize: %v", err)
	}
	if !out.TargetMet || out.Params.Quality != 50 {
		t.Errorf("got met=%v quality=%d, want 50", out.TargetMet, out.Params.Quality)
	}
	if len(out.Data) != 5000 {
		t.Errorf("data: got %d bytes, want 5000", len(out.Data))
	}
	if out.Params.NominalQuality != 82 {
		t.Errorf("nominal quality: got %d, want 82", out.Params.NominalQuality)
	}
}

func TestFitToSize_Monotonic(t *testing.T) {
	prev := 0
	for target := int64(1000); target <= 9000; target += 700 {
		s, _ := newSearcher(10, 10)
		out, err := s.FitToSize(context.Background(), testHandle, jpegParams, target, nil)
		if err != nil {
			t.Fatalf("target %d: %v", target, err)
		}
		if out.Params.Quality < prev {
			t.Errorf("target %d: quality %d below %d chosen for a smaller target", target, out.Params.Quality, prev)
		}
		if out.Params.Quality < 10 || out.Params.Quality > 82 {
			t.Errorf("target %d: quality %d outside [10, 82]", target, out.Params.Quality)
		}
		prev = out.Params.Quality
	}
}

func TestFitToSize_IterationCap(t *testing.T) {
	s, enc := newSearcher(10, 3)
	out, err := s.FitToSize(context.Background(), testHandle, jpegParams, 1234, nil)
	if err != nil {
		t.Fatalf("FitToSize: %v", err)
	}
	if enc.calls > 3 {
		t.Errorf("encodes: got %d %v, want at most 3 including the floor", enc.calls, enc.seen)
	}
	if out.Iterations != enc.calls {
		t.Errorf("iterations: got %d, want %d", out.Iterations, enc.calls)
	}
	if int64(len(out.Data)) > 1234 || !out.TargetMet {
		t.Errorf("got %d bytes met=%v, want a fitting result", len(out.Data), out.TargetMet)
	}
}

func TestFitToSize_UnmetAtFloor(t *testing.T) {
	s, _ := newSearcher(10, 10)
	out, err := s.FitToSize(context.Background(), testHandle, jpegParams, 500, nil)
	if err != nil {
		t.Fatalf("FitToSize: %v", err)
	}
	if out.TargetMet {
		t.Error("target reported met")
	}
	if out.Params.Quality != 10 || len(out.Data) != 1000 {
		t.Errorf("got quality %d with %d bytes, want floor 10 with 1000", out.Params.Quality, len(out.Data))
	}
}

func TestFitToSize_NotApplied(t *testing.T) {
	tests := []struct {
		name    string
		params  core.EncoderParams
		maxSize int64
	}{
		{"png", core.EncoderParams{Format: core.FormatPNG, CompressionLevel: 7}, 100},
		{"lossless webp", core.EncoderParams{Format: core.FormatWebP, Quality: 75, Lossless: true}, 100},
		{"no target", jpegParams, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, enc := newSearcher(10, 10)
			out, err := s.FitToSize(context.Background(), testHandle, tc.params, tc.maxSize, nil)
			if err != nil {
				t.Fatalf("FitToSize: %v", err)
			}
			if out.Applied || enc.calls != 0 {
				t.Errorf("got applied=%v after %d encodes, want untouched", out.Applied, enc.calls)
			}
		})
	}
}

func TestFitToSize_MissingEncoder(t *testing.T) {
	s := search.New(core.NewRegistry(), config.Default().Search)
	if _, err := s.FitToSize(context.Background(), testHandle, jpegParams, 100, nil); err == nil {
		t.Error("expected an error without a registered encoder")
	}
}

func TestFitToSize_CapIncludesFloor(t *testing.T) {
	for _, limit := range []int{2, 3, 5, 10} {
		s, enc := newSearcher(10, limit)
		out, err := s.FitToSize(context.Background(), testHandle, jpegParams, 500, nil)
		if err != nil {
			t.Fatalf("cap %d: %v", limit, err)
		}
		if enc.calls > limit {
			t.Errorf("cap %d: got %d encodes %v", limit, enc.calls, enc.seen)
		}
		if out.Params.Quality != 10 || out.TargetMet {
			t.Errorf("cap %d: got quality %d met=%v, want unmet at floor 10", limit, out.Params.Quality, out.TargetMet)
		}
	}
}

func TestFitToSize_MeasuresFinishedBytes(t *testing.T) {
	// 3000 bytes of carried metadata on top of every encode.
	overhead := make([]byte, 3000)
	finish := func(b []byte) []byte { return append(b, overhead...) }

	s, _ := newSearcher(10, 10)
	out, err := s.FitToSize(context.Background(), testHandle, jpegParams, 8000, finish)
	if err != nil {
		t.Fatalf("FitToSize: %v", err)
	}
	if !out.TargetMet || out.Params.Quality != 50 {
		t.Errorf("got met=%v quality=%d, want 50", out.TargetMet, out.Params.Quality)
	}
	if len(out.Data) != 8000 {
		t.Errorf("data: got %d bytes, want 8000 including overhead", len(out.Data))
	}
}
