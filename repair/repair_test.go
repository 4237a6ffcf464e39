package repair_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Skryldev/image-compressor/adapters/decoder"
	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/repair"
)

func newRegistry() *core.DefaultRegistry {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	return reg
}

func photoJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x ^ y), G: uint8(x * 3), B: uint8(y * 5), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestLoad_ValidInputRunsNoStrategy(t *testing.T) {
	l := repair.NewLoader(newRegistry(), nil)
	res, err := l.Load(context.Background(), photoJPEG(t, 64, 64), true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Handle.Release()
	if res.Repaired || res.Method != "" || len(res.Log) != 0 {
		t.Errorf("valid input: repaired=%v method=%q log=%v", res.Repaired, res.Method, res.Log)
	}
	if res.Format != core.FormatJPEG {
		t.Errorf("format: got %s, want jpeg", res.Format)
	}
}

func TestLoad_TruncatedJPEG(t *testing.T) {
	full := photoJPEG(t, 256, 256)
	cut := full[:len(full)*6/10]
	l := repair.NewLoader(newRegistry(), nil)

	t.Run("repair enabled", func(t *testing.T) {
		res, err := l.Load(context.Background(), cut, true)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		defer res.Handle.Release()
		if !res.Repaired || res.Method != "truncated loading" {
			t.Errorf("got repaired=%v method=%q, want truncated loading", res.Repaired, res.Method)
		}
		want := []core.RepairAttempt{{Strategy: "truncated-tolerant decode", Succeeded: true}}
		if diff := cmp.Diff(want, res.Log); diff != "" {
			t.Errorf("repair log (-want +got):\n%s", diff)
		}
		if b := res.Handle.Bounds(); b.Dx() != 256 || b.Dy() != 256 {
			t.Errorf("bounds: got %v, want 256x256", b)
		}
	})

	t.Run("repair disabled", func(t *testing.T) {
		res, err := l.Load(context.Background(), cut, false)
		if !apperrors.IsCategory(err, apperrors.CategoryCorruptInput) {
			t.Fatalf("got %v, want CorruptInput", err)
		}
		if res.Handle != nil || len(res.Log) != 0 {
			t.Errorf("disabled repair left handle=%v log=%v", res.Handle, res.Log)
		}
	})
}

func TestLoad_GarbageIsUnrepairable(t *testing.T) {
	raw := []byte(strings.Repeat("garbage!", 64))
	res, err := repair.NewLoader(newRegistry(), nil).Load(context.Background(), raw, true)
	if !apperrors.IsCategory(err, apperrors.CategoryUnrepairableInput) {
		t.Fatalf("got %v, want UnrepairableInput", err)
	}
	if !errors.Is(err, apperrors.ErrAllStrategiesFailed) {
		t.Errorf("error does not wrap ErrAllStrategiesFailed: %v", err)
	}
	var names []string
	for _, a := range res.Log {
		if a.Succeeded || a.Error == "" {
			t.Errorf("attempt %q: succeeded=%v error=%q", a.Strategy, a.Succeeded, a.Error)
		}
		names = append(names, a.Strategy)
	}
	want := []string{"truncated-tolerant decode", "forced color-mode normalization", "metadata-stripped re-decode"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("strategy order (-want +got):\n%s", diff)
	}
}

// cmykStrategy always "succeeds" with a CMYK image.
type cmykStrategy struct{ calls *int }

func (cmykStrategy) Name() string   { return "cmyk" }
func (cmykStrategy) Method() string { return "cmyk" }
func (s cmykStrategy) Attempt(context.Context, repair.Input) (*core.ImageHandle, error) {
	*s.calls++
	px := image.NewCMYK(image.Rect(0, 0, 4, 4))
	return core.NewImageHandle(px, nil, core.FormatJPEG, core.ColorModeCMYK, nil), nil
}

func TestLoad_RepairedHandleMustBeStandardColorMode(t *testing.T) {
	var calls int
	l := repair.NewLoader(newRegistry(), nil).WithStrategies(cmykStrategy{calls: &calls}, repair.ForceRGB{})

	full := photoJPEG(t, 64, 64)
	res, err := l.Load(context.Background(), full[:len(full)*7/10], true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Handle.Release()
	if calls != 1 {
		t.Errorf("cmyk strategy calls: got %d, want 1", calls)
	}
	if res.Method != "force RGB conversion" {
		t.Errorf("method: got %q, want force RGB conversion", res.Method)
	}
	if len(res.Log) != 2 || res.Log[0].Succeeded || !res.Log[1].Succeeded {
		t.Errorf("log: got %+v", res.Log)
	}
	if res.Handle.ColorMode != core.ColorModeRGB {
		t.Errorf("color mode: got %s, want rgb", res.Handle.ColorMode)
	}
}

func TestStripMetadata_DamagedEXIF(t *testing.T) {
	base := photoJPEG(t, 32, 32)
	// Splice in an APP1 segment whose length runs past the end of the file.
	raw := append([]byte{0xFF, 0xD8, 0xFF, 0xE1, 0xFF, 0xF0}, []byte("Exif\x00\x00broken")...)
	raw = append(raw, base[2:]...)

	h, err := repair.StripMetadata{}.Attempt(context.Background(), repair.Input{
		Raw: raw, Format: core.FormatJPEG, Decoder: decoder.NewJPEG(),
	})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if b := h.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("bounds: got %v, want 32x32", b)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repair.NewLoader(newRegistry(), nil).Load(ctx, []byte(strings.Repeat("x", 200)), true)
	if !apperrors.IsCategory(err, apperrors.CategoryUnrepairableInput) {
		t.Errorf("got %v, want UnrepairableInput", err)
	}
}

// ── Diagnosis ─────────────────────────────────────────────────────────────────

func TestDiagnose(t *testing.T) {
	full := photoJPEG(t, 64, 64)
	tests := []struct {
		name      string
		raw       []byte
		problem   string
		plausible bool
	}{
		{"empty", nil, "File is empty (0 bytes)", false},
		{"tiny", []byte{0xFF, 0xD8, 0xFF}, "File too small to be a valid image", false},
		{"unknown", []byte(strings.Repeat("?", 200)), "Cannot identify image format", false},
		{"truncated", full[:len(full)/2], "Image file is truncated", false},
		{"intact", full, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := repair.Diagnose(tc.raw)
			if d.Problem != tc.problem {
				t.Errorf("problem: got %q, want %q", d.Problem, tc.problem)
			}
			if d.Plausible != tc.plausible {
				t.Errorf("plausible: got %v, want %v", d.Plausible, tc.plausible)
			}
		})
	}
}

func TestFailureSuggestions(t *testing.T) {
	attempted := repair.FailureSuggestions(nil, true)
	if last := attempted[len(attempted)-1]; last != "Automatic repair was attempted but failed" {
		t.Errorf("attempted: last suggestion %q", last)
	}
	skipped := repair.FailureSuggestions(nil, false)
	if last := skipped[len(skipped)-1]; last != "Enable auto-repair to attempt recovery" {
		t.Errorf("skipped: last suggestion %q", last)
	}
	if skipped[0] != "Re-download or recreate the file" {
		t.Errorf("empty input: first suggestion %q", skipped[0])
	}
}
