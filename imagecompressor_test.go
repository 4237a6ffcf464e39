package imagecompressor_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	imagecompressor "github.com/Skryldev/image-compressor"
	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/hooks"
	"github.com/Skryldev/image-compressor/journal"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// photo returns a noisy gradient, which compresses like a photograph.
func photo(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := rng.Intn(64)
			img.Set(x, y, color.RGBA{
				R: uint8((x*200/w + n) % 256),
				G: uint8((y*200/h + n) % 256),
				B: uint8((x + y + n) % 256),
				A: 255,
			})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, img image.Image, q int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return buf.Bytes()
}

func newCompressor(t *testing.T, opts ...imagecompressor.Option) *imagecompressor.Compressor {
	t.Helper()
	cfg := imagecompressor.DefaultConfig()
	cfg.WorkerCount = 2
	c, err := imagecompressor.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// ── Scenarios ─────────────────────────────────────────────────────────────────

func TestCompressFile_BalancedJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	raw := writeJPEG(t, src, photo(1000, 1000, 1), 100)
	dst := filepath.Join(dir, "photo_compressed.jpg")

	r := newCompressor(t).CompressFile(context.Background(), core.Task{
		Source: src, Destination: dst, Policy: imagecompressor.DefaultPolicy(),
	})
	if !r.Success {
		t.Fatalf("CompressFile failed: %s (%s)", r.Error, r.FailureReason)
	}
	if r.OriginalSizeBytes != int64(len(raw)) {
		t.Errorf("original size: got %d, want %d", r.OriginalSizeBytes, len(raw))
	}
	if r.CompressedSizeBytes >= r.OriginalSizeBytes || r.CompressionRatioPercent <= 0 {
		t.Errorf("no gain: %d -> %d (%.1f%%)", r.OriginalSizeBytes, r.CompressedSizeBytes, r.CompressionRatioPercent)
	}
	if r.OutputFormat != core.FormatJPEG || r.Quality != 82 || r.Repaired {
		t.Errorf("result: format=%s quality=%d repaired=%v", r.OutputFormat, r.Quality, r.Repaired)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if fi.Size() != r.CompressedSizeBytes {
		t.Errorf("file size %d, result says %d", fi.Size(), r.CompressedSizeBytes)
	}
}

func TestCompressFile_TruncatedJPEG(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, photo(400, 300, 2), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	full := buf.Bytes()
	src := filepath.Join(dir, "cut.jpg")
	if err := os.WriteFile(src, full[:len(full)*6/10], 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := newCompressor(t)

	t.Run("auto repair", func(t *testing.T) {
		dst := filepath.Join(dir, "repaired.jpg")
		r := c.CompressFile(context.Background(), core.Task{Source: src, Destination: dst, Policy: imagecompressor.DefaultPolicy()})
		if !r.Success {
			t.Fatalf("CompressFile failed: %s", r.Error)
		}
		if !r.Repaired || r.RepairMethod != "truncated loading" {
			t.Errorf("repaired=%v method=%q", r.Repaired, r.RepairMethod)
		}
		want := []core.RepairAttempt{{Strategy: "truncated-tolerant decode", Succeeded: true}}
		if diff := cmp.Diff(want, r.RepairLog); diff != "" {
			t.Errorf("repair log (-want +got):\n%s", diff)
		}
		if _, err := os.Stat(dst); err != nil {
			t.Errorf("output missing: %v", err)
		}
	})

	t.Run("repair disabled", func(t *testing.T) {
		dst := filepath.Join(dir, "never.jpg")
		p := imagecompressor.DefaultPolicy()
		p.AutoRepair = false
		r := c.CompressFile(context.Background(), core.Task{Source: src, Destination: dst, Policy: p})
		if r.Success || r.FailureReason != apperrors.CategoryCorruptInput {
			t.Fatalf("success=%v reason=%q, want CorruptInput", r.Success, r.FailureReason)
		}
		if len(r.Suggestions) == 0 {
			t.Error("no suggestions on failure")
		}
		if _, err := os.Stat(dst); !os.IsNotExist(err) {
			t.Errorf("output written for a failed file (stat err %v)", err)
		}
	})
}

func TestCompressFile_SizeTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.jpg")
	raw := writeJPEG(t, src, photo(640, 480, 3), 100)

	p := imagecompressor.DefaultPolicy()
	p.Preset = core.PresetMaximum
	p.MaxSizeBytes = int64(len(raw) / 5)

	dst := filepath.Join(dir, "small.jpg")
	r := newCompressor(t).CompressFile(context.Background(), core.Task{Source: src, Destination: dst, Policy: p})
	if !r.Success {
		t.Fatalf("CompressFile failed: %s", r.Error)
	}
	if r.Quality >= 95 {
		t.Errorf("quality: got %d, want below the nominal 95", r.Quality)
	}
	if !r.TargetUnmet && r.CompressedSizeBytes > p.MaxSizeBytes {
		t.Errorf("output %d bytes exceeds target %d without the unmet flag", r.CompressedSizeBytes, p.MaxSizeBytes)
	}
	if r.TargetUnmet && r.Quality != imagecompressor.DefaultConfig().Search.QualityFloor {
		t.Errorf("unmet target at quality %d, want the floor", r.Quality)
	}
}

func TestCompressFile_RGBAPNGToJPEG(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	src := filepath.Join(dir, "logo.png")
	if err := os.WriteFile(src, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := imagecompressor.DefaultPolicy()
	p.TargetFormat = core.TargetJPEG
	dst := filepath.Join(dir, "logo.jpg")
	r := newCompressor(t).CompressFile(context.Background(), core.Task{Source: src, Destination: dst, Policy: p})
	if !r.Success {
		t.Fatalf("CompressFile failed: %s", r.Error)
	}
	if !r.AlphaFlattened || r.Repaired {
		t.Errorf("alphaFlattened=%v repaired=%v", r.AlphaFlattened, r.Repaired)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	out, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	rr, gg, bb, _ := out.At(4, 4).RGBA()
	if rr>>8 < 245 || gg>>8 < 245 || bb>>8 < 245 {
		t.Errorf("transparent area: got (%d,%d,%d), want white", rr>>8, gg>>8, bb>>8)
	}
}

// ── Facade behaviour ──────────────────────────────────────────────────────────

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := imagecompressor.DefaultConfig()
	cfg.Search.MaxIterations = 0
	if _, err := imagecompressor.New(cfg); err == nil {
		t.Error("expected a config validation error")
	}
}

func TestStagesAndFormats(t *testing.T) {
	c := newCompressor(t)
	want := []string{"validate", "load", "analyze", "resolve", "prepare", "fit", "encode", "write"}
	if diff := cmp.Diff(want, c.Stages()); diff != "" {
		t.Errorf("stages (-want +got):\n%s", diff)
	}
	formats := []core.Format{core.FormatBMP, core.FormatGIF, core.FormatJPEG, core.FormatPNG, core.FormatTIFF, core.FormatWebP}
	if diff := cmp.Diff(formats, c.DecodableFormats()); diff != "" {
		t.Errorf("decodable formats (-want +got):\n%s", diff)
	}
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "p.jpg")
	writeJPEG(t, src, photo(200, 200, 4), 98)

	r, data := newCompressor(t).Preview(context.Background(), src, imagecompressor.DefaultPolicy())
	if !r.Success || int64(len(data)) != r.CompressedSizeBytes {
		t.Fatalf("preview: success=%v bytes=%d result=%d", r.Success, len(data), r.CompressedSizeBytes)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("preview wrote files: %d entries", len(entries))
	}
}

func TestBatch_WithJournalAndMetrics(t *testing.T) {
	dir := t.TempDir()
	var tasks []core.Task
	for i, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		src := filepath.Join(dir, name)
		writeJPEG(t, src, photo(120, 90, int64(10+i)), 100)
		tasks = append(tasks, core.Task{
			Source:      src,
			Destination: filepath.Join(dir, "out_"+name),
			Policy:      imagecompressor.DefaultPolicy(),
		})
	}
	bad := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(bad, bytes.Repeat([]byte("junk"), 64), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tasks = append(tasks, core.Task{Source: bad, Destination: filepath.Join(dir, "out_bad.jpg"), Policy: imagecompressor.DefaultPolicy()})

	jr, err := journal.Open(filepath.Join(t.TempDir(), "j.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer jr.Close()
	runID, err := jr.BeginRun(context.Background(), imagecompressor.DefaultPolicy())
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	metrics := hooks.NewInMemoryMetrics()
	c := newCompressor(t,
		imagecompressor.WithSink(jr),
		imagecompressor.WithMetrics(metrics),
		imagecompressor.WithHook(hooks.NewMetricsHook(metrics)),
	)
	rep := c.Batch(context.Background(), tasks)
	if rep.Total != 4 || rep.Succeeded != 3 || rep.Failed != 1 {
		t.Fatalf("report: total=%d ok=%d failed=%d", rep.Total, rep.Succeeded, rep.Failed)
	}
	if rep.Results[3].FailureReason != apperrors.CategoryUnrepairableInput {
		t.Errorf("bad file reason: got %q, want UnrepairableInput", rep.Results[3].FailureReason)
	}

	sum, err := jr.Summary(context.Background(), runID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Files != 4 || sum.Succeeded != 3 || sum.CompressedBytes != rep.CompressedBytes {
		t.Errorf("journal summary: %+v", sum)
	}

	snap := metrics.Snapshot()
	if snap.StepCalls["write"] != 3 || snap.CategoryErrors["UnrepairableInput"] < 1 {
		t.Errorf("metrics: calls=%v errors=%v", snap.StepCalls, snap.CategoryErrors)
	}
	if processed, errs := c.Stats(); processed != 3 || errs != 1 {
		t.Errorf("stats: processed=%d errors=%d", processed, errs)
	}
}

func TestCompressFile_WebPTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "w.jpg")
	writeJPEG(t, src, photo(160, 120, 5), 95)

	p := imagecompressor.DefaultPolicy()
	p.TargetFormat = core.TargetWebP
	dst := filepath.Join(dir, "w.webp")
	r := newCompressor(t).CompressFile(context.Background(), core.Task{Source: src, Destination: dst, Policy: p})
	if !r.Success {
		t.Fatalf("CompressFile failed: %s", r.Error)
	}
	if r.OutputFormat != core.FormatWebP || r.Quality != 75 {
		t.Errorf("format/quality: got %s/%d, want webp/75", r.OutputFormat, r.Quality)
	}
}
