package hooks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
	"github.com/Skryldev/image-compressor/hooks"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tc := range tests {
		got, err := hooks.ParseLevel(tc.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := hooks.ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud): expected an error")
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := hooks.NewLogger(&buf, "warn", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("dropped")
	l.Warn("size target not met", "source", "a.jpg", "size", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines: got %d, want 1 (info filtered)", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["msg"] != "size target not met" || rec["source"] != "a.jpg" {
		t.Errorf("record: got %v", rec)
	}
}

func TestLoggingHook(t *testing.T) {
	var buf bytes.Buffer
	l, err := hooks.NewLogger(&buf, "debug", false)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	h := hooks.NewLoggingHook(l)
	img := &core.ImageData{Source: "a.png", OriginalSize: 2048}
	h.BeforeStep(context.Background(), "load", img)
	h.AfterStep(context.Background(), "load", img, time.Millisecond, nil)
	h.AfterStep(context.Background(), "write", img, time.Millisecond,
		apperrors.New(apperrors.CategoryDestinationUnavailable, "write", errors.New("read-only")))

	out := buf.String()
	for _, want := range []string{"pipeline.step.start", "pipeline.step.done", "pipeline.step.error", "DestinationUnavailable", "2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestMetricsHook(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	h := hooks.NewMetricsHook(m)
	ctx := context.Background()
	img := &core.ImageData{OriginalSize: 1000}

	h.AfterStep(ctx, "load", img, 2*time.Millisecond, nil)
	h.AfterStep(ctx, "load", img, 3*time.Millisecond, nil)
	h.AfterStep(ctx, "encode", img, time.Millisecond, nil)
	h.AfterStep(ctx, "write", nil, time.Millisecond,
		apperrors.New(apperrors.CategoryDestinationUnavailable, "write", errors.New("x")))

	snap := m.Snapshot()
	if diff := cmp.Diff(map[string]int64{"load": 2, "encode": 1, "write": 1}, snap.StepCalls); diff != "" {
		t.Errorf("step calls (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int64{"write": 1}, snap.StepErrors); diff != "" {
		t.Errorf("step errors (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int64{"DestinationUnavailable": 1}, snap.CategoryErrors); diff != "" {
		t.Errorf("category errors (-want +got):\n%s", diff)
	}
	if snap.TotalThroughputB != 2000 {
		t.Errorf("throughput: got %d, want 2000", snap.TotalThroughputB)
	}
	if ms := snap.StepDurationsMs["load"]; ms < 4 || ms > 5 {
		t.Errorf("load duration: got %dms, want about 5ms", ms)
	}

	// Snapshots are copies.
	snap.StepCalls["load"] = 99
	if m.Snapshot().StepCalls["load"] != 2 {
		t.Error("snapshot shares state with the collector")
	}
}
