// imgcompress compresses image files in batch, repairing damaged sources
// when it can.
//
// Usage:
//
//	imgcompress [flags] inputs...
//
// Inputs may be files, directories or glob patterns.  The exit status is 1
// when any file fails or nothing matches.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	imagecompressor "github.com/Skryldev/image-compressor"
	"github.com/Skryldev/image-compressor/adapters/vips"
	"github.com/Skryldev/image-compressor/batch"
	"github.com/Skryldev/image-compressor/config"
	"github.com/Skryldev/image-compressor/core"
	"github.com/Skryldev/image-compressor/hooks"
	"github.com/Skryldev/image-compressor/journal"
	"github.com/Skryldev/image-compressor/policy"
	"github.com/Skryldev/image-compressor/utils"
)

var (
	version = "dev"
	commit  = "none"
)

const mb = 1024 * 1024

type options struct {
	outDir            string
	suffix            string
	noSuffix          bool
	preset            string
	format            string
	maxSizeMB         float64
	noExif            bool
	noAutoRepair      bool
	recursive         bool
	parallel          int
	preserveStructure bool
	minSizeMB         float64
	maxFileMB         float64
	formats           string
	dryRun            bool
	jsonOut           bool
	formatStats       bool
	verbose           bool
	quiet             bool
	backend           string
	journalPath       string
	skipUnchanged     bool
	rate              float64
	showVersion       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err := vips.Shutdown(); err != nil {
		fmt.Fprintln(os.Stderr, "imgcompress:", err)
	}
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	o := &options{}
	fs := flag.NewFlagSet("imgcompress", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.outDir, "o", "", "Output directory (default: next to each input)")
	fs.StringVar(&o.suffix, "suffix", "_compressed", "Suffix for output file names")
	fs.BoolVar(&o.noSuffix, "no-suffix", false, "Write without a suffix (overwrites inputs when -o is unset)")
	fs.StringVar(&o.preset, "q", "balanced", "Quality preset: maximum, high, balanced, small")
	fs.StringVar(&o.format, "f", "keep", "Target format: keep, jpeg, png, webp")
	fs.Float64Var(&o.maxSizeMB, "s", 0, "Maximum output size in MB (0 = no target)")
	fs.BoolVar(&o.noExif, "no-exif", false, "Strip metadata from outputs")
	fs.BoolVar(&o.noAutoRepair, "no-auto-repair", false, "Disable repair of damaged sources")
	fs.BoolVar(&o.recursive, "r", false, "Walk directories recursively")
	fs.IntVar(&o.parallel, "parallel", 0, "Files processed concurrently (default: CPU count)")
	fs.BoolVar(&o.preserveStructure, "preserve-structure", false, "Mirror the input tree under -o")
	fs.Float64Var(&o.minSizeMB, "min-size", 0, "Only process files of at least this many MB")
	fs.Float64Var(&o.maxFileMB, "max-size", 0, "Only process files of at most this many MB")
	fs.StringVar(&o.formats, "formats", "", "Comma-separated source extensions to process, e.g. jpg,png")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Compress in memory and report without writing")
	fs.BoolVar(&o.jsonOut, "json", false, "Print results as JSON")
	fs.BoolVar(&o.formatStats, "format-stats", false, "Print totals per source format")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.BoolVar(&o.quiet, "quiet", false, "Errors only")
	fs.StringVar(&o.backend, "backend", string(config.BackendNative), "Codec backend: native or vips")
	fs.StringVar(&o.journalPath, "journal", "", "SQLite journal recording every run")
	fs.BoolVar(&o.skipUnchanged, "skip-unchanged", false, "Skip sources the journal shows as already compressed under the same policy")
	fs.Float64Var(&o.rate, "rate", 0, "Maximum files started per second (0 = unlimited)")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if o.verbose && o.quiet {
		return nil, nil, fmt.Errorf("-v and -quiet are mutually exclusive")
	}
	if o.skipUnchanged && o.journalPath == "" {
		return nil, nil, fmt.Errorf("-skip-unchanged requires -journal")
	}
	return o, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, inputs, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(stderr, "imgcompress:", err)
		return 2
	}
	if o.showVersion {
		fmt.Fprintf(stdout, "imgcompress %s (%s)\n", version, commit)
		return 0
	}
	if len(inputs) == 0 {
		fmt.Fprintln(stderr, "imgcompress: no inputs")
		return 2
	}

	pol, err := buildPolicy(o)
	if err != nil {
		fmt.Fprintln(stderr, "imgcompress:", err)
		return 2
	}

	cfg := config.Default()
	cfg.WorkerCount = o.parallel
	cfg.SubmitRate = o.rate
	cfg.Backend = config.Backend(o.backend)
	switch {
	case o.verbose:
		cfg.LogLevel = "debug"
	case o.quiet:
		cfg.LogLevel = "error"
	default:
		cfg.LogLevel = "warn"
	}
	logger, err := hooks.NewLogger(stderr, cfg.LogLevel, o.jsonOut)
	if err != nil {
		fmt.Fprintln(stderr, "imgcompress:", err)
		return 2
	}

	files, err := batch.Collect(inputs, batch.CollectOptions{
		Recursive:  o.recursive,
		Extensions: splitList(o.formats),
		MinBytes:   int64(o.minSizeMB * mb),
		MaxBytes:   int64(o.maxFileMB * mb),
	})
	if err != nil {
		fmt.Fprintln(stderr, "imgcompress:", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintln(stderr, "imgcompress: no image files found matching criteria")
		return 1
	}

	opts := []imagecompressor.Option{imagecompressor.WithLogger(logger)}
	if o.verbose {
		opts = append(opts, imagecompressor.WithHook(hooks.NewLoggingHook(logger)))
	}

	var (
		jr    *journal.Journal
		runID string
	)
	if o.journalPath != "" && !o.dryRun {
		jr, err = journal.Open(o.journalPath)
		if err != nil {
			fmt.Fprintln(stderr, "imgcompress:", err)
			return 1
		}
		defer jr.Close()
		if runID, err = jr.BeginRun(ctx, pol); err != nil {
			fmt.Fprintln(stderr, "imgcompress:", err)
			return 1
		}
		opts = append(opts, imagecompressor.WithSink(jr))
	}

	comp, err := imagecompressor.New(cfg, opts...)
	if err != nil {
		fmt.Fprintln(stderr, "imgcompress:", err)
		return 2
	}
	defer comp.Close()

	if !o.quiet && !o.jsonOut {
		fmt.Fprintf(stdout, "Found %d image files to process\n", len(files))
		if pol.AutoRepair {
			fmt.Fprintln(stdout, "Auto-repair enabled for corrupted images")
		}
	}

	if o.dryRun {
		return dryRun(ctx, comp, files, pol, o, stdout)
	}

	var skipped []string
	if o.skipUnchanged {
		files, skipped = filterUnchanged(ctx, jr, files, pol, stderr)
	}

	tasks, err := buildTasks(files, inputs, pol, o)
	if err != nil {
		fmt.Fprintln(stderr, "imgcompress:", err)
		return 1
	}

	report := comp.Batch(ctx, tasks)

	if o.jsonOut {
		printJSON(stdout, report, runID, skipped)
	} else {
		printText(stdout, report, o, skipped)
	}
	if report.Failed > 0 || report.Skipped > 0 {
		return 1
	}
	return 0
}

func buildPolicy(o *options) (core.Policy, error) {
	preset, err := policy.ParsePreset(o.preset)
	if err != nil {
		return core.Policy{}, err
	}
	target, err := policy.ParseTargetFormat(o.format)
	if err != nil {
		return core.Policy{}, err
	}
	if o.maxSizeMB < 0 {
		return core.Policy{}, fmt.Errorf("-s must not be negative")
	}
	return core.Policy{
		Preset:           preset,
		TargetFormat:     target,
		MaxSizeBytes:     int64(o.maxSizeMB * mb),
		PreserveMetadata: !o.noExif,
		AutoRepair:       !o.noAutoRepair,
	}, nil
}

func buildTasks(files, inputs []string, pol core.Policy, o *options) ([]core.Task, error) {
	out := batch.OutputOptions{Dir: o.outDir, Suffix: o.suffix}
	if o.noSuffix {
		out.Suffix = ""
	}
	if pol.TargetFormat != core.TargetKeep {
		out.Format = core.Format(pol.TargetFormat)
	}
	if o.preserveStructure && len(inputs) == 1 {
		if fi, err := os.Stat(inputs[0]); err == nil && fi.IsDir() {
			out.BaseDir = inputs[0]
		}
	}

	dests, err := batch.Assign(files, out)
	if err != nil {
		return nil, err
	}
	tasks := make([]core.Task, len(files))
	for i, f := range files {
		tasks[i] = core.Task{Source: f, Destination: dests[i], Policy: pol}
	}
	if err := batch.EnsureDirs(dests); err != nil {
		return nil, err
	}
	return tasks, nil
}

func filterUnchanged(ctx context.Context, jr *journal.Journal, files []string, pol core.Policy, stderr io.Writer) (keep, skipped []string) {
	fp := journal.Fingerprint(pol)
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			keep = append(keep, f)
			continue
		}
		seen, err := jr.Seen(ctx, utils.ContentHash(raw), fp)
		if err != nil {
			fmt.Fprintln(stderr, "imgcompress:", err)
		}
		if seen {
			skipped = append(skipped, f)
			continue
		}
		keep = append(keep, f)
	}
	return keep, skipped
}

func dryRun(ctx context.Context, comp *imagecompressor.Compressor, files []string, pol core.Policy, o *options, stdout io.Writer) int {
	var results []core.CompressionResult
	failed := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		res, _ := comp.Preview(ctx, f, pol)
		results = append(results, res)
		if !res.Success {
			failed++
		}
	}
	if o.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"dry_run": true, "results": results})
	} else {
		fmt.Fprintln(stdout, "\nDry run - nothing written:")
		for _, r := range results {
			if r.Success {
				fmt.Fprintf(stdout, "  %s %s -> %s %s (%.1f%%)\n", filepath.Base(r.Source),
					humanize.IBytes(uint64(r.OriginalSizeBytes)), r.OutputFormat,
					humanize.IBytes(uint64(r.CompressedSizeBytes)), r.CompressionRatioPercent)
			} else {
				fmt.Fprintf(stdout, "  %s: %s\n", filepath.Base(r.Source), r.Error)
			}
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

type jsonSummary struct {
	RunID           string  `json:"run_id,omitempty"`
	Total           int     `json:"total_files"`
	Succeeded       int     `json:"successful"`
	Failed          int     `json:"failed"`
	Cancelled       int     `json:"cancelled"`
	Unchanged       int     `json:"unchanged"`
	ElapsedSeconds  float64 `json:"elapsed_time_seconds"`
	OriginalBytes   int64   `json:"total_original_size_bytes"`
	CompressedBytes int64   `json:"total_compressed_size_bytes"`
	ReductionBytes  int64   `json:"total_size_reduction_bytes"`
	AverageRatio    float64 `json:"average_compression_ratio"`
}

func printJSON(w io.Writer, r core.BatchReport, runID string, unchanged []string) {
	out := struct {
		Summary jsonSummary              `json:"summary"`
		Results []core.CompressionResult `json:"results"`
	}{
		Summary: jsonSummary{
			RunID:           runID,
			Total:           r.Total,
			Succeeded:       r.Succeeded,
			Failed:          r.Failed,
			Cancelled:       r.Skipped,
			Unchanged:       len(unchanged),
			ElapsedSeconds:  r.Elapsed.Seconds(),
			OriginalBytes:   r.OriginalBytes,
			CompressedBytes: r.CompressedBytes,
			ReductionBytes:  r.OriginalBytes - r.CompressedBytes,
			AverageRatio:    r.AverageRatio,
		},
		Results: r.Results,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func printText(w io.Writer, r core.BatchReport, o *options, unchanged []string) {
	if !o.quiet {
		fmt.Fprintln(w, "\nCompression Results")
		fmt.Fprintln(w, strings.Repeat("=", 50))
		if o.verbose {
			for _, res := range r.Results {
				printResult(w, res)
			}
			fmt.Fprintln(w)
		}
	}

	if r.Succeeded > 0 {
		reduction := r.OriginalBytes - r.CompressedBytes
		fmt.Fprintf(w, "Successfully processed: %d/%d files\n", r.Succeeded, r.Total)
		fmt.Fprintf(w, "Total size reduction: %s (%.1f%%)\n",
			signedBytes(reduction), core.RatioPercent(r.OriginalBytes, r.CompressedBytes))
		fmt.Fprintf(w, "Original total: %s\n", humanize.IBytes(uint64(r.OriginalBytes)))
		fmt.Fprintf(w, "Compressed total: %s\n", humanize.IBytes(uint64(r.CompressedBytes)))
	}
	if len(unchanged) > 0 && !o.quiet {
		fmt.Fprintf(w, "Unchanged since last run: %d files\n", len(unchanged))
	}
	if r.Skipped > 0 {
		fmt.Fprintf(w, "Cancelled before start: %d files\n", r.Skipped)
	}
	if r.Failed > 0 && !o.quiet {
		fmt.Fprintf(w, "Failed: %d files\n", r.Failed)
		if !o.verbose {
			fmt.Fprintln(w, "   Run with -v to see detailed error information")
		}
	}
	if o.formatStats && r.Succeeded > 0 {
		printFormatStats(w, r.Results)
	}
	fmt.Fprintf(w, "Processing time: %.2f seconds\n", r.Elapsed.Seconds())
}

func printResult(w io.Writer, res core.CompressionResult) {
	name := filepath.Base(res.Source)
	if !res.Success {
		fmt.Fprintf(w, "FAIL %s: [%s] %s\n", name, res.FailureReason, res.Error)
		if len(res.Suggestions) > 0 {
			fmt.Fprintln(w, "   Suggestions:")
			for _, s := range res.Suggestions {
				fmt.Fprintf(w, "      - %s\n", s)
			}
		}
		return
	}
	fmt.Fprintf(w, "OK   %s\n", name)
	fmt.Fprintf(w, "   %s -> %s (%.1f%% reduction)\n",
		humanize.IBytes(uint64(res.OriginalSizeBytes)),
		humanize.IBytes(uint64(res.CompressedSizeBytes)),
		res.CompressionRatioPercent)
	if res.Repaired {
		fmt.Fprintf(w, "   Auto-repaired using: %s\n", res.RepairMethod)
	}
	if res.AlphaFlattened {
		fmt.Fprintln(w, "   Transparency flattened onto background")
	}
	if res.TargetUnmet {
		fmt.Fprintln(w, "   Size target not met at the quality floor")
	}
}

func printFormatStats(w io.Writer, results []core.CompressionResult) {
	type agg struct {
		count                int
		original, compressed int64
	}
	stats := make(map[core.Format]*agg)
	for _, r := range results {
		if !r.Success {
			continue
		}
		a := stats[r.SourceFormat]
		if a == nil {
			a = &agg{}
			stats[r.SourceFormat] = a
		}
		a.count++
		a.original += r.OriginalSizeBytes
		a.compressed += r.CompressedSizeBytes
	}
	keys := make([]string, 0, len(stats))
	for f := range stats {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "\nFormat Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 30))
	for _, k := range keys {
		a := stats[core.Format(k)]
		fmt.Fprintf(w, "%s: %d files\n", strings.ToUpper(k), a.count)
		fmt.Fprintf(w, "  Size reduction: %s (%.1f%%)\n",
			signedBytes(a.original-a.compressed), core.RatioPercent(a.original, a.compressed))
	}
}

// signedBytes formats n, which is negative when outputs grew.
func signedBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
