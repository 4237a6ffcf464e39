package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Skryldev/image-compressor/config"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// PipelineRunner is a minimal interface over pipeline.Pipeline so that core
// does not import the pipeline package (avoiding a circular dependency).
type PipelineRunner interface {
	Run(ctx context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error)
}

// Processor is the per-file compression unit and the batch orchestrator.
// It is safe for concurrent use.
type Processor struct {
	cfg     config.Config
	runner  PipelineRunner
	logger  Logger
	metrics MetricsCollector
	sink    ResultSink

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor that runs every file through runner.
func New(cfg config.Config, runner PipelineRunner) *Processor {
	return &Processor{
		cfg:    cfg,
		runner: runner,
		logger: NopLogger{},
	}
}

// SetLogger attaches a structured logger.  nil restores the no-op logger.
func (p *Processor) SetLogger(l Logger) {
	if l == nil {
		l = NopLogger{}
	}
	p.logger = l
}

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// SetSink attaches a sink that receives every batch result.
func (p *Processor) SetSink(s ResultSink) { p.sink = s }

// CompressFile runs one file end to end and writes the output to
// task.Destination.  Failures are reported in the result, never returned.
func (p *Processor) CompressFile(ctx context.Context, task Task) CompressionResult {
	res, _ := p.run(ctx, task)
	return res
}

// Preview runs one file without writing anything and returns the bytes
// that would have been written.
func (p *Processor) Preview(ctx context.Context, source string, policy Policy) (CompressionResult, []byte) {
	return p.run(ctx, Task{Source: source, Policy: policy})
}

func (p *Processor) run(ctx context.Context, task Task) (CompressionResult, []byte) {
	start := time.Now()
	res := CompressionResult{
		Source: task.Source,
		Preset: task.Policy.Preset,
	}

	in := &ImageData{Source: task.Source, Destination: task.Destination, Policy: task.Policy}
	out, _, err := p.runner.Run(ctx, in)
	if out == nil {
		out = in
	}
	defer out.Handle.Release()

	res.OriginalSizeBytes = out.OriginalSize
	res.SourceHash = out.SourceHash
	res.Repaired = out.Repaired
	res.RepairMethod = out.RepairMethod
	res.RepairLog = out.RepairLog
	res.AlphaFlattened = out.AlphaFlattened
	if out.Characteristics != nil {
		res.SourceFormat = out.Characteristics.SourceFormat
	} else if out.Handle != nil {
		res.SourceFormat = out.Handle.Format
	}

	if err != nil {
		cat := apperrors.CategoryOf(err)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			cat = apperrors.CategoryCancelled
		case cat == "":
			cat = apperrors.CategoryCorruptInput
		}
		res.FailureReason = cat
		res.Error = err.Error()
		res.Suggestions = out.Suggestions
		res.Duration = time.Since(start)
		atomic.AddInt64(&p.errorCount, 1)
		if p.metrics != nil {
			p.metrics.RecordError("file", string(cat))
		}
		p.logger.Error("compression failed",
			"source", task.Source, "reason", cat, "error", err.Error())
		return res, nil
	}

	res.Success = true
	if out.Written {
		res.Destination = out.Destination
	}
	res.CompressedSizeBytes = int64(len(out.Encoded))
	res.CompressionRatioPercent = RatioPercent(res.OriginalSizeBytes, res.CompressedSizeBytes)
	res.TargetUnmet = out.TargetUnmet
	if out.Params != nil {
		res.OutputFormat = out.Params.Format
		res.Quality = out.Params.Quality
	}
	res.Duration = time.Since(start)

	atomic.AddInt64(&p.processedCount, 1)
	if p.metrics != nil {
		p.metrics.RecordProcessingTime("file", res.Duration)
	}
	if res.TargetUnmet {
		p.logger.Warn("size target not met",
			"source", task.Source, "target", task.Policy.MaxSizeBytes, "size", res.CompressedSizeBytes)
	}
	p.logger.Info("compressed",
		"source", task.Source,
		"destination", res.Destination,
		"original", res.OriginalSizeBytes,
		"compressed", res.CompressedSizeBytes,
		"ratio", res.CompressionRatioPercent,
		"repaired", res.Repaired,
	)
	return res, out.Encoded
}

// Batch processes tasks concurrently with at most WorkerCount units in
// flight.  When ctx is cancelled no further units are started; units
// already running finish with a non-cancelled context.  Unstarted tasks are
// counted as Skipped and produce no result.
func (p *Processor) Batch(ctx context.Context, tasks []Task) BatchReport {
	start := time.Now()

	workers := p.cfg.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var limiter *rate.Limiter
	if p.cfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.SubmitRate), 1)
	}

	results := make([]*CompressionResult, len(tasks))
	runCtx := context.WithoutCancel(ctx)

	var (
		g         errgroup.Group
		sinkMu    sync.Mutex
		submitted int
	)
	g.SetLimit(workers)

	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		submitted++
		g.Go(func() error {
			r := p.CompressFile(runCtx, task)
			results[i] = &r
			if p.sink != nil {
				sinkMu.Lock()
				err := p.sink.Record(runCtx, r)
				sinkMu.Unlock()
				if err != nil {
					p.logger.Warn("result sink failed", "source", r.Source, "error", err.Error())
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Total: len(tasks), Skipped: len(tasks) - submitted}
	var ratioSum float64
	for _, r := range results {
		if r == nil {
			continue
		}
		report.Results = append(report.Results, *r)
		if !r.Success {
			report.Failed++
			continue
		}
		report.Succeeded++
		report.OriginalBytes += r.OriginalSizeBytes
		report.CompressedBytes += r.CompressedSizeBytes
		ratioSum += r.CompressionRatioPercent
	}
	if report.Succeeded > 0 {
		report.AverageRatio = ratioSum / float64(report.Succeeded)
	}
	report.Elapsed = time.Since(start)

	if report.Skipped > 0 {
		p.logger.Warn("batch cancelled", "skipped", report.Skipped)
	}
	p.logger.Info("batch finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"elapsed_ms", report.Elapsed.Milliseconds(),
	)
	return report
}

// ProcessedCount returns the total number of successfully processed images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
