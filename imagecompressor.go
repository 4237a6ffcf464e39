// Package imagecompressor is the batch image compression engine: it loads
// (and if needed repairs) each source, measures it, resolves encoder
// parameters from a policy, optionally narrows quality to meet a size
// ceiling, and writes the result.
package imagecompressor

import (
	"context"

	"github.com/Skryldev/image-compressor/adapters/decoder"
	"github.com/Skryldev/image-compressor/adapters/encoder"
	"github.com/Skryldev/image-compressor/adapters/storage"
	"github.com/Skryldev/image-compressor/adapters/vips"
	"github.com/Skryldev/image-compressor/analyze"
	"github.com/Skryldev/image-compressor/config"
	"github.com/Skryldev/image-compressor/core"
	"github.com/Skryldev/image-compressor/pipeline"
	"github.com/Skryldev/image-compressor/policy"
	"github.com/Skryldev/image-compressor/repair"
	"github.com/Skryldev/image-compressor/search"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// DefaultPolicy is the balanced preset, original format, metadata kept and
// auto-repair on.
func DefaultPolicy() core.Policy {
	return core.Policy{
		Preset:           core.PresetBalanced,
		TargetFormat:     core.TargetKeep,
		PreserveMetadata: true,
		AutoRepair:       true,
	}
}

// Option customises a Compressor.
type Option func(*options)

type options struct {
	logger     core.Logger
	metrics    core.MetricsCollector
	sink       core.ResultSink
	storage    core.StorageAdapter
	hooks      []core.Hook
	strategies []repair.Strategy
}

// WithLogger sets the structured logger used by every stage.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics attaches a metrics collector.
func WithMetrics(m core.MetricsCollector) Option { return func(o *options) { o.metrics = m } }

// WithSink attaches a sink that receives every batch result.
func WithSink(s core.ResultSink) Option { return func(o *options) { o.sink = s } }

// WithStorage replaces the local filesystem adapter.
func WithStorage(s core.StorageAdapter) Option { return func(o *options) { o.storage = s } }

// WithHook registers an observer for pipeline stage events.
func WithHook(h core.Hook) Option { return func(o *options) { o.hooks = append(o.hooks, h) } }

// WithRepairStrategies replaces the default repair strategy order.
func WithRepairStrategies(s ...repair.Strategy) Option {
	return func(o *options) { o.strategies = s }
}

// Compressor is the primary entry point.
type Compressor struct {
	inner   *core.Processor
	reg     *core.DefaultRegistry
	pipe    *pipeline.Pipeline
	backend *vips.Backend
}

// New validates cfg and returns a fully wired Compressor.  The pure-Go
// codecs are always registered; with config.BackendVips libvips replaces
// them for the formats it handles.
func New(cfg config.Config, opts ...Option) (*Compressor, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	o := options{logger: core.NopLogger{}}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = core.NopLogger{}
	}
	if o.storage == nil {
		o.storage = storage.NewLocal("", 0)
	}

	reg := core.NewRegistry()
	RegisterNativeCodecs(reg)

	var backend *vips.Backend
	if cfg.Backend == config.BackendVips {
		var err error
		if backend, err = vips.NewBackend(vips.BackendConfig{MaxWorkers: cfg.WorkerCount}); err != nil {
			return nil, err
		}
		vips.RegisterVipsBackend(reg, backend)
	}

	loader := repair.NewLoader(reg, o.logger)
	if o.strategies != nil {
		loader = loader.WithStrategies(o.strategies...)
	}

	pipe := pipeline.New().Use(
		&pipeline.ValidateStep{},
		&pipeline.LoadStep{Storage: o.storage, Loader: loader, MaxBytes: cfg.MaxImageBytes},
		&pipeline.AnalyzeStep{Analyzer: analyze.New(cfg.Complexity)},
		&pipeline.ResolveStep{Resolver: policy.NewResolver(cfg.Background)},
		&pipeline.PrepareStep{Logger: o.logger},
		&pipeline.FitStep{Searcher: search.New(reg, cfg.Search), Logger: o.logger},
		&pipeline.EncodeStep{Registry: reg},
		&pipeline.WriteStep{Storage: o.storage},
	)
	for _, h := range o.hooks {
		pipe.AddHook(h)
	}

	inner := core.New(cfg, pipe)
	inner.SetLogger(o.logger)
	inner.SetMetrics(o.metrics)
	inner.SetSink(o.sink)

	return &Compressor{inner: inner, reg: reg, pipe: pipe, backend: backend}, nil
}

// RegisterNativeCodecs registers the pure-Go decoders and encoders.
func RegisterNativeCodecs(reg core.Registry) {
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterDecoder(core.FormatGIF, decoder.NewGIF())
	reg.RegisterDecoder(core.FormatBMP, decoder.NewBMP())
	reg.RegisterDecoder(core.FormatTIFF, decoder.NewTIFF())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG())
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP())
}

// CompressFile compresses task.Source into task.Destination.  The outcome,
// including any failure, is reported in the result.
func (c *Compressor) CompressFile(ctx context.Context, task core.Task) core.CompressionResult {
	return c.inner.CompressFile(ctx, task)
}

// Preview compresses source in memory and returns the bytes without writing.
func (c *Compressor) Preview(ctx context.Context, source string, p core.Policy) (core.CompressionResult, []byte) {
	return c.inner.Preview(ctx, source, p)
}

// Batch compresses tasks concurrently.
func (c *Compressor) Batch(ctx context.Context, tasks []core.Task) core.BatchReport {
	return c.inner.Batch(ctx, tasks)
}

// Stages returns the per-file stage names in execution order.
func (c *Compressor) Stages() []string { return c.pipe.Steps() }

// DecodableFormats lists the formats a source may be in.
func (c *Compressor) DecodableFormats() []core.Format { return c.reg.DecodableFormats() }

// RegisterDecoder registers a custom decoder for the given format.
func (c *Compressor) RegisterDecoder(f core.Format, d core.Decoder) { c.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (c *Compressor) RegisterEncoder(f core.Format, e core.Encoder) { c.reg.RegisterEncoder(f, e) }

// Stats returns lightweight processing statistics.
func (c *Compressor) Stats() (processed, errors int64) {
	return c.inner.ProcessedCount(), c.inner.ErrorCount()
}

// Close releases the libvips backend when one was started.  libvips itself
// keeps running until vips.Shutdown.
func (c *Compressor) Close() {
	if c.backend != nil {
		c.backend.Release()
	}
}
