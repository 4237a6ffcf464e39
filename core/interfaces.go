package core

import (
	"context"
	"io"
)

// DecodeMode selects how strictly a decoder enforces stream completeness.
type DecodeMode int

const (
	// DecodeStrict fails on any truncation or structural damage.
	DecodeStrict DecodeMode = iota
	// DecodeTolerant recovers whatever pixel data is decodable.
	DecodeTolerant
)

func (m DecodeMode) String() string {
	if m == DecodeTolerant {
		return "tolerant"
	}
	return "strict"
}

// Decoder converts raw bytes into an ImageHandle.
// Implementations live in adapters/decoder/ and adapters/vips/.
type Decoder interface {
	// Decode parses data.  Decoders without a tolerant mode must return an
	// error for DecodeTolerant rather than silently decoding strictly.
	Decode(ctx context.Context, data []byte, mode DecodeMode) (*ImageHandle, error)
	// CanDecode reports whether this decoder handles the given format.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageHandle with fully resolved parameters.
// Implementations live in adapters/encoder/ and adapters/vips/.
type Encoder interface {
	Encode(ctx context.Context, h *ImageHandle, p EncoderParams) ([]byte, error)
	CanEncode(format Format) bool
}

// StorageAdapter reads sources and persists compressed output.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	// Put writes r under key.  It must never create missing parent
	// directories and must not leave a partial object on failure.
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// ResultSink receives every CompressionResult a batch produces.
type ResultSink interface {
	Record(ctx context.Context, r CompressionResult) error
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}
