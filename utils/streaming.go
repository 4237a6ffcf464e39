package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrTooLarge is returned when a source exceeds the configured read limit.
var ErrTooLarge = errors.New("input exceeds size limit")

// bufPool backs source reads and the repeated encodes of the size search.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer returns b to the pool.  Callers must not use b after this call.
func ReleaseBuffer(b *bytes.Buffer) {
	// Cap large buffers to avoid pinning excessive memory.
	if b.Cap() > 8*1024*1024 {
		return
	}
	bufPool.Put(b)
}

// ReadSource drains r under a byte limit and returns an owned copy of
// the source bytes.  limit <= 0 disables the limit.
func ReadSource(ctx context.Context, r io.Reader, limit int64) ([]byte, error) {
	buf, err := DrainReader(ctx, &LimitedReader{R: r, Max: limit}, 0)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("%w: limit %d bytes", err, limit)
		}
		return nil, err
	}
	defer ReleaseBuffer(buf)
	return CloneBytes(buf.Bytes()), nil
}

// EncodeToBytes runs encode against a pooled buffer and returns a copy of
// what it wrote.
func EncodeToBytes(encode func(w io.Writer) error) ([]byte, error) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	if err := encode(buf); err != nil {
		return nil, err
	}
	return CloneBytes(buf.Bytes()), nil
}

// DrainReader reads all bytes from r into a pooled buffer and returns them.
// The caller owns the returned slice; pass the buffer back with ReleaseBuffer.
func DrainReader(ctx context.Context, r io.Reader, chunkSize int) (*bytes.Buffer, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	buf := AcquireBuffer()
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
	}
	return buf, nil
}

// LimitedReader wraps r and returns ErrTooLarge once more than Max bytes
// have been offered.  Max <= 0 disables the limit.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max > 0 && l.n > l.Max {
		return 0, ErrTooLarge
	}
	if l.Max > 0 {
		// Allow one byte past the limit so an exact-size file is not rejected.
		remain := l.Max - l.n + 1
		if int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	if l.Max > 0 && l.n > l.Max {
		return n, ErrTooLarge
	}
	return n, err
}
