package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatGIF     = "gif"
	formatBMP     = "bmp"
	formatTIFF    = "tiff"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
// The file extension is never consulted.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF.  Checked directly so a stream with a damaged first
	// marker segment is still routed to the JPEG decoder.
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return formatUnknown
	}
	switch kind.Extension {
	case "jpg":
		return formatJPEG
	case "png":
		return formatPNG
	case "webp":
		return formatWebP
	case "gif":
		return formatGIF
	case "bmp":
		return formatBMP
	case "tif":
		return formatTIFF
	}
	return formatUnknown
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// CeilDiv returns ceil(a/b) for positive b.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
