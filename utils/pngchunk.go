package utils

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// PNGSignature is the eight-byte PNG file header.
var PNGSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// PNGChunk is one chunk; CRCs are not retained and are recomputed on write.
type PNGChunk struct {
	Type string
	Data []byte
}

// PNGHeader is the decoded IHDR payload.
type PNGHeader struct {
	Width     int
	Height    int
	BitDepth  int
	ColorType int
	Interlace int
}

// ParsePNGChunks splits data into chunks without checking CRCs.  Parsing
// stops at IEND or at the first chunk that runs past the end of data; in the
// latter case the partial payload is returned and truncated is true.
func ParsePNGChunks(data []byte) (chunks []PNGChunk, truncated bool, err error) {
	if len(data) < len(PNGSignature) || !bytes.Equal(data[:len(PNGSignature)], PNGSignature) {
		return nil, false, errors.New("invalid png signature")
	}
	pos := len(PNGSignature)
	for {
		if pos+8 > len(data) {
			return chunks, true, nil
		}
		n := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		start := pos + 8
		end := start + n
		if n < 0 || end > len(data) {
			chunks = append(chunks, PNGChunk{Type: typ, Data: data[start:]})
			return chunks, true, nil
		}
		chunks = append(chunks, PNGChunk{Type: typ, Data: data[start:end]})
		if typ == "IEND" {
			return chunks, false, nil
		}
		// Missing CRC bytes are tolerated; the next iteration reports truncation.
		pos = end + 4
	}
}

// ParsePNGHeader decodes an IHDR payload.
func ParsePNGHeader(ihdr []byte) (PNGHeader, error) {
	if len(ihdr) < 13 {
		return PNGHeader{}, errors.New("short IHDR")
	}
	h := PNGHeader{
		Width:     int(binary.BigEndian.Uint32(ihdr[0:])),
		Height:    int(binary.BigEndian.Uint32(ihdr[4:])),
		BitDepth:  int(ihdr[8]),
		ColorType: int(ihdr[9]),
		Interlace: int(ihdr[12]),
	}
	if h.Width <= 0 || h.Height <= 0 {
		return h, errors.New("invalid IHDR dimensions")
	}
	return h, nil
}

// BitsPerPixel returns the packed pixel width for the header's colour type.
func (h PNGHeader) BitsPerPixel() int {
	channels := 1
	switch h.ColorType {
	case 2:
		channels = 3
	case 4:
		channels = 2
	case 6:
		channels = 4
	}
	return channels * h.BitDepth
}

// RowBytes returns the length of one filtered scanline including the filter byte.
func (h PNGHeader) RowBytes() int {
	return 1 + CeilDiv(h.Width*h.BitsPerPixel(), 8)
}

// BuildPNG serialises chunks with fresh CRCs and terminates with IEND.
func BuildPNG(chunks []PNGChunk) []byte {
	var out bytes.Buffer
	out.Write(PNGSignature)
	for _, c := range chunks {
		if c.Type == "IEND" {
			continue
		}
		writeChunk(&out, c.Type, c.Data)
	}
	writeChunk(&out, "IEND", nil)
	return out.Bytes()
}

func writeChunk(out *bytes.Buffer, typ string, data []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], typ)
	out.Write(hdr[:])
	out.Write(data)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	out.Write(sum[:])
}
