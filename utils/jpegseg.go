package utils

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	markerStart = 0xFF
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerDRI   = 0xDD
	markerAPP0  = 0xE0
	markerAPP1  = 0xE1
	markerAPP2  = 0xE2
	markerAPP15 = 0xEF
	markerCOM   = 0xFE
)

var errInvalidJPEG = errors.New("invalid jpeg")

// JPEGSegment is one marker segment; Payload excludes the length field.
type JPEGSegment struct {
	Marker  byte
	Payload []byte
}

// JPEGFrame describes the first SOF segment of a stream.
type JPEGFrame struct {
	Width       int
	Height      int
	Components  int
	Progressive bool
	// RestartInterval is non-zero when a DRI segment precedes the scan.
	RestartInterval int
}

// HasJPEGSOI reports whether data starts with the SOI marker.
func HasJPEGSOI(data []byte) bool {
	return len(data) >= 2 && data[0] == markerStart && data[1] == markerSOI
}

// HasJPEGEOI reports whether data ends with the EOI marker.
func HasJPEGEOI(data []byte) bool {
	n := len(data)
	return n >= 2 && data[n-2] == markerStart && data[n-1] == markerEOI
}

// walkHeaderSegments calls fn for every marker segment between SOI and the
// first SOS.  fn returns false to stop early.
func walkHeaderSegments(data []byte, fn func(marker byte, start, end int) bool) error {
	if !HasJPEGSOI(data) {
		return errInvalidJPEG
	}
	pos := 2
	for pos+3 < len(data) {
		if data[pos] != markerStart {
			pos++
			continue
		}
		for pos < len(data) && data[pos] == markerStart {
			pos++
		}
		if pos >= len(data) {
			break
		}
		marker := data[pos]
		pos++
		if marker == markerSOS || marker == markerEOI {
			return nil
		}
		if marker >= 0xD0 && marker <= 0xD7 {
			continue
		}
		if pos+1 >= len(data) {
			return errors.New("truncated marker")
		}
		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		if segLen < 2 || pos+segLen > len(data) {
			return errors.New("invalid segment length")
		}
		if !fn(marker, pos+2, pos+segLen) {
			return nil
		}
		pos += segLen
	}
	return nil
}

// ExtractMetadataSegments returns copies of the APP1 (EXIF, XMP) and APP2
// (ICC) segments in stream order.
func ExtractMetadataSegments(data []byte) ([]JPEGSegment, error) {
	var segs []JPEGSegment
	err := walkHeaderSegments(data, func(marker byte, start, end int) bool {
		if marker == markerAPP1 || marker == markerAPP2 {
			segs = append(segs, JPEGSegment{Marker: marker, Payload: CloneBytes(data[start:end])})
		}
		return true
	})
	return segs, err
}

// InsertAppSegments inserts segs directly after SOI.
func InsertAppSegments(data []byte, segs []JPEGSegment) ([]byte, error) {
	if !HasJPEGSOI(data) {
		return nil, errInvalidJPEG
	}
	if len(segs) == 0 {
		return data, nil
	}
	var out bytes.Buffer
	out.Grow(len(data) + 256)
	out.WriteByte(markerStart)
	out.WriteByte(markerSOI)
	for _, s := range segs {
		if len(s.Payload)+2 > 0xFFFF {
			continue
		}
		writeSegment(&out, s.Marker, s.Payload)
	}
	out.Write(data[2:])
	return out.Bytes(), nil
}

func writeSegment(out *bytes.Buffer, marker byte, payload []byte) {
	out.WriteByte(markerStart)
	out.WriteByte(marker)
	length := uint16(len(payload) + 2)
	out.WriteByte(byte(length >> 8))
	out.WriteByte(byte(length))
	out.Write(payload)
}

// StripAppSegments removes APP1-APP15 and COM segments from a JPEG.  APP0
// (JFIF) is kept.  Entropy-coded data after SOS is copied verbatim, so a
// stream truncated inside the scan stays truncated.
func StripAppSegments(data []byte) ([]byte, error) {
	if !HasJPEGSOI(data) {
		return nil, errInvalidJPEG
	}
	var out bytes.Buffer
	out.Grow(len(data))
	out.WriteByte(markerStart)
	out.WriteByte(markerSOI)
	pos := 2
	for pos+3 < len(data) {
		if data[pos] != markerStart {
			out.WriteByte(data[pos])
			pos++
			continue
		}
		for pos < len(data) && data[pos] == markerStart {
			pos++
		}
		if pos >= len(data) {
			break
		}
		marker := data[pos]
		pos++
		if marker == markerSOS || marker == markerEOI {
			out.WriteByte(markerStart)
			out.WriteByte(marker)
			out.Write(data[pos:])
			return out.Bytes(), nil
		}
		if marker >= 0xD0 && marker <= 0xD7 {
			out.WriteByte(markerStart)
			out.WriteByte(marker)
			continue
		}
		if pos+1 >= len(data) {
			return nil, errors.New("truncated marker")
		}
		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		metadata := marker == markerCOM || (marker > markerAPP0 && marker <= markerAPP15)
		if segLen < 2 || pos+segLen > len(data) {
			if !metadata {
				return nil, errors.New("invalid segment length")
			}
			// A damaged metadata segment is dropped by resyncing on the
			// next table, frame or scan marker.
			next := nextHeaderMarker(data, pos)
			if next < 0 {
				return nil, errors.New("invalid segment length")
			}
			pos = next
			continue
		}
		segEnd := pos + segLen
		if metadata {
			pos = segEnd
			continue
		}
		out.WriteByte(markerStart)
		out.WriteByte(marker)
		out.Write(data[pos:segEnd])
		pos = segEnd
	}
	return out.Bytes(), nil
}

// ParseJPEGFrame reads dimensions and scan layout from the header segments.
func ParseJPEGFrame(data []byte) (JPEGFrame, error) {
	var (
		f     JPEGFrame
		found bool
	)
	err := walkHeaderSegments(data, func(marker byte, start, end int) bool {
		switch {
		case marker == markerDRI && end-start >= 2:
			f.RestartInterval = int(binary.BigEndian.Uint16(data[start:]))
		case isSOF(marker) && end-start >= 6:
			f.Height = int(binary.BigEndian.Uint16(data[start+1:]))
			f.Width = int(binary.BigEndian.Uint16(data[start+3:]))
			f.Components = int(data[start+5])
			f.Progressive = marker == 0xC2 || marker == 0xC6 || marker == 0xCA || marker == 0xCE
			found = true
		}
		return true
	})
	if err != nil && !found {
		return f, err
	}
	if !found {
		return f, errors.New("no SOF segment")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return f, errors.New("invalid frame dimensions")
	}
	return f, nil
}

// nextHeaderMarker returns the offset of the next DQT, DHT, DRI, SOF or SOS
// marker at or after from, or -1.
func nextHeaderMarker(data []byte, from int) int {
	for i := from; i+1 < len(data); i++ {
		if data[i] != markerStart {
			continue
		}
		m := data[i+1]
		if m == 0xDB || m == 0xC4 || m == markerDRI || m == markerSOS || isSOF(m) {
			return i
		}
	}
	return -1
}

// isSOF reports whether marker is a start-of-frame (excluding DHT, JPG, DAC).
func isSOF(marker byte) bool {
	return marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC
}
