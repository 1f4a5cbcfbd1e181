// Package codec classifies frame payloads retrieved from a recording
// server and strips the proprietary generic byte-data wrapper when present.
package codec

import (
	"bytes"
	"encoding/binary"
)

const (
	// WrapperSize is the fixed size of the generic byte-data header that
	// precedes native codec payloads. Bytes 0-1 carry a big-endian codec
	// identifier; the remaining bytes hold length and timestamp fields this
	// classifier does not interpret.
	WrapperSize = 36

	// wrapperCodecH264 identifies wrapped compressed-video payloads.
	wrapperCodecH264 = 0x000A

	// wrapperCodecGeneric identifies wrapped generic image payloads.
	wrapperCodecGeneric = 0x0001

	// soiScanLimit bounds the fallback scan for an embedded JPEG marker.
	soiScanLimit = 100
)

var (
	jpegSOI         = []byte{0xFF, 0xD8, 0xFF}
	annexBStart4    = []byte{0x00, 0x00, 0x00, 0x01}
	annexBStart3    = []byte{0x00, 0x00, 0x01}
)

// Classify determines the codec of a raw frame payload and returns the
// payload with any wrapper removed. The checks run in a fixed order because
// some server configurations ignore the negotiated codec preference and
// return JPEG frames regardless of the wrapper:
//
//  1. JPEG start-of-image marker: JPEG, unmodified.
//  2. Annex B start code (4- or 3-byte): H.264, unmodified.
//  3. Wrapper with the compressed-video codec id: strip, H.264.
//  4. Wrapper with the generic-image codec id: strip, JPEG. The server's
//     codec id is trusted even when the inner bytes lack the JPEG marker.
//  5. JPEG marker within the first 100 bytes: drop the prefix, JPEG.
//  6. Otherwise unknown, unmodified.
//
// Step 4's assumption that generic byte data is always JPEG has not been
// verified against every server configuration; treat it as a heuristic.
func Classify(payload []byte) (Type, []byte) {
	if bytes.HasPrefix(payload, jpegSOI) {
		return TypeJPEG, payload
	}
	if bytes.HasPrefix(payload, annexBStart4) || bytes.HasPrefix(payload, annexBStart3) {
		return TypeH264, payload
	}

	if len(payload) > WrapperSize {
		switch binary.BigEndian.Uint16(payload[:2]) {
		case wrapperCodecH264:
			return TypeH264, payload[WrapperSize:]
		case wrapperCodecGeneric:
			return TypeJPEG, payload[WrapperSize:]
		}
	}

	limit := len(payload)
	if limit > soiScanLimit {
		limit = soiScanLimit
	}
	if k := bytes.Index(payload[:limit], jpegSOI); k >= 0 {
		return TypeJPEG, payload[k:]
	}

	return TypeUnknown, payload
}
