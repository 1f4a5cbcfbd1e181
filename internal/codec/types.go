package codec

import "strings"

// Type represents a frame payload codec.
type Type string

const (
	// TypeJPEG represents a transcoded still-image frame
	TypeJPEG Type = "JPEG"
	// TypeH264 represents an H.264/AVC elementary-stream frame
	TypeH264 Type = "H264"
	// TypeUnknown represents an unclassifiable payload
	TypeUnknown Type = "UNKNOWN"
)

// String returns the string representation of the codec type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the codec type is a known codec
func (t Type) IsValid() bool {
	switch t {
	case TypeJPEG, TypeH264:
		return true
	default:
		return false
	}
}

// ParseType parses a string into a codec type
func ParseType(s string) Type {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JPEG", "JPG", "MJPEG":
		return TypeJPEG
	case "H264", "H.264", "AVC":
		return TypeH264
	default:
		return TypeUnknown
	}
}
