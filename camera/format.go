package camera

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Format is a pixel or payload format.
type Format int

// Formats, numbered the way devices report them.
const (
	FormatYUYV         Format = 0
	FormatYUY2         Format = 1
	FormatUYVY         Format = 2
	FormatNV12         Format = 3
	FormatNV21         Format = 4
	FormatMJPG         Format = 5
	FormatH264         Format = 6
	FormatH265         Format = 7
	FormatY16          Format = 8
	FormatY8           Format = 9
	FormatY10          Format = 10
	FormatY11          Format = 11
	FormatY12          Format = 12
	FormatGray         Format = 13
	FormatHEVC         Format = 14
	FormatI420         Format = 15
	FormatPoint        Format = 19
	FormatColoredPoint Format = 20
	FormatRLE          Format = 21
	FormatRGB          Format = 22
	FormatBGR          Format = 23
	FormatY14          Format = 24
	FormatBGRA         Format = 25
	FormatCompressed   Format = 26

	// FormatAny is the wildcard used when matching stream profiles.
	FormatAny Format = 0xfe
	// FormatUnknown marks an unset format.
	FormatUnknown Format = 0xff
)

var formatNames = map[Format]string{
	FormatYUYV:         "YUYV",
	FormatYUY2:         "YUY2",
	FormatUYVY:         "UYVY",
	FormatNV12:         "NV12",
	FormatNV21:         "NV21",
	FormatMJPG:         "MJPG",
	FormatH264:         "H264",
	FormatH265:         "H265",
	FormatY16:          "Y16",
	FormatY8:           "Y8",
	FormatY10:          "Y10",
	FormatY11:          "Y11",
	FormatY12:          "Y12",
	FormatGray:         "GRAY",
	FormatHEVC:         "HEVC",
	FormatI420:         "I420",
	FormatPoint:        "POINT",
	FormatColoredPoint: "COLORED_POINT",
	FormatRLE:          "RLE",
	FormatRGB:          "RGB",
	FormatBGR:          "BGR",
	FormatY14:          "Y14",
	FormatBGRA:         "BGRA",
	FormatCompressed:   "COMPRESSED",
	FormatAny:          "ANY",
	FormatUnknown:      "UNKNOWN",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "FORMAT(" + strconv.Itoa(int(f)) + ")"
}

// ParseFormat parses a format name, case-insensitively. "MJPEG" is accepted for MJPG.
func ParseFormat(s string) (Format, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "MJPEG" {
		return FormatMJPG, nil
	}
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return FormatUnknown, errors.Errorf("unknown image format %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Planar reports whether the format lays pixels out in rows. Compressed and coded formats have no
// stride.
func (f Format) Planar() bool {
	switch f {
	case FormatMJPG, FormatH264, FormatH265, FormatHEVC, FormatRLE, FormatCompressed,
		FormatAny, FormatUnknown:
		return false
	default:
		return true
	}
}

// Known reports whether f is a concrete format, i.e. not a wildcard and not unknown.
func (f Format) Known() bool {
	_, ok := formatNames[f]
	return ok && f != FormatAny && f != FormatUnknown
}

// bitsPerPixel is the storage cost of one pixel of a planar format, averaged over planes.
func (f Format) bitsPerPixel() int {
	switch f {
	case FormatYUYV, FormatYUY2, FormatUYVY:
		return 16
	case FormatNV12, FormatNV21, FormatI420:
		return 12
	case FormatY16, FormatY10, FormatY11, FormatY12, FormatY14:
		return 16
	case FormatY8, FormatGray:
		return 8
	case FormatRGB, FormatBGR:
		return 24
	case FormatBGRA:
		return 32
	case FormatPoint:
		return 3 * 32
	case FormatColoredPoint:
		return 6 * 32
	default:
		return 0
	}
}

// MinStride returns the packed row span in bytes of the first plane.
func (f Format) MinStride(width int) (int, error) {
	if !f.Planar() {
		return 0, errors.Errorf("format %s has no stride", f)
	}
	switch f {
	case FormatNV12, FormatNV21, FormatI420:
		return width, nil
	default:
		return width * f.bitsPerPixel() / 8, nil
	}
}

// FrameSize returns the number of bytes of a packed frame of the given dimensions.
func (f Format) FrameSize(width, height int) (int, error) {
	if !f.Planar() {
		return 0, errors.Errorf("format %s has no fixed frame size", f)
	}
	return width * height * f.bitsPerPixel() / 8, nil
}

// PixelBits returns the number of significant bits per pixel of a single channel format; zero for
// formats where that does not apply.
func (f Format) PixelBits() int {
	switch f {
	case FormatY8, FormatGray:
		return 8
	case FormatY10:
		return 10
	case FormatY11:
		return 11
	case FormatY12:
		return 12
	case FormatY14:
		return 14
	case FormatY16:
		return 16
	default:
		return 0
	}
}
