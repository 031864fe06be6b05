// Package camera defines the stream vocabulary shared by every rgbdsync package: camera and
// IMU sensor types, pixel formats, stream profiles, the profile registry a device reports, the
// raw Frame delivered by a driver, and the error kinds the SDK surfaces.
package camera

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Type identifies one of the image streams of an RGB-D device.
type Type int

// Camera types, numbered the way devices report them.
const (
	Unknown Type = iota
	Color
	Depth
	IR
)

// NumSlots is the number of image slots a capture carries, one per known camera type.
const NumSlots = 3

// Types lists the known camera types in slot order.
var Types = [NumSlots]Type{Color, Depth, IR}

// Slot returns the capture slot index of the type, or -1 for Unknown.
func (t Type) Slot() int {
	switch t {
	case Color, Depth, IR:
		return int(t) - 1
	case Unknown:
	}
	return -1
}

// Valid reports whether the type has a capture slot.
func (t Type) Valid() bool {
	return t.Slot() >= 0
}

func (t Type) String() string {
	switch t {
	case Color:
		return "color"
	case Depth:
		return "depth"
	case IR:
		return "ir"
	case Unknown:
	}
	return "unknown"
}

// ParseType parses a camera type name as printed by String.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return Unknown, errors.Errorf("unknown camera type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ImuSensorType identifies an IMU sensor.
type ImuSensorType int

// IMU sensor types.
const (
	ImuUnknown ImuSensorType = iota
	Accel
	Gyro
)

func (t ImuSensorType) String() string {
	switch t {
	case Accel:
		return "accel"
	case Gyro:
		return "gyro"
	case ImuUnknown:
	}
	return fmt.Sprintf("imu(%d)", int(t))
}

// ParseImuSensorType parses an IMU sensor name as printed by String.
func ParseImuSensorType(s string) (ImuSensorType, error) {
	for _, t := range []ImuSensorType{Accel, Gyro} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return ImuUnknown, errors.Errorf("unknown imu sensor %q", s)
}
