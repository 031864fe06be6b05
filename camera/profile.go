package camera

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Wildcards for StreamProfile fields when matching against a Registry.
const (
	AnyWidth     = 0
	AnyHeight    = 0
	AnyFrameRate = 0
)

// StreamProfile is one resolution, frame rate and format combination a camera can stream.
type StreamProfile struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FrameRate int    `json:"fps"`
	Format    Format `json:"format"`
}

func (p StreamProfile) String() string {
	w, h, fps := "*", "*", "*"
	if p.Width != AnyWidth {
		w = fmt.Sprint(p.Width)
	}
	if p.Height != AnyHeight {
		h = fmt.Sprint(p.Height)
	}
	if p.FrameRate != AnyFrameRate {
		fps = fmt.Sprint(p.FrameRate)
	}
	return fmt.Sprintf("%sx%s@%s %s", w, h, fps, p.Format)
}

// IsFuzzy reports whether any field is a wildcard.
func (p StreamProfile) IsFuzzy() bool {
	return p.Width == AnyWidth || p.Height == AnyHeight || p.FrameRate == AnyFrameRate || p.Format == FormatAny
}

// Period is the time between frames, or zero for a wildcard frame rate.
func (p StreamProfile) Period() time.Duration {
	if p.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(p.FrameRate)
}

func (p StreamProfile) matches(width, height, fps int, format Format) bool {
	return (width == AnyWidth || width == p.Width) &&
		(height == AnyHeight || height == p.Height) &&
		(fps == AnyFrameRate || fps == p.FrameRate) &&
		(format == FormatAny || format == p.Format)
}

// Registry is the ordered list of stream profiles per camera type reported by a device. The first
// profile of each type is its default.
type Registry struct {
	order    []Type
	profiles map[Type][]StreamProfile
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{profiles: map[Type][]StreamProfile{}}
}

// Add appends profiles for a camera type, in priority order. It returns the registry so device
// capability tables can be built in one expression.
func (r *Registry) Add(t Type, profiles ...StreamProfile) *Registry {
	if _, ok := r.profiles[t]; !ok {
		r.order = append(r.order, t)
	}
	r.profiles[t] = append(r.profiles[t], profiles...)
	return r
}

// Types returns the supported camera types in the order they were added.
func (r *Registry) Types() []Type {
	return append([]Type(nil), r.order...)
}

// Supports reports whether the device has the camera type.
func (r *Registry) Supports(t Type) bool {
	return len(r.profiles[t]) > 0
}

// List returns the profiles of a camera type, default first.
func (r *Registry) List(t Type) ([]StreamProfile, error) {
	if !r.Supports(t) {
		return nil, NewError(ErrNotSupported, "list profiles", t, "camera type not supported by device")
	}
	return append([]StreamProfile(nil), r.profiles[t]...), nil
}

// Default returns the first listed profile of a camera type.
func (r *Registry) Default(t Type) (StreamProfile, error) {
	if !r.Supports(t) {
		return StreamProfile{}, NewError(ErrNotSupported, "default profile", t, "camera type not supported by device")
	}
	return r.profiles[t][0], nil
}

// Match returns the first listed profile agreeing with every non-wildcard argument. Wildcard
// fields are thereby filled from that profile.
func (r *Registry) Match(t Type, width, height, fps int, format Format) (StreamProfile, error) {
	if !r.Supports(t) {
		return StreamProfile{}, NewError(ErrNotSupported, "match profile", t, "camera type not supported by device")
	}
	p, ok := lo.Find(r.profiles[t], func(p StreamProfile) bool {
		return p.matches(width, height, fps, format)
	})
	if !ok {
		want := StreamProfile{Width: width, Height: height, FrameRate: fps, Format: format}
		return StreamProfile{}, NewError(ErrNotSupported, "match profile", t, "no profile matches "+want.String())
	}
	return p, nil
}

// Contains reports whether p is listed for the camera type exactly.
func (r *Registry) Contains(t Type, p StreamProfile) bool {
	return lo.Contains(r.profiles[t], p)
}

// Resolve returns p itself when it is listed, or its fuzzy match when it has wildcards.
func (r *Registry) Resolve(t Type, p StreamProfile) (StreamProfile, error) {
	if p.IsFuzzy() {
		return r.Match(t, p.Width, p.Height, p.FrameRate, p.Format)
	}
	if !r.Supports(t) {
		return StreamProfile{}, NewError(ErrNotSupported, "resolve profile", t, "camera type not supported by device")
	}
	if !r.Contains(t, p) {
		return StreamProfile{}, NewError(ErrNotSupported, "resolve profile", t, "profile "+p.String()+" not listed")
	}
	return p, nil
}

// Capabilities is everything a device reports about what it can stream.
type Capabilities struct {
	Cameras *Registry
	// Alignable lists the depth profiles software depth-to-color alignment accepts. A nil
	// registry means every depth profile is alignable.
	Alignable *Registry
	Accel     []AccelProfile
	Gyro      []GyroProfile
}

// SupportsImu reports whether the device has the IMU sensor.
func (c Capabilities) SupportsImu(t ImuSensorType) bool {
	switch t {
	case Accel:
		return len(c.Accel) > 0
	case Gyro:
		return len(c.Gyro) > 0
	case ImuUnknown:
	}
	return false
}

// ImuSensors returns the IMU sensors present.
func (c Capabilities) ImuSensors() []ImuSensorType {
	return lo.Filter([]ImuSensorType{Accel, Gyro}, func(t ImuSensorType, _ int) bool {
		return c.SupportsImu(t)
	})
}

// IsAlignable reports whether a depth profile can be software aligned.
func (c Capabilities) IsAlignable(p StreamProfile) bool {
	if c.Alignable == nil {
		return true
	}
	return c.Alignable.Contains(Depth, p)
}
