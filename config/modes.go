package config

import (
	"strings"

	"github.com/pkg/errors"
)

// SyncMode decides when a set of pending frames becomes a capture.
type SyncMode int

// Synchronization modes.
const (
	// WaitLaterComer emits once every enabled camera has delivered a frame.
	WaitLaterComer SyncMode = iota
	// DeviceTimestampMatch emits frames whose device timestamps lie within one frame period of
	// the fastest enabled stream.
	DeviceTimestampMatch
)

// CapturePolicy decides what happens to pending frames when synchronization fails.
type CapturePolicy int

// Capture generation policies.
const (
	// SyncImagesOnly never emits a partial capture.
	SyncImagesOnly CapturePolicy = iota
	// KeepColorImage emits a partial capture as long as it holds a color image, so coded color
	// streams never lose a frame.
	KeepColorImage
	// KeepAllImages emits whatever is pending; no received frame is dropped.
	KeepAllImages
)

// AlignMode is the depth to color alignment applied before synchronization.
type AlignMode int

// Alignment modes.
const (
	AlignDisable AlignMode = iota
	// AlignHardwareD2C means the device already aligned depth to color.
	AlignHardwareD2C
	// AlignSoftwareD2C aligns on the host. Color must be enabled.
	AlignSoftwareD2C
)

// ExposureSyncMode orders color and depth exposure on multi camera devices.
type ExposureSyncMode int

// Exposure synchronization modes.
const (
	ExposureSyncClose ExposureSyncMode = iota
	ColorExposureFirst
	DepthExposureFirst
)

// WiredSyncMode is the role of a device on an external trigger line.
type WiredSyncMode int

// Wired synchronization modes.
const (
	Standalone WiredSyncMode = iota
	Primary
	Secondary
)

var (
	syncModeNames      = []string{"wait_later_comer", "device_timestamp_match"}
	capturePolicyNames = []string{"sync_images_only", "keep_color_image", "keep_all_images"}
	alignModeNames     = []string{"disable", "hardware_d2c", "software_d2c"}
	exposureSyncNames  = []string{"close", "color_exposure_first", "depth_exposure_first"}
	wiredSyncNames     = []string{"standalone", "primary", "secondary"}
)

func enumName(names []string, v int) string {
	if v < 0 || v >= len(names) {
		return "invalid"
	}
	return names[v]
}

func parseEnum(kind string, names []string, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, errors.Errorf("unknown %s %q, expected one of %s", kind, s, strings.Join(names, ", "))
}

func (m SyncMode) String() string         { return enumName(syncModeNames, int(m)) }
func (p CapturePolicy) String() string    { return enumName(capturePolicyNames, int(p)) }
func (m AlignMode) String() string        { return enumName(alignModeNames, int(m)) }
func (m ExposureSyncMode) String() string { return enumName(exposureSyncNames, int(m)) }
func (m WiredSyncMode) String() string    { return enumName(wiredSyncNames, int(m)) }

// Valid reports whether the mode is known.
func (m SyncMode) Valid() bool { return m >= WaitLaterComer && m <= DeviceTimestampMatch }

// Valid reports whether the policy is known.
func (p CapturePolicy) Valid() bool { return p >= SyncImagesOnly && p <= KeepAllImages }

// Valid reports whether the mode is known.
func (m AlignMode) Valid() bool { return m >= AlignDisable && m <= AlignSoftwareD2C }

// Valid reports whether the mode is known.
func (m ExposureSyncMode) Valid() bool { return m >= ExposureSyncClose && m <= DepthExposureFirst }

// Valid reports whether the mode is known.
func (m WiredSyncMode) Valid() bool { return m >= Standalone && m <= Secondary }

// ParseSyncMode parses a mode name. The empty string is the default mode.
func ParseSyncMode(s string) (SyncMode, error) {
	v, err := parseEnum("sync mode", syncModeNames, s)
	return SyncMode(v), err
}

// ParseCapturePolicy parses a policy name. The empty string is the default policy.
func ParseCapturePolicy(s string) (CapturePolicy, error) {
	v, err := parseEnum("capture policy", capturePolicyNames, s)
	return CapturePolicy(v), err
}

// ParseAlignMode parses an alignment mode name.
func ParseAlignMode(s string) (AlignMode, error) {
	v, err := parseEnum("align mode", alignModeNames, s)
	return AlignMode(v), err
}

// ParseExposureSyncMode parses an exposure sync mode name.
func ParseExposureSyncMode(s string) (ExposureSyncMode, error) {
	v, err := parseEnum("exposure sync mode", exposureSyncNames, s)
	return ExposureSyncMode(v), err
}

// ParseWiredSyncMode parses a wired sync mode name.
func ParseWiredSyncMode(s string) (WiredSyncMode, error) {
	v, err := parseEnum("wired sync mode", wiredSyncNames, s)
	return WiredSyncMode(v), err
}
