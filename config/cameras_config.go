// Package config contains the camera and IMU stream configuration builders, the file format they
// are read from, and a watcher that reloads that file while streaming.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/utils"
)

// CameraStream is the per camera part of a CamerasConfig.
type CameraStream struct {
	Enabled bool                 `json:"enabled"`
	Profile camera.StreamProfile `json:"profile"`
}

// CamerasConfig describes which cameras to stream and how their frames become captures. It is a
// plain value; starting a stream copies it.
type CamerasConfig struct {
	Streams [camera.NumSlots]CameraStream `json:"streams"`

	SyncMode              SyncMode         `json:"sync_mode"`
	CapturePolicy         CapturePolicy    `json:"capture_policy"`
	AlignMode             AlignMode        `json:"align_mode"`
	ExposureSyncMode      ExposureSyncMode `json:"exposure_sync_mode"`
	ExposureSyncDelayUsec int              `json:"exposure_sync_delay_usec"`
	WiredSyncMode         WiredSyncMode    `json:"wired_sync_mode"`
	SecondaryDelayUsec    int              `json:"secondary_delay_usec"`

	caps camera.Capabilities
}

// NewCamerasConfig returns a config holding the default profile of every camera the device
// supports, all disabled.
func NewCamerasConfig(caps camera.Capabilities) *CamerasConfig {
	cfg := &CamerasConfig{caps: caps}
	if caps.Cameras == nil {
		return cfg
	}
	for _, t := range caps.Cameras.Types() {
		if p, err := caps.Cameras.Default(t); err == nil && t.Valid() {
			cfg.Streams[t.Slot()].Profile = p
		}
	}
	return cfg
}

// Clone returns an independent copy.
func (cfg *CamerasConfig) Clone() *CamerasConfig {
	clone := *cfg
	return &clone
}

// Stream returns the settings of a camera.
func (cfg *CamerasConfig) Stream(t camera.Type) CameraStream {
	if !t.Valid() {
		return CameraStream{}
	}
	return cfg.Streams[t.Slot()]
}

// Enabled reports whether the camera is enabled.
func (cfg *CamerasConfig) Enabled(t camera.Type) bool {
	return cfg.Stream(t).Enabled
}

// EnabledCameras returns the enabled cameras in slot order.
func (cfg *CamerasConfig) EnabledCameras() []camera.Type {
	return lo.Filter(camera.Types[:], func(t camera.Type, _ int) bool {
		return cfg.Enabled(t)
	})
}

// FrameRateRange returns the lowest and highest frame rate among the enabled cameras.
func (cfg *CamerasConfig) FrameRateRange() (lowest, highest int) {
	for _, t := range cfg.EnabledCameras() {
		fps := cfg.Stream(t).Profile.FrameRate
		if lowest == 0 || fps < lowest {
			lowest = fps
		}
		if fps > highest {
			highest = fps
		}
	}
	return lowest, highest
}

func (cfg *CamerasConfig) checkType(op string, t camera.Type) error {
	if !t.Valid() {
		return camera.NewError(camera.ErrNotSupported, op, t, "no such camera")
	}
	if cfg.caps.Cameras != nil && !cfg.caps.Cameras.Supports(t) {
		return camera.NewError(camera.ErrNotSupported, op, t, "camera type not supported by device")
	}
	return nil
}

// EnableCamera enables a camera with its current profile.
func (cfg *CamerasConfig) EnableCamera(t camera.Type) error {
	if err := cfg.checkType("enable camera", t); err != nil {
		return err
	}
	cfg.Streams[t.Slot()].Enabled = true
	return nil
}

// DisableCamera disables a camera.
func (cfg *CamerasConfig) DisableCamera(t camera.Type) error {
	if err := cfg.checkType("disable camera", t); err != nil {
		return err
	}
	cfg.Streams[t.Slot()].Enabled = false
	return nil
}

// SetProfile sets a camera's profile without enabling it. Wildcard fields are resolved against the
// device registry.
func (cfg *CamerasConfig) SetProfile(t camera.Type, p camera.StreamProfile) error {
	if err := cfg.checkType("set profile", t); err != nil {
		return err
	}
	if cfg.caps.Cameras != nil {
		resolved, err := cfg.caps.Cameras.Resolve(t, p)
		if err != nil {
			return err
		}
		p = resolved
	}
	cfg.Streams[t.Slot()].Profile = p
	return nil
}

// SetAndEnable fuzzy matches a profile and enables the camera with it.
func (cfg *CamerasConfig) SetAndEnable(t camera.Type, width, height, fps int, format camera.Format) error {
	if err := cfg.SetProfile(t, camera.StreamProfile{Width: width, Height: height, FrameRate: fps, Format: format}); err != nil {
		return err
	}
	return cfg.EnableCamera(t)
}

// SetSyncMode sets the synchronization mode.
func (cfg *CamerasConfig) SetSyncMode(m SyncMode) error {
	if !m.Valid() {
		return utils.NewOutOfRangeError("sync mode", int(m))
	}
	cfg.SyncMode = m
	return nil
}

// SetCapturePolicy sets the capture generation policy.
func (cfg *CamerasConfig) SetCapturePolicy(p CapturePolicy) error {
	if !p.Valid() {
		return utils.NewOutOfRangeError("capture policy", int(p))
	}
	cfg.CapturePolicy = p
	return nil
}

// SetAlignMode sets the alignment mode.
func (cfg *CamerasConfig) SetAlignMode(m AlignMode) error {
	if !m.Valid() {
		return utils.NewOutOfRangeError("align mode", int(m))
	}
	cfg.AlignMode = m
	return nil
}

// SetExposureSync sets the exposure order and the delay between the two exposures.
func (cfg *CamerasConfig) SetExposureSync(m ExposureSyncMode, delayUsec int) error {
	if !m.Valid() {
		return utils.NewOutOfRangeError("exposure sync mode", int(m))
	}
	if delayUsec < 0 {
		return utils.NewOutOfRangeError("exposure sync delay", delayUsec)
	}
	cfg.ExposureSyncMode = m
	cfg.ExposureSyncDelayUsec = delayUsec
	return nil
}

// SetWiredSyncMode sets the device's trigger line role.
func (cfg *CamerasConfig) SetWiredSyncMode(m WiredSyncMode) error {
	if !m.Valid() {
		return utils.NewOutOfRangeError("wired sync mode", int(m))
	}
	cfg.WiredSyncMode = m
	return nil
}

// SetSecondaryDelay sets how long a secondary device waits after the primary's trigger.
func (cfg *CamerasConfig) SetSecondaryDelay(delayUsec int) error {
	if delayUsec < 0 {
		return utils.NewOutOfRangeError("secondary delay", delayUsec)
	}
	cfg.SecondaryDelayUsec = delayUsec
	return nil
}

func configErr(op string, t camera.Type, cause error, format string, args ...interface{}) error {
	return camera.WrapError(camera.ErrConfiguration, op, t, cause, fmt.Sprintf(format, args...))
}

// Validate checks the config against a device's capabilities. Every failure is an
// ErrConfiguration carrying the offending camera.
func (cfg *CamerasConfig) Validate(caps camera.Capabilities) error {
	const op = "validate cameras config"
	if caps.Cameras == nil {
		return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "device reports no cameras")
	}
	for _, t := range cfg.EnabledCameras() {
		if !caps.Cameras.Supports(t) {
			return camera.NewError(camera.ErrConfiguration, op, t, "camera type not supported by device")
		}
		if _, err := caps.Cameras.Resolve(t, cfg.Stream(t).Profile); err != nil {
			return configErr(op, t, err, "unsupported profile %s", cfg.Stream(t).Profile)
		}
	}
	if len(cfg.EnabledCameras()) == 0 {
		return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "no camera enabled")
	}

	enums := []struct {
		name  string
		valid bool
		value int
	}{
		{"sync mode", cfg.SyncMode.Valid(), int(cfg.SyncMode)},
		{"capture policy", cfg.CapturePolicy.Valid(), int(cfg.CapturePolicy)},
		{"align mode", cfg.AlignMode.Valid(), int(cfg.AlignMode)},
		{"exposure sync mode", cfg.ExposureSyncMode.Valid(), int(cfg.ExposureSyncMode)},
		{"wired sync mode", cfg.WiredSyncMode.Valid(), int(cfg.WiredSyncMode)},
	}
	for _, e := range enums {
		if !e.valid {
			return configErr(op, camera.Unknown, utils.NewOutOfRangeError(e.name, e.value), "bad %s", e.name)
		}
	}
	if cfg.ExposureSyncDelayUsec < 0 {
		return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "negative exposure sync delay")
	}
	if cfg.SecondaryDelayUsec < 0 {
		return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "negative secondary delay")
	}
	if cfg.SecondaryDelayUsec != 0 && cfg.WiredSyncMode != Secondary {
		return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "secondary delay requires wired sync mode secondary")
	}

	if cfg.AlignMode == AlignSoftwareD2C && !cfg.Enabled(camera.Color) {
		return camera.NewError(camera.ErrConfiguration, op, camera.Color, "software depth to color alignment requires color enabled")
	}
	if cfg.AlignMode == AlignSoftwareD2C && cfg.Enabled(camera.Depth) {
		depth, err := caps.Cameras.Resolve(camera.Depth, cfg.Stream(camera.Depth).Profile)
		if err != nil {
			return configErr(op, camera.Depth, err, "unsupported profile")
		}
		if !caps.IsAlignable(depth) {
			return camera.NewError(camera.ErrConfiguration, op, camera.Depth, "depth profile "+depth.String()+" is not alignable")
		}
	}
	return nil
}

// Resolved returns a copy whose enabled profiles have their wildcards filled in.
func (cfg *CamerasConfig) Resolved(caps camera.Capabilities) (*CamerasConfig, error) {
	if err := cfg.Validate(caps); err != nil {
		return nil, err
	}
	out := cfg.Clone()
	out.caps = caps
	for _, t := range out.EnabledCameras() {
		p, err := caps.Cameras.Resolve(t, out.Stream(t).Profile)
		if err != nil {
			return nil, errors.Wrap(err, "resolve")
		}
		out.Streams[t.Slot()].Profile = p
	}
	return out, nil
}
