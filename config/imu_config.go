package config

import (
	"github.com/samber/lo"

	"go.viam.com/rgbdsync/camera"
)

// ImuConfig selects which IMU sensors stream and at which range and rate.
type ImuConfig struct {
	AccelEnabled bool                `json:"accel_enabled"`
	Accel        camera.AccelProfile `json:"accel"`
	GyroEnabled  bool                `json:"gyro_enabled"`
	Gyro         camera.GyroProfile  `json:"gyro"`
}

// NewImuConfig returns a config holding the first listed profile of each sensor, all disabled.
func NewImuConfig(caps camera.Capabilities) *ImuConfig {
	cfg := &ImuConfig{}
	if len(caps.Accel) > 0 {
		cfg.Accel = caps.Accel[0]
	}
	if len(caps.Gyro) > 0 {
		cfg.Gyro = caps.Gyro[0]
	}
	return cfg
}

// EnableAccel enables the accelerometer with the given profile.
func (cfg *ImuConfig) EnableAccel(p camera.AccelProfile) {
	cfg.AccelEnabled = true
	cfg.Accel = p
}

// EnableGyro enables the gyroscope with the given profile.
func (cfg *ImuConfig) EnableGyro(p camera.GyroProfile) {
	cfg.GyroEnabled = true
	cfg.Gyro = p
}

// Enabled reports whether the sensor is enabled.
func (cfg *ImuConfig) Enabled(t camera.ImuSensorType) bool {
	switch t {
	case camera.Accel:
		return cfg.AccelEnabled
	case camera.Gyro:
		return cfg.GyroEnabled
	case camera.ImuUnknown:
	}
	return false
}

// Validate checks the config against a device's capabilities.
func (cfg *ImuConfig) Validate(caps camera.Capabilities) error {
	const op = "validate imu config"
	if !cfg.AccelEnabled && !cfg.GyroEnabled {
		return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "no imu sensor enabled")
	}
	if cfg.AccelEnabled {
		if !cfg.Accel.FullScale.Valid() || !cfg.Accel.SampleRate.Valid() {
			return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "invalid accel profile")
		}
		if !lo.Contains(caps.Accel, cfg.Accel) {
			return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "accel profile not supported by device")
		}
	}
	if cfg.GyroEnabled {
		if !cfg.Gyro.FullScale.Valid() || !cfg.Gyro.SampleRate.Valid() {
			return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "invalid gyro profile")
		}
		if !lo.Contains(caps.Gyro, cfg.Gyro) {
			return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "gyro profile not supported by device")
		}
	}
	return nil
}
