package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/logging"
)

// AttributeMap is a loosely typed attribute blob, as found in config files.
type AttributeMap map[string]interface{}

// StreamAttributes enables one camera. Omitted profile fields are wildcards.
type StreamAttributes struct {
	Camera    string `json:"camera" jsonschema:"enum=color,enum=depth,enum=ir"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	FrameRate int    `json:"fps,omitempty"`
	Format    string `json:"format,omitempty" jsonschema:"description=pixel format name such as MJPG or Y16"`
}

// ImuSensorAttributes enables one IMU sensor.
type ImuSensorAttributes struct {
	FullScale  int `json:"full_scale"`
	SampleRate int `json:"sample_rate"`
}

// ImuAttributes enables the IMU sensors.
type ImuAttributes struct {
	Accel *ImuSensorAttributes `json:"accel,omitempty"`
	Gyro  *ImuSensorAttributes `json:"gyro,omitempty"`
}

// FileConfig is the on-disk description of a device session.
type FileConfig struct {
	Driver           string       `json:"driver" jsonschema:"description=registered device driver name"`
	DriverAttributes AttributeMap `json:"driver_attributes,omitempty"`

	Streams []StreamAttributes `json:"streams"`

	SyncMode              string `json:"sync_mode,omitempty" jsonschema:"enum=wait_later_comer,enum=device_timestamp_match"`
	CapturePolicy         string `json:"capture_policy,omitempty" jsonschema:"enum=sync_images_only,enum=keep_color_image,enum=keep_all_images"`
	AlignMode             string `json:"align_mode,omitempty" jsonschema:"enum=disable,enum=hardware_d2c,enum=software_d2c"`
	ExposureSyncMode      string `json:"exposure_sync_mode,omitempty"`
	ExposureSyncDelayUsec int    `json:"exposure_sync_delay_usec,omitempty"`
	WiredSyncMode         string `json:"wired_sync_mode,omitempty" jsonschema:"enum=standalone,enum=primary,enum=secondary"`
	SecondaryDelayUsec    int    `json:"secondary_delay_usec,omitempty"`

	StalenessWindowMs int `json:"staleness_window_ms,omitempty"`
	QueueSize         int `json:"queue_size,omitempty"`

	Imu *ImuAttributes               `json:"imu,omitempty"`
	Log []logging.LoggerPatternConfig `json:"log,omitempty"`
}

// DecodeInto decodes attributes into a struct using its json tags.
func DecodeInto(attrs AttributeMap, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "error creating decoder for config")
	}
	return decoder.Decode(attrs)
}

// DecodeAttributes turns an attribute map into a validated FileConfig.
func DecodeAttributes(attrs AttributeMap) (*FileConfig, error) {
	var fc FileConfig
	if err := DecodeInto(attrs, &fc); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if err := fc.Validate(""); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Read reads a JSON config file.
func Read(path string) (*FileConfig, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var attrs AttributeMap
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %q as json", path)
	}
	fc, err := DecodeAttributes(attrs)
	if err != nil {
		return nil, errors.Wrapf(err, "config %q", path)
	}
	return fc, nil
}

// Validate checks what can be checked without a device. path prefixes error messages.
func (fc *FileConfig) Validate(path string) error {
	wrap := func(err error) error {
		if path == "" {
			return err
		}
		return errors.Wrap(err, path)
	}
	seen := map[camera.Type]bool{}
	for i, s := range fc.Streams {
		t, err := camera.ParseType(s.Camera)
		if err != nil {
			return wrap(errors.Wrapf(err, "streams.%d", i))
		}
		if seen[t] {
			return wrap(errors.Errorf("streams.%d: camera %s listed twice", i, t))
		}
		seen[t] = true
		if s.Format != "" {
			if _, err := camera.ParseFormat(s.Format); err != nil {
				return wrap(errors.Wrapf(err, "streams.%d", i))
			}
		}
		if s.Width < 0 || s.Height < 0 || s.FrameRate < 0 {
			return wrap(errors.Errorf("streams.%d: negative dimension or frame rate", i))
		}
	}
	if _, err := fc.modes(); err != nil {
		return wrap(err)
	}
	if fc.StalenessWindowMs < 0 || fc.QueueSize < 0 {
		return wrap(errors.New("staleness_window_ms and queue_size must not be negative"))
	}
	for _, lpc := range fc.Log {
		if err := lpc.Validate(); err != nil {
			return wrap(err)
		}
	}
	return nil
}

func (fc *FileConfig) modes() (*CamerasConfig, error) {
	cfg := &CamerasConfig{}
	var err error
	if cfg.SyncMode, err = ParseSyncMode(fc.SyncMode); err != nil {
		return nil, err
	}
	if cfg.CapturePolicy, err = ParseCapturePolicy(fc.CapturePolicy); err != nil {
		return nil, err
	}
	if cfg.AlignMode, err = ParseAlignMode(fc.AlignMode); err != nil {
		return nil, err
	}
	if cfg.ExposureSyncMode, err = ParseExposureSyncMode(fc.ExposureSyncMode); err != nil {
		return nil, err
	}
	if cfg.WiredSyncMode, err = ParseWiredSyncMode(fc.WiredSyncMode); err != nil {
		return nil, err
	}
	cfg.ExposureSyncDelayUsec = fc.ExposureSyncDelayUsec
	cfg.SecondaryDelayUsec = fc.SecondaryDelayUsec
	return cfg, nil
}

// CamerasConfig builds the cameras config the file describes for a device.
func (fc *FileConfig) CamerasConfig(caps camera.Capabilities) (*CamerasConfig, error) {
	modes, err := fc.modes()
	if err != nil {
		return nil, camera.WrapError(camera.ErrConfiguration, "load config", camera.Unknown, err, "")
	}
	cfg := NewCamerasConfig(caps)
	cfg.SyncMode = modes.SyncMode
	cfg.CapturePolicy = modes.CapturePolicy
	cfg.AlignMode = modes.AlignMode
	cfg.ExposureSyncMode = modes.ExposureSyncMode
	cfg.ExposureSyncDelayUsec = modes.ExposureSyncDelayUsec
	cfg.WiredSyncMode = modes.WiredSyncMode
	cfg.SecondaryDelayUsec = modes.SecondaryDelayUsec

	for _, s := range fc.Streams {
		t, err := camera.ParseType(s.Camera)
		if err != nil {
			return nil, camera.WrapError(camera.ErrConfiguration, "load config", camera.Unknown, err, "")
		}
		format := camera.FormatAny
		if s.Format != "" {
			if format, err = camera.ParseFormat(s.Format); err != nil {
				return nil, camera.WrapError(camera.ErrConfiguration, "load config", t, err, "")
			}
		}
		if err := cfg.SetAndEnable(t, s.Width, s.Height, s.FrameRate, format); err != nil {
			return nil, camera.WrapError(camera.ErrConfiguration, "load config", t, err, "")
		}
	}
	if err := cfg.Validate(caps); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ImuConfig builds the IMU config the file describes, or nil when it has no imu section.
func (fc *FileConfig) ImuConfig(caps camera.Capabilities) (*ImuConfig, error) {
	if fc.Imu == nil {
		return nil, nil
	}
	cfg := NewImuConfig(caps)
	if a := fc.Imu.Accel; a != nil {
		cfg.EnableAccel(camera.AccelProfile{
			FullScale: camera.AccelFullScale(a.FullScale), SampleRate: camera.ImuSampleRate(a.SampleRate),
		})
	}
	if g := fc.Imu.Gyro; g != nil {
		cfg.EnableGyro(camera.GyroProfile{
			FullScale: camera.GyroFullScale(g.FullScale), SampleRate: camera.ImuSampleRate(g.SampleRate),
		})
	}
	if err := cfg.Validate(caps); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StalenessWindow returns the configured window, or zero for the synchronizer default.
func (fc *FileConfig) StalenessWindow() time.Duration {
	return time.Duration(fc.StalenessWindowMs) * time.Millisecond
}

// Schema returns the JSON schema of FileConfig.
func Schema() ([]byte, error) {
	return json.MarshalIndent(jsonschema.Reflect(&FileConfig{}), "", "  ")
}
