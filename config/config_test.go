package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/logging"
)

func testCaps() camera.Capabilities {
	return camera.Capabilities{
		Cameras: camera.NewRegistry().
			Add(camera.Color,
				camera.StreamProfile{Width: 640, Height: 480, FrameRate: 30, Format: camera.FormatMJPG},
				camera.StreamProfile{Width: 1280, Height: 720, FrameRate: 30, Format: camera.FormatMJPG},
			).
			Add(camera.Depth,
				camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY16},
				camera.StreamProfile{Width: 320, Height: 288, FrameRate: 15, Format: camera.FormatY16},
			),
		Alignable: camera.NewRegistry().Add(camera.Depth,
			camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY16},
		),
		Accel: []camera.AccelProfile{{FullScale: camera.AccelFS4g, SampleRate: camera.SampleRate200Hz}},
		Gyro:  []camera.GyroProfile{{FullScale: camera.GyroFS500dps, SampleRate: camera.SampleRate200Hz}},
	}
}

func TestNewCamerasConfigDefaults(t *testing.T) {
	cfg := NewCamerasConfig(testCaps())
	test.That(t, cfg.EnabledCameras(), test.ShouldBeEmpty)
	test.That(t, cfg.Stream(camera.Color).Profile.Width, test.ShouldEqual, 640)
	test.That(t, cfg.Stream(camera.Depth).Profile.Height, test.ShouldEqual, 576)
	test.That(t, cfg.Stream(camera.IR), test.ShouldResemble, CameraStream{})
	test.That(t, cfg.SyncMode, test.ShouldEqual, WaitLaterComer)
	test.That(t, cfg.CapturePolicy, test.ShouldEqual, SyncImagesOnly)

	err := cfg.EnableCamera(camera.IR)
	test.That(t, errors.Is(err, camera.ErrNotSupported), test.ShouldBeTrue)
}

func TestSetAndEnable(t *testing.T) {
	cfg := NewCamerasConfig(testCaps())
	test.That(t, cfg.SetAndEnable(camera.Color, camera.AnyWidth, camera.AnyHeight, 30, camera.FormatMJPG), test.ShouldBeNil)
	test.That(t, cfg.Stream(camera.Color), test.ShouldResemble, CameraStream{
		Enabled: true,
		Profile: camera.StreamProfile{Width: 640, Height: 480, FrameRate: 30, Format: camera.FormatMJPG},
	})
	test.That(t, cfg.SetAndEnable(camera.Depth, camera.AnyWidth, camera.AnyHeight, 15, camera.FormatAny), test.ShouldBeNil)
	lowest, highest := cfg.FrameRateRange()
	test.That(t, lowest, test.ShouldEqual, 15)
	test.That(t, highest, test.ShouldEqual, 30)

	err := cfg.SetAndEnable(camera.Depth, 1, 1, 1, camera.FormatY16)
	test.That(t, errors.Is(err, camera.ErrNotSupported), test.ShouldBeTrue)

	clone := cfg.Clone()
	test.That(t, clone.DisableCamera(camera.Color), test.ShouldBeNil)
	test.That(t, cfg.Enabled(camera.Color), test.ShouldBeTrue)
}

func TestValidate(t *testing.T) {
	caps := testCaps()

	cfg := NewCamerasConfig(caps)
	err := cfg.Validate(caps)
	test.That(t, errors.Is(err, camera.ErrConfiguration), test.ShouldBeTrue)

	test.That(t, cfg.EnableCamera(camera.Depth), test.ShouldBeNil)
	test.That(t, cfg.Validate(caps), test.ShouldBeNil)

	t.Run("software d2c without color", func(t *testing.T) {
		bad := cfg.Clone()
		test.That(t, bad.SetAlignMode(AlignSoftwareD2C), test.ShouldBeNil)
		err := bad.Validate(caps)
		test.That(t, errors.Is(err, camera.ErrConfiguration), test.ShouldBeTrue)
		test.That(t, camera.StatusOf(err), test.ShouldEqual, camera.StatusLogicError)

		test.That(t, bad.EnableCamera(camera.Color), test.ShouldBeNil)
		test.That(t, bad.Validate(caps), test.ShouldBeNil)

		test.That(t, bad.SetProfile(camera.Depth, camera.StreamProfile{Width: 320, Height: 288, FrameRate: 15, Format: camera.FormatY16}), test.ShouldBeNil)
		test.That(t, errors.Is(bad.Validate(caps), camera.ErrConfiguration), test.ShouldBeTrue)
	})

	t.Run("hardware d2c without color", func(t *testing.T) {
		ok := cfg.Clone()
		test.That(t, ok.SetAlignMode(AlignHardwareD2C), test.ShouldBeNil)
		test.That(t, ok.Validate(caps), test.ShouldBeNil)
	})

	t.Run("unlisted profile", func(t *testing.T) {
		bad := cfg.Clone()
		bad.Streams[camera.Depth.Slot()].Profile.FrameRate = 60
		test.That(t, errors.Is(bad.Validate(caps), camera.ErrConfiguration), test.ShouldBeTrue)
	})

	t.Run("enums and delays", func(t *testing.T) {
		bad := cfg.Clone()
		test.That(t, bad.SetSyncMode(SyncMode(9)), test.ShouldNotBeNil)
		bad.CapturePolicy = CapturePolicy(-1)
		test.That(t, errors.Is(bad.Validate(caps), camera.ErrConfiguration), test.ShouldBeTrue)

		bad = cfg.Clone()
		test.That(t, bad.SetSecondaryDelay(100), test.ShouldBeNil)
		test.That(t, bad.Validate(caps), test.ShouldNotBeNil)
		test.That(t, bad.SetWiredSyncMode(Secondary), test.ShouldBeNil)
		test.That(t, bad.Validate(caps), test.ShouldBeNil)
		test.That(t, bad.SetExposureSync(ColorExposureFirst, -1), test.ShouldNotBeNil)
	})
}

func TestImuConfig(t *testing.T) {
	caps := testCaps()
	cfg := NewImuConfig(caps)
	test.That(t, cfg.Validate(caps), test.ShouldNotBeNil)
	cfg.EnableAccel(caps.Accel[0])
	test.That(t, cfg.Validate(caps), test.ShouldBeNil)
	test.That(t, cfg.Enabled(camera.Accel), test.ShouldBeTrue)
	test.That(t, cfg.Enabled(camera.Gyro), test.ShouldBeFalse)
	cfg.EnableGyro(camera.GyroProfile{FullScale: camera.GyroFS2000dps, SampleRate: camera.SampleRate200Hz})
	test.That(t, errors.Is(cfg.Validate(caps), camera.ErrConfiguration), test.ShouldBeTrue)
}

func TestModeNames(t *testing.T) {
	m, err := ParseSyncMode("device_timestamp_match")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, DeviceTimestampMatch)
	test.That(t, KeepColorImage.String(), test.ShouldEqual, "keep_color_image")
	p, err := ParseCapturePolicy("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, SyncImagesOnly)
	_, err = ParseAlignMode("sideways")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, WiredSyncMode(7).String(), test.ShouldEqual, "invalid")
}

func TestDecodeAttributes(t *testing.T) {
	attrs := AttributeMap{
		"driver": "fake",
		"streams": []interface{}{
			map[string]interface{}{"camera": "color", "fps": 30, "format": "MJPG"},
			map[string]interface{}{"camera": "depth"},
		},
		"capture_policy":      "keep_color_image",
		"align_mode":          "software_d2c",
		"staleness_window_ms": 80,
		"imu":                 map[string]interface{}{"accel": map[string]interface{}{"full_scale": 2, "sample_rate": 8}},
		"log":                 []interface{}{map[string]interface{}{"pattern": "rgbd.*", "level": "debug"}},
	}
	fc, err := DecodeAttributes(attrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fc.StalenessWindow(), test.ShouldEqual, 80*time.Millisecond)
	test.That(t, fc.Log, test.ShouldHaveLength, 1)

	caps := testCaps()
	cfg, err := fc.CamerasConfig(caps)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.EnabledCameras(), test.ShouldResemble, []camera.Type{camera.Color, camera.Depth})
	test.That(t, cfg.CapturePolicy, test.ShouldEqual, KeepColorImage)
	test.That(t, cfg.AlignMode, test.ShouldEqual, AlignSoftwareD2C)
	test.That(t, cfg.Stream(camera.Depth).Profile.FrameRate, test.ShouldEqual, 30)

	imuCfg, err := fc.ImuConfig(caps)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, imuCfg.AccelEnabled, test.ShouldBeTrue)
	test.That(t, imuCfg.GyroEnabled, test.ShouldBeFalse)

	_, err = DecodeAttributes(AttributeMap{"streams": []interface{}{map[string]interface{}{"camera": "thermal"}}})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DecodeAttributes(AttributeMap{"sync_mode": "eventually"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DecodeAttributes(AttributeMap{"unknown_key": 1})
	test.That(t, err, test.ShouldNotBeNil)

	noColor := &FileConfig{Streams: []StreamAttributes{{Camera: "depth"}}, AlignMode: "software_d2c"}
	_, err = noColor.CamerasConfig(caps)
	test.That(t, errors.Is(err, camera.ErrConfiguration), test.ShouldBeTrue)
}

func TestSchema(t *testing.T) {
	out, err := Schema()
	test.That(t, err, test.ShouldBeNil)
	var parsed map[string]interface{}
	test.That(t, json.Unmarshal(out, &parsed), test.ShouldBeNil)
	test.That(t, string(out), test.ShouldContainSubstring, "capture_policy")
	test.That(t, string(out), test.ShouldContainSubstring, "keep_color_image")
}

func writeConfig(t *testing.T, path string, fc FileConfig) {
	t.Helper()
	data, err := json.Marshal(fc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)
}

func TestWatcher(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "rgbd.json")
	writeConfig(t, path, FileConfig{Driver: "fake"})

	changes := make(chan *FileConfig, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, logger, func(fc *FileConfig) { changes <- fc })
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	// an invalid revision is skipped
	test.That(t, os.WriteFile(path, []byte(`{"sync_mode": "eventually"}`), 0o600), test.ShouldBeNil)
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, FileConfig{Driver: "fake", CapturePolicy: "keep_all_images"})

	select {
	case fc := <-changes:
		test.That(t, fc.CapturePolicy, test.ShouldEqual, "keep_all_images")
	case <-time.After(5 * time.Second):
		t.Fatal("no config change observed")
	}
}
