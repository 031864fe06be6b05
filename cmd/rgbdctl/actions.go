package main

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/config"
	"go.viam.com/rgbdsync/device"
	"go.viam.com/rgbdsync/imu"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/record"
	"go.viam.com/rgbdsync/rimage"
)

const pollTimeout = 100 * time.Millisecond

// session is an opened device plus the file config it came from, if any.
type session struct {
	dev  *device.Device
	file *config.FileConfig
}

type deviceAction func(ctx context.Context, c *cli.Context, s *session, logger logging.Logger) error

// withDevice opens the device named by the global flags around an action.
func withDevice(ctx context.Context, logger logging.Logger, action deviceAction) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		s := &session{}
		if path := c.String(flagConfig); path != "" {
			if s.file, err = config.Read(path); err != nil {
				return err
			}
			s.dev, err = device.OpenFromConfig(ctx, s.file, logger)
		} else {
			s.dev, err = device.Open(ctx, c.String(flagDriver), nil, logger)
		}
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, s.dev.Close(context.Background()))
		}()
		return action(ctx, c, s, logger)
	}
}

// camerasConfig returns the config file's cameras, or color and depth at their default profiles.
func (s *session) camerasConfig() (*config.CamerasConfig, error) {
	if s.file != nil {
		return s.file.CamerasConfig(s.dev.Capabilities())
	}
	cfg := s.dev.CreateCamerasConfig()
	for _, t := range []camera.Type{camera.Color, camera.Depth} {
		if err := cfg.EnableCamera(t); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// imuConfig returns the config file's IMU sensors, or every sensor at its first listed range.
func (s *session) imuConfig() (*config.ImuConfig, error) {
	if s.file != nil && s.file.Imu != nil {
		return s.file.ImuConfig(s.dev.Capabilities())
	}
	caps := s.dev.Capabilities()
	cfg := s.dev.CreateImuConfig()
	if len(caps.Accel) > 0 {
		cfg.EnableAccel(caps.Accel[0])
	}
	if len(caps.Gyro) > 0 {
		cfg.EnableGyro(caps.Gyro[0])
	}
	return cfg, nil
}

// untilDone returns a context that ends with ctx or after d, if d is positive.
func untilDone(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func profilesAction(_ context.Context, c *cli.Context, s *session, _ logging.Logger) error {
	w := c.App.Writer
	info := s.dev.Info()
	fmt.Fprintf(w, "%s (serial %s, firmware %s)\n", info.Name, info.SerialNumber, info.FirmwareVersion)
	caps := s.dev.Capabilities()
	for _, t := range caps.Cameras.Types() {
		profiles, err := caps.Cameras.List(t)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s:\n", t)
		for _, p := range profiles {
			alignable := ""
			if caps.IsAlignable(p) {
				alignable = " (alignable)"
			}
			fmt.Fprintf(w, "  %s%s\n", p, alignable)
		}
	}
	for _, p := range caps.Accel {
		fmt.Fprintf(w, "accel: +-%gg at %s\n", p.FullScale.G(), p.SampleRate.Period())
	}
	for _, p := range caps.Gyro {
		fmt.Fprintf(w, "gyro: +-%gdps at %s\n", p.FullScale.DegreesPerSecond(), p.SampleRate.Period())
	}
	return nil
}

func viewAction(ctx context.Context, c *cli.Context, s *session, logger logging.Logger) error {
	layout, err := rimage.ParseLayout(c.String(flagLayout))
	if err != nil {
		return err
	}
	every := c.Int(flagEvery)
	if every <= 0 {
		return errors.Errorf("--%s must be positive", flagEvery)
	}
	cfg, err := s.camerasConfig()
	if err != nil {
		return err
	}
	if err := s.dev.StartCameras(ctx, cfg); err != nil {
		return err
	}

	runCtx, cancel := untilDone(ctx, c.Duration(flagDuration))
	defer cancel()
	var count, snapshots int
	statsEvery := time.NewTicker(5 * time.Second)
	defer statsEvery.Stop()
	for runCtx.Err() == nil {
		select {
		case <-statsEvery.C:
			logger.Infow("stats", "stats", s.dev.Stats())
		default:
		}
		capt, err := s.dev.GetCapture(runCtx, pollTimeout)
		if err != nil {
			if errors.Is(err, camera.ErrTimeout) || runCtx.Err() != nil {
				continue
			}
			return err
		}
		count++
		if count%every == 0 {
			path := filepath.Join(c.String(flagOut), fmt.Sprintf("snapshot-%04d.png", snapshots))
			if err := writeSnapshot(runCtx, capt, layout, path); err != nil {
				logger.Warnw("cannot write snapshot", "path", path, "error", err)
			} else {
				snapshots++
				logger.Infow("wrote snapshot", "path", path, "cameras", capt.Cameras())
			}
		}
		//nolint:errcheck
		capt.Release()
	}
	logger.Infow("view finished", "captures", count, "snapshots", snapshots, "stats", s.dev.Stats())
	return s.dev.StopCameras(context.Background())
}

func writeSnapshot(ctx context.Context, capt *capture.Capture, layout rimage.Layout, path string) error {
	var pictures []image.Image
	var labels []string
	width, height := 0, 0
	for _, t := range capt.Cameras() {
		pic, err := rimage.DecodeContext(ctx, capt.Image(t))
		if err != nil {
			return err
		}
		if pic == nil {
			continue
		}
		pictures = append(pictures, pic)
		labels = append(labels, t.String())
		width += pic.Bounds().Dx()
		if h := pic.Bounds().Dy(); h > height {
			height = h
		}
	}
	if len(pictures) == 0 {
		return errors.New("nothing to show")
	}
	if layout != rimage.LayoutHorizontal {
		width = pictures[0].Bounds().Dx() * 2
		height *= 2
	}
	montage, err := rimage.Montage(pictures, labels, width, height, layout)
	if err != nil {
		return err
	}
	return imaging.Save(montage, path)
}

func recordAction(ctx context.Context, c *cli.Context, s *session, logger logging.Logger) (err error) {
	cfg, err := s.camerasConfig()
	if err != nil {
		return err
	}
	rec, err := record.Create(c.String(flagOut), logger.Sublogger("record"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rec.Close())
	}()
	if err := rec.WriteDeviceInfo(s.dev.Info()); err != nil {
		return err
	}
	if cfg.Enabled(camera.Depth) && cfg.Enabled(camera.Color) {
		calib, err := s.dev.CamerasCalibration(cfg)
		if err != nil {
			logger.Warnw("recording without calibration", "error", err)
		} else if err := rec.WriteCamerasCalibration(calib); err != nil {
			return err
		}
	}

	if c.Bool(flagImu) {
		imuCfg, err := s.imuConfig()
		if err != nil {
			return err
		}
		unsubscribe := s.dev.SubscribeImu(func(sample *imu.Composite) { rec.OnImu(sample) })
		defer unsubscribe()
		if err := s.dev.StartImu(ctx, imuCfg); err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, s.dev.StopImu(context.Background()))
		}()
	}
	if err := s.dev.StartCamerasWithCallback(ctx, cfg, rec.OnCapture); err != nil {
		return err
	}

	runCtx, cancel := untilDone(ctx, c.Duration(flagDuration))
	defer cancel()
	<-runCtx.Done()

	err = s.dev.StopCameras(context.Background())
	logger.Infow("recorded", "records", rec.Written(), "dropped", rec.Dropped(), "session", rec.Session())
	return err
}

// playbackLogger logs and releases what a recording holds.
type playbackLogger struct {
	logger   logging.Logger
	captures int
	samples  int
}

func (pl *playbackLogger) OnCapture(capt *capture.Capture) {
	pl.captures++
	var stamps []uint64
	for _, t := range capt.Cameras() {
		stamps = append(stamps, capt.Image(t).DeviceTimestamp())
	}
	pl.logger.Debugw("capture", "cameras", capt.Cameras(), "device_timestamps", stamps)
	//nolint:errcheck
	capt.Release()
}

func (pl *playbackLogger) OnImuSample(sensor camera.ImuSensorType, s imu.Sample) {
	pl.samples++
	pl.logger.Debugw("imu", "sensor", sensor, "sample", s)
}

func playbackAction(ctx context.Context, c *cli.Context, logger logging.Logger) error {
	p, err := record.Open(c.String(flagFile), logger.Sublogger("playback"), record.WithStateCallback(func(s record.PlaybackState) {
		logger.Infow("playback", "state", s)
	}))
	if err != nil {
		return err
	}
	header := p.Header()
	logger.Infow("capture file",
		"session", header.Session,
		"created", header.Created,
		"captures", p.Captures(),
		"imu_samples", p.ImuSamples(),
		"duration", p.Duration())
	if info := p.DeviceInfo(); info != nil {
		logger.Infow("recorded device", "name", info.Name, "serial", info.SerialNumber)
	}
	sink := &playbackLogger{logger: logger}
	if err := p.Play(ctx, sink); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infow("playback finished", "captures", sink.captures, "imu_samples", sink.samples)
	return nil
}

func schemaAction(c *cli.Context) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(schema))
	return err
}
