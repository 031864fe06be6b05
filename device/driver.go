// Package device ties a hardware driver to the capture synchronizer and IMU aggregator and exposes
// the resulting RGB-D device to applications.
package device

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/config"
	"go.viam.com/rgbdsync/imu"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/rimage/transform"
)

// DeviceInfo describes a connected device.
type DeviceInfo struct {
	Name            string `json:"name"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
	HardwareVersion string `json:"hardware_version"`
	ConnectionType  string `json:"connection_type"`
	URL             string `json:"url,omitempty"`
	VID             int    `json:"vid"`
	PID             int    `json:"pid"`
	Technology      string `json:"technology"`
}

// FrameSink receives frames from a driver. OnFrame takes ownership of the frame.
type FrameSink interface {
	OnFrame(f *camera.Frame)
}

// ImuSink receives IMU readings from a driver.
type ImuSink interface {
	OnSample(sensor camera.ImuSensorType, s imu.Sample)
}

// A Driver moves frames and readings from a device to sinks. Drivers may call sinks from any
// goroutine, concurrently.
type Driver interface {
	Info() DeviceInfo
	Capabilities() camera.Capabilities
	// Calibration returns the depth and color camera models for the profiles cfg selects.
	Calibration(cfg *config.CamerasConfig) (*transform.CamerasCalibration, error)

	StartCameras(ctx context.Context, cfg *config.CamerasConfig, sink FrameSink) error
	UpdateCameras(ctx context.Context, cfg *config.CamerasConfig) error
	StopCameras(ctx context.Context) error

	StartImu(ctx context.Context, cfg *config.ImuConfig, sink ImuSink) error
	StopImu(ctx context.Context) error

	Close(ctx context.Context) error
}

// DriverFactory opens a driver from its config attributes.
type DriverFactory func(ctx context.Context, attrs config.AttributeMap, logger logging.Logger) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]DriverFactory{}
)

// RegisterDriver registers a driver factory under a name. It panics if the name is taken.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, ok := drivers[name]; ok {
		panic(errors.Errorf("trying to register two drivers with same name %q", name))
	}
	if factory == nil {
		panic(errors.Errorf("cannot register a nil factory for driver %q", name))
	}
	drivers[name] = factory
}

// Drivers returns the names of the registered drivers, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := lo.Keys(drivers)
	sort.Strings(names)
	return names
}

func lookupDriver(name string) (DriverFactory, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	factory, ok := drivers[name]
	return factory, ok
}

// OpenDriver opens a registered driver.
func OpenDriver(ctx context.Context, name string, attrs config.AttributeMap, logger logging.Logger) (Driver, error) {
	factory, ok := lookupDriver(name)
	if !ok {
		return nil, errors.Errorf("unknown driver %q, have %v", name, Drivers())
	}
	return factory(ctx, attrs, logger)
}
