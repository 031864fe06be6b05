// Package imu aggregates accelerometer and gyroscope readings into composite samples.
package imu

import (
	"math"

	"go.viam.com/rgbdsync/camera"
)

// Sample is one IMU reading in physical units: g for the accelerometer, degrees per second for
// the gyroscope. Temperature is in degrees Celsius.
type Sample struct {
	TimestampUsec uint64  `json:"timestamp_usec"`
	Temperature   float32 `json:"temperature"`
	X             float32 `json:"x"`
	Y             float32 `json:"y"`
	Z             float32 `json:"z"`
}

// Magnitude returns the length of the reading's vector.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(float64(s.X)*float64(s.X) + float64(s.Y)*float64(s.Y) + float64(s.Z)*float64(s.Z))
}

// Composite holds every reading taken since the previous composite, zero or more per sensor,
// oldest first.
type Composite struct {
	Accel []Sample `json:"accel"`
	Gyro  []Sample `json:"gyro"`
}

// Samples returns the readings of one sensor.
func (c *Composite) Samples(t camera.ImuSensorType) []Sample {
	switch t {
	case camera.Accel:
		return c.Accel
	case camera.Gyro:
		return c.Gyro
	case camera.ImuUnknown:
	}
	return nil
}

// Latest returns the newest reading of a sensor.
func (c *Composite) Latest(t camera.ImuSensorType) (Sample, bool) {
	samples := c.Samples(t)
	if len(samples) == 0 {
		return Sample{}, false
	}
	return samples[len(samples)-1], true
}

// Len returns the total number of readings.
func (c *Composite) Len() int {
	return len(c.Accel) + len(c.Gyro)
}

// AccelFromRaw converts signed 16-bit accelerometer counts to g.
func AccelFromRaw(ts uint64, temperature float32, raw [3]int16, fs camera.AccelFullScale) Sample {
	return fromRaw(ts, temperature, raw, fs.G())
}

// GyroFromRaw converts signed 16-bit gyroscope counts to degrees per second.
func GyroFromRaw(ts uint64, temperature float32, raw [3]int16, fs camera.GyroFullScale) Sample {
	return fromRaw(ts, temperature, raw, fs.DegreesPerSecond())
}

func fromRaw(ts uint64, temperature float32, raw [3]int16, bound float64) Sample {
	scale := bound / 32768
	return Sample{
		TimestampUsec: ts,
		Temperature:   temperature,
		X:             float32(float64(raw[0]) * scale),
		Y:             float32(float64(raw[1]) * scale),
		Z:             float32(float64(raw[2]) * scale),
	}
}
