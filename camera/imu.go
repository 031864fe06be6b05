package camera

import (
	"fmt"
	"time"
)

// ImuSampleRate is an IMU output data rate.
type ImuSampleRate int

// IMU sample rates.
const (
	SampleRate1_5625Hz ImuSampleRate = iota + 1
	SampleRate3_125Hz
	SampleRate6_25Hz
	SampleRate12_5Hz
	SampleRate25Hz
	SampleRate50Hz
	SampleRate100Hz
	SampleRate200Hz
	SampleRate500Hz
	SampleRate1kHz
	SampleRate2kHz
	SampleRate4kHz
	SampleRate8kHz
	SampleRate16kHz
	SampleRate32kHz
)

var sampleRateHz = map[ImuSampleRate]float64{
	SampleRate1_5625Hz: 1.5625,
	SampleRate3_125Hz:  3.125,
	SampleRate6_25Hz:   6.25,
	SampleRate12_5Hz:   12.5,
	SampleRate25Hz:     25,
	SampleRate50Hz:     50,
	SampleRate100Hz:    100,
	SampleRate200Hz:    200,
	SampleRate500Hz:    500,
	SampleRate1kHz:     1000,
	SampleRate2kHz:     2000,
	SampleRate4kHz:     4000,
	SampleRate8kHz:     8000,
	SampleRate16kHz:    16000,
	SampleRate32kHz:    32000,
}

// Hz returns the rate in samples per second, or zero for an invalid rate.
func (r ImuSampleRate) Hz() float64 {
	return sampleRateHz[r]
}

// Period is the time between samples.
func (r ImuSampleRate) Period() time.Duration {
	hz := r.Hz()
	if hz == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// Valid reports whether r is a known rate.
func (r ImuSampleRate) Valid() bool {
	_, ok := sampleRateHz[r]
	return ok
}

func (r ImuSampleRate) String() string {
	return fmt.Sprintf("%gHz", r.Hz())
}

// GyroFullScale is a gyroscope measurement range.
type GyroFullScale int

// Gyroscope ranges in degrees per second.
const (
	GyroFS16dps GyroFullScale = iota + 1
	GyroFS31dps
	GyroFS62dps
	GyroFS125dps
	GyroFS245dps
	GyroFS250dps
	GyroFS500dps
	GyroFS1000dps
	GyroFS2000dps
)

var gyroDPS = [...]float64{0, 16, 31, 62, 125, 245, 250, 500, 1000, 2000}

// DegreesPerSecond returns the range bound, or zero for an invalid range.
func (fs GyroFullScale) DegreesPerSecond() float64 {
	if fs < GyroFS16dps || fs > GyroFS2000dps {
		return 0
	}
	return gyroDPS[fs]
}

// Valid reports whether fs is a known range.
func (fs GyroFullScale) Valid() bool {
	return fs.DegreesPerSecond() != 0
}

// AccelFullScale is an accelerometer measurement range.
type AccelFullScale int

// Accelerometer ranges in g.
const (
	AccelFS2g AccelFullScale = iota + 1
	AccelFS4g
	AccelFS8g
	AccelFS16g
)

// G returns the range bound, or zero for an invalid range.
func (fs AccelFullScale) G() float64 {
	if fs < AccelFS2g || fs > AccelFS16g {
		return 0
	}
	return float64(int(1) << fs)
}

// Valid reports whether fs is a known range.
func (fs AccelFullScale) Valid() bool {
	return fs.G() != 0
}

// AccelProfile is one accelerometer configuration a device supports.
type AccelProfile struct {
	FullScale  AccelFullScale `json:"full_scale"`
	SampleRate ImuSampleRate  `json:"sample_rate"`
}

// GyroProfile is one gyroscope configuration a device supports.
type GyroProfile struct {
	FullScale  GyroFullScale `json:"full_scale"`
	SampleRate ImuSampleRate `json:"sample_rate"`
}
