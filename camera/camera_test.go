package camera

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func colorRegistry() *Registry {
	return NewRegistry().
		Add(Color,
			StreamProfile{640, 480, 30, FormatMJPG},
			StreamProfile{1280, 720, 30, FormatMJPG},
			StreamProfile{1280, 720, 15, FormatYUYV},
		).
		Add(Depth,
			StreamProfile{640, 576, 30, FormatY16},
			StreamProfile{320, 288, 15, FormatY16},
		)
}

func TestRegistryMatch(t *testing.T) {
	reg := colorRegistry()

	p, err := reg.Match(Color, AnyWidth, AnyHeight, 30, FormatMJPG)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, StreamProfile{640, 480, 30, FormatMJPG})

	p, err = reg.Match(Color, 1280, AnyHeight, AnyFrameRate, FormatAny)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, StreamProfile{1280, 720, 30, FormatMJPG})

	p, err = reg.Match(Color, AnyWidth, AnyHeight, AnyFrameRate, FormatYUYV)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.FrameRate, test.ShouldEqual, 15)

	_, err = reg.Match(Color, 1920, 1080, 30, FormatMJPG)
	test.That(t, errors.Is(err, ErrNotSupported), test.ShouldBeTrue)

	_, err = reg.Match(IR, AnyWidth, AnyHeight, AnyFrameRate, FormatAny)
	test.That(t, errors.Is(err, ErrNotSupported), test.ShouldBeTrue)
	test.That(t, StatusOf(err), test.ShouldEqual, StatusLogicError)
}

func TestRegistryListAndResolve(t *testing.T) {
	reg := colorRegistry()
	test.That(t, reg.Types(), test.ShouldResemble, []Type{Color, Depth})

	list, err := reg.List(Depth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, list, test.ShouldHaveLength, 2)
	list[0].Width = 1
	def, err := reg.Default(Depth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, def.Width, test.ShouldEqual, 640)

	_, err = reg.List(IR)
	test.That(t, err, test.ShouldNotBeNil)

	p, err := reg.Resolve(Depth, StreamProfile{320, 288, 15, FormatY16})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Height, test.ShouldEqual, 288)
	_, err = reg.Resolve(Depth, StreamProfile{320, 288, 30, FormatY16})
	test.That(t, errors.Is(err, ErrNotSupported), test.ShouldBeTrue)
	p, err = reg.Resolve(Depth, StreamProfile{Format: FormatAny, FrameRate: 15})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Width, test.ShouldEqual, 320)
}

func TestFormat(t *testing.T) {
	for _, f := range []Format{FormatMJPG, FormatH264, FormatH265, FormatRLE, FormatCompressed} {
		test.That(t, f.Planar(), test.ShouldBeFalse)
		_, err := f.MinStride(640)
		test.That(t, err, test.ShouldNotBeNil)
	}
	stride, err := FormatY16.MinStride(640)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stride, test.ShouldEqual, 1280)
	size, err := FormatNV12.FrameSize(640, 480)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldEqual, 640*480*3/2)

	f, err := ParseFormat("mjpeg")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, FormatMJPG)
	_, err = ParseFormat("webp")
	test.That(t, err, test.ShouldNotBeNil)

	out, err := json.Marshal(StreamProfile{640, 480, 30, FormatY16})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `{"width":640,"height":480,"fps":30,"format":"Y16"}`)
	var back StreamProfile
	test.That(t, json.Unmarshal(out, &back), test.ShouldBeNil)
	test.That(t, back.Format, test.ShouldEqual, FormatY16)
	test.That(t, FormatY14.PixelBits(), test.ShouldEqual, 14)
}

func TestTypesAndTimestamps(t *testing.T) {
	test.That(t, Color.Slot(), test.ShouldEqual, 0)
	test.That(t, IR.Slot(), test.ShouldEqual, 2)
	test.That(t, Unknown.Valid(), test.ShouldBeFalse)
	typ, err := ParseType("Depth")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, typ, test.ShouldEqual, Depth)

	test.That(t, DeviceTimestampDiff(10, 4), test.ShouldEqual, int64(6))
	test.That(t, DeviceTimestampDiff(5, math.MaxUint64-4), test.ShouldEqual, int64(10))

	test.That(t, StreamProfile{FrameRate: 30}.Period(), test.ShouldEqual, time.Second/30)
	test.That(t, SampleRate32kHz.Hz(), test.ShouldEqual, 32000.0)
	test.That(t, AccelFS8g.G(), test.ShouldEqual, 8.0)
	test.That(t, GyroFS245dps.DegreesPerSecond(), test.ShouldEqual, 245.0)
	test.That(t, GyroFullScale(42).Valid(), test.ShouldBeFalse)
}

func TestFrameValidate(t *testing.T) {
	f := &Frame{Camera: Depth, Format: FormatY16, Width: 4, Height: 2, Stride: 8, Data: make([]byte, 16)}
	test.That(t, f.Validate(), test.ShouldBeNil)
	test.That(t, f.PayloadSize(), test.ShouldEqual, 16)

	f.Size = 17
	test.That(t, f.Validate(), test.ShouldNotBeNil)
	f.Size = 0
	f.Stride = 4
	test.That(t, f.Validate(), test.ShouldNotBeNil)
	f.Camera = Unknown
	test.That(t, f.Validate(), test.ShouldNotBeNil)
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("usb gone")
	err := WrapError(ErrConfiguration, "configure", Depth, cause, "bad profile")
	test.That(t, err.Error(), test.ShouldEqual, "configure depth: invalid configuration: bad profile: usb gone")
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(err, cause), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeFalse)

	var camErr *Error
	test.That(t, errors.As(err, &camErr), test.ShouldBeTrue)
	test.That(t, camErr.Camera, test.ShouldEqual, Depth)

	test.That(t, StatusOf(nil), test.ShouldEqual, StatusOK)
	test.That(t, StatusOf(NewError(ErrTimeout, "poll", Unknown, "")), test.ShouldEqual, StatusRuntimeError)
	test.That(t, StatusOf(cause), test.ShouldEqual, StatusUnknown)
}
