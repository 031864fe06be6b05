// Package record writes device sessions to capture files and plays them back.
//
// A capture file is a sequence of length delimited protobuf messages. The first is a header
// Struct. Every later record is a pair: a Struct describing the record followed by a BytesValue
// holding its payload, which may be empty.
package record

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/matttproud/golang_protobuf_extensions/pbutil"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/imu"
	"go.viam.com/rgbdsync/utils"
)

const (
	// Magic identifies capture files.
	Magic = "rgbdsync-capture"
	// Version is the capture file format version written by Recorder.
	Version = 1

	// InProgressExt is appended to the path of a file still being recorded.
	InProgressExt = ".prog"
)

// record kinds
const (
	kindDeviceInfo  = "device_info"
	kindCalibration = "calibration"
	kindCapture     = "capture"
	kindImu         = "imu"
)

// Header is the first message of a capture file.
type Header struct {
	Version int
	Session uuid.UUID
	Created time.Time
}

func (h Header) toProto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"magic":   Magic,
		"version": h.Version,
		"session": h.Session.String(),
		"created": h.Created.UTC().Format(time.RFC3339Nano),
	})
}

func headerFromProto(s *structpb.Struct) (Header, error) {
	fields := s.GetFields()
	if fields["magic"].GetStringValue() != Magic {
		return Header{}, errors.New("not a capture file")
	}
	h := Header{Version: int(fields["version"].GetNumberValue())}
	if h.Version != Version {
		return Header{}, errors.Errorf("unsupported capture file version %d", h.Version)
	}
	var err error
	if h.Session, err = uuid.Parse(fields["session"].GetStringValue()); err != nil {
		return Header{}, errors.Wrap(err, "bad session id")
	}
	if h.Created, err = time.Parse(time.RFC3339Nano, fields["created"].GetStringValue()); err != nil {
		return Header{}, errors.Wrap(err, "bad creation time")
	}
	return h, nil
}

// entry is one record on its way to or from a file.
type entry struct {
	meta    *structpb.Struct
	payload []byte
}

func writeEntry(w io.Writer, e entry) error {
	if _, err := pbutil.WriteDelimited(w, e.meta); err != nil {
		return err
	}
	_, err := pbutil.WriteDelimited(w, wrapperspb.Bytes(e.payload))
	return err
}

// readEntry reads the next record. It returns io.EOF at a clean end of file.
func readEntry(r io.Reader) (entry, error) {
	meta := &structpb.Struct{}
	if _, err := pbutil.ReadDelimited(r, meta); err != nil {
		return entry{}, err
	}
	payload := &wrapperspb.BytesValue{}
	if _, err := pbutil.ReadDelimited(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return entry{}, errors.Wrap(err, "truncated record")
	}
	return entry{meta: meta, payload: payload.GetValue()}, nil
}

func (e entry) kind() string {
	return e.meta.GetFields()["kind"].GetStringValue()
}

func (e entry) number(field string) float64 {
	return e.meta.GetFields()[field].GetNumberValue()
}

func jsonEntry(kind string, v interface{}) (entry, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return entry{}, err
	}
	meta, err := structpb.NewStruct(map[string]interface{}{"kind": kind})
	if err != nil {
		return entry{}, err
	}
	return entry{meta: meta, payload: data}, nil
}

// captureEntry lays the images of c out back to back in the payload.
func captureEntry(c *capture.Capture, hostOffset time.Duration) (entry, error) {
	var images []interface{}
	var payload []byte
	for _, t := range c.Cameras() {
		img := c.Image(t)
		if img == nil {
			continue
		}
		data := img.Data()
		stride, err := img.Stride()
		if err != nil {
			stride = 0
		}
		desc := map[string]interface{}{
			"camera":      t.String(),
			"format":      img.Format().String(),
			"width":       img.Width(),
			"height":      img.Height(),
			"stride":      stride,
			"size":        len(data),
			"device_usec": img.DeviceTimestamp(),
			"host_ns":     strconv.FormatInt(img.HostTimestamp().UnixNano(), 10),
			"valid_bits":  img.ValidBits(),
		}
		if scale, err := img.ValueScale(); err == nil {
			desc["value_scale"] = float64(scale)
		}
		images = append(images, desc)
		payload = append(payload, data...)
	}
	meta, err := structpb.NewStruct(map[string]interface{}{
		"kind":           kindCapture,
		"host_offset_ns": hostOffset.Nanoseconds(),
		"images":         images,
	})
	if err != nil {
		return entry{}, err
	}
	return entry{meta: meta, payload: payload}, nil
}

// decodeCapture rebuilds a capture from its record. The caller owns the capture.
func decodeCapture(e entry) (*capture.Capture, error) {
	c := capture.New()
	offset := 0
	for _, v := range e.meta.GetFields()["images"].GetListValue().GetValues() {
		desc := v.GetStructValue()
		if desc == nil {
			//nolint:errcheck
			c.Release()
			return nil, utils.NewUnexpectedTypeError(&structpb.Struct{}, v.GetKind())
		}
		img, n, err := decodeImage(desc.GetFields(), e.payload[offset:])
		if err != nil {
			//nolint:errcheck
			c.Release()
			return nil, err
		}
		offset += n
		err = c.SetImage(img.SourceCamera(), img)
		//nolint:errcheck
		img.Release()
		if err != nil {
			//nolint:errcheck
			c.Release()
			return nil, err
		}
	}
	return c, nil
}

func decodeImage(fields map[string]*structpb.Value, payload []byte) (*capture.Image, int, error) {
	t, err := camera.ParseType(fields["camera"].GetStringValue())
	if err != nil {
		return nil, 0, err
	}
	format, err := camera.ParseFormat(fields["format"].GetStringValue())
	if err != nil {
		return nil, 0, err
	}
	size := int(fields["size"].GetNumberValue())
	if size <= 0 || size > len(payload) {
		return nil, 0, errors.Errorf("%s image of %d bytes overruns record payload of %d", t, size, len(payload))
	}
	buf := make([]byte, size)
	copy(buf, payload[:size])
	img, err := capture.NewImageFromBuffer(
		t, format,
		int(fields["width"].GetNumberValue()),
		int(fields["height"].GetNumberValue()),
		int(fields["stride"].GetNumberValue()),
		buf, nil,
	)
	if err != nil {
		return nil, 0, err
	}
	hostNs, err := strconv.ParseInt(fields["host_ns"].GetStringValue(), 10, 64)
	if err != nil {
		return nil, 0, errors.Wrap(err, "bad host timestamp")
	}
	img.SetTimestamps(uint64(fields["device_usec"].GetNumberValue()), time.Unix(0, hostNs))
	img.SetValidBits(int(fields["valid_bits"].GetNumberValue()))
	if scale, ok := fields["value_scale"]; ok {
		//nolint:errcheck
		img.SetValueScale(float32(scale.GetNumberValue()))
	}
	return img, size, nil
}

func imuEntry(sensor camera.ImuSensorType, s imu.Sample, hostOffset time.Duration) (entry, error) {
	meta, err := structpb.NewStruct(map[string]interface{}{
		"kind":           kindImu,
		"host_offset_ns": hostOffset.Nanoseconds(),
		"sensor":         sensor.String(),
		"timestamp_usec": s.TimestampUsec,
		"temperature":    float64(s.Temperature),
		"x":              float64(s.X),
		"y":              float64(s.Y),
		"z":              float64(s.Z),
	})
	if err != nil {
		return entry{}, err
	}
	return entry{meta: meta}, nil
}

func decodeImu(e entry) (camera.ImuSensorType, imu.Sample, error) {
	sensor, err := camera.ParseImuSensorType(e.meta.GetFields()["sensor"].GetStringValue())
	if err != nil {
		return 0, imu.Sample{}, err
	}
	return sensor, imu.Sample{
		TimestampUsec: uint64(e.number("timestamp_usec")),
		Temperature:   float32(e.number("temperature")),
		X:             float32(e.number("x")),
		Y:             float32(e.number("y")),
		Z:             float32(e.number("z")),
	}, nil
}
