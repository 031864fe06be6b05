package transform

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Extrinsics is a rigid transform from one camera frame to another: p' = R*p + T. Rotation is row
// major and translation is in millimeters.
type Extrinsics struct {
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

// IdentityExtrinsics returns the transform that changes nothing.
func IdentityExtrinsics() Extrinsics {
	return Extrinsics{Rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// RotationMatrix returns the rotation as a 3x3 matrix.
func (e Extrinsics) RotationMatrix() *mat.Dense {
	r := e.Rotation
	return mat.NewDense(3, 3, r[:])
}

// CheckValid checks that the rotation is orthonormal.
func (e Extrinsics) CheckValid() error {
	r := e.RotationMatrix()
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	if !mat.EqualApprox(&rrt, mat.NewDiagDense(3, []float64{1, 1, 1}), 1e-6) {
		return errors.New("extrinsic rotation is not orthonormal")
	}
	return nil
}

// CamerasCalibration is the factory calibration of a depth and color camera pair.
type CamerasCalibration struct {
	DepthIntrinsics Intrinsics `json:"depth_intrinsics"`
	ColorIntrinsics Intrinsics `json:"color_intrinsics"`
	DepthDistortion Distortion `json:"depth_distortion"`
	ColorDistortion Distortion `json:"color_distortion"`
	DepthToColor    Extrinsics `json:"depth_to_color"`
}

// CheckValid checks both camera models and the extrinsics.
func (c *CamerasCalibration) CheckValid() error {
	if c == nil {
		return NewNoIntrinsicsError("calibration does not exist")
	}
	if err := c.DepthIntrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "depth")
	}
	if err := c.ColorIntrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "color")
	}
	return c.DepthToColor.CheckValid()
}

// NewCalibrationFromJSONFile reads camera calibration from a JSON file.
func NewCalibrationFromJSONFile(path string) (*CamerasCalibration, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading calibration file")
	}
	calib := &CamerasCalibration{}
	if err := json.Unmarshal(data, calib); err != nil {
		return nil, errors.Wrap(err, "error parsing calibration JSON")
	}
	return calib, nil
}
