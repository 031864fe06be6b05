package transform

// Distortion is the rational Brown-Conrady lens model in normalized image coordinates. K1..K3 are
// the radial numerator terms, K4..K6 the radial denominator terms and P1, P2 the tangential terms.
type Distortion struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
	K5 float64 `json:"k5"`
	K6 float64 `json:"k6"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
}

// IsZero reports whether the model leaves points where they are.
func (d Distortion) IsZero() bool {
	return d == Distortion{}
}

// Distort maps undistorted normalized coordinates to where the lens puts them.
func (d Distortion) Distort(x, y float64) (float64, float64) {
	if d.IsZero() {
		return x, y
	}
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := (1 + d.K1*r2 + d.K2*r4 + d.K3*r6) / (1 + d.K4*r2 + d.K5*r4 + d.K6*r6)
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// Undistort inverts Distort with Newton-Raphson iterations, starting from the distorted point.
func (d Distortion) Undistort(xd, yd float64) (float64, float64) {
	if d.IsZero() {
		return xd, yd
	}
	const (
		maxIterations = 20
		tolerance     = 1e-10
		step          = 1e-7
	)
	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		ex, ey := d.Distort(xu, yu)
		errX, errY := ex-xd, ey-yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// central difference jacobian
		xp, yp := d.Distort(xu+step, yu)
		xm, ym := d.Distort(xu-step, yu)
		dxdxu, dydxu := (xp-xm)/(2*step), (yp-ym)/(2*step)
		xp, yp = d.Distort(xu, yu+step)
		xm, ym = d.Distort(xu, yu-step)
		dxdyu, dydyu := (xp-xm)/(2*step), (yp-ym)/(2*step)

		det := dxdxu*dydyu - dxdyu*dydxu
		if det == 0 {
			break
		}
		xu -= (dydyu*errX - dxdyu*errY) / det
		yu -= (-dydxu*errX + dxdxu*errY) / det
	}
	return xu, yu
}
