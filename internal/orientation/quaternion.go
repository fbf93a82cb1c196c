package orientation

import (
	"fmt"
	"math"
)

// Quaternion is the canonical orientation representation for the pipeline.
// Component order is (w, x, y, z) with w the scalar part. Values produced by
// Sanitize or by the fusion filter are unit norm.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the identity rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// NormTolerance is the accepted deviation of a unit quaternion's norm after
// normalization.
const NormTolerance = 1e-3

// MaxNormDeviation is the widest |norm-1| accepted by Sanitize before a
// quaternion is rejected as corrupt rather than normalized. Generous on
// purpose: it absorbs sensor and format noise without masking garbage.
const MaxNormDeviation = 0.5

// Norm returns the Euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Conjugate returns (w, -x, -y, -z). For a unit quaternion this is its
// inverse.
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Mul returns the Hamilton product q ⊗ r.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Dot returns the four-component dot product of q and r.
func (q Quaternion) Dot(r Quaternion) float64 {
	return q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
}

// InvalidQuaternionError reports a four-tuple that cannot represent a
// rotation: zero, NaN/Inf components, or a norm too far from 1.
type InvalidQuaternionError struct {
	W, X, Y, Z float64
	Norm       float64
	Reason     string
}

func (e *InvalidQuaternionError) Error() string {
	return fmt.Sprintf("invalid quaternion (%.4f, %.4f, %.4f, %.4f): %s (norm %.4f)",
		e.W, e.X, e.Y, e.Z, e.Reason, e.Norm)
}

// Sanitize validates a raw four-tuple and returns its unit-norm quaternion.
// It is a pure function and safe for concurrent use.
func Sanitize(w, x, y, z float64) (Quaternion, error) {
	for _, v := range [4]float64{w, x, y, z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Quaternion{}, &InvalidQuaternionError{W: w, X: x, Y: y, Z: z, Reason: "non-finite component"}
		}
	}
	n := math.Sqrt(w*w + x*x + y*y + z*z)
	if n == 0 {
		return Quaternion{}, &InvalidQuaternionError{W: w, X: x, Y: y, Z: z, Reason: "zero norm"}
	}
	if math.Abs(n-1) > MaxNormDeviation {
		return Quaternion{}, &InvalidQuaternionError{W: w, X: x, Y: y, Z: z, Norm: n, Reason: "norm out of tolerance"}
	}
	return Quaternion{W: w / n, X: x / n, Y: y / n, Z: z / n}, nil
}

// Normalized returns the unit-norm copy of q, or the identity if the norm is
// too small to divide by.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n < 1e-12 {
		return Identity()
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// FromEuler builds a quaternion from intrinsic roll/pitch/yaw in radians.
func FromEuler(roll, pitch, yaw float64) Quaternion {
	cr := math.Cos(roll * 0.5)
	sr := math.Sin(roll * 0.5)
	cp := math.Cos(pitch * 0.5)
	sp := math.Sin(pitch * 0.5)
	cy := math.Cos(yaw * 0.5)
	sy := math.Sin(yaw * 0.5)

	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// Euler returns roll/pitch/yaw in radians. Pitch saturates at ±π/2 when the
// sine argument leaves [-1, 1].
func (q Quaternion) Euler() (roll, pitch, yaw float64) {
	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll = math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw = math.Atan2(sinyCosp, cosyCosp)
	return roll, pitch, yaw
}
