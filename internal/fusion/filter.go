package fusion

import (
	"fmt"
	"math"

	"github.com/relabs-tech/attitude_stream/internal/imu"
	"github.com/relabs-tech/attitude_stream/internal/orientation"
)

const gravity = 9.80665 // m/s²

// Config holds the filter tuning values. Zero fields take the defaults.
type Config struct {
	// Alpha is the blend weight on the gyro-integrated orientation,
	// in (0,1). Close to 1 trusts the gyro short-term while the
	// accelerometer correction suppresses long-term roll/pitch drift.
	Alpha float64
	// CalibrationSamples is the number of initial stationary samples used
	// to estimate the gyro bias.
	CalibrationSamples int
	// AccelTolerance is the fractional band around 1 g inside which the
	// accelerometer is trusted as a gravity reference. Outside the band
	// the sample's accel contribution is skipped entirely.
	AccelTolerance float64
	// MaxDt bounds the integration step; a larger gap (stalled stream,
	// clock jump) skips integration for that sample.
	MaxDt float64
}

func (c Config) withDefaults() Config {
	if c.Alpha == 0 {
		c.Alpha = 0.98
	}
	if c.CalibrationSamples == 0 {
		c.CalibrationSamples = 100
	}
	if c.AccelTolerance == 0 {
		c.AccelTolerance = 0.10
	}
	if c.MaxDt == 0 {
		c.MaxDt = 0.5
	}
	return c
}

// Validate rejects tunings the filter cannot run with.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("fusion: alpha must be in (0,1), got %g", c.Alpha)
	}
	if c.CalibrationSamples < 1 {
		return fmt.Errorf("fusion: calibration sample count must be positive, got %d", c.CalibrationSamples)
	}
	if c.AccelTolerance <= 0 || c.AccelTolerance >= 1 {
		return fmt.Errorf("fusion: accel tolerance must be in (0,1), got %g", c.AccelTolerance)
	}
	return nil
}

// Filter fuses a six-axis sample stream into a drift-corrected orientation.
// It consumes samples strictly in arrival order; all state is owned by the
// single ingestion goroutine and must not be shared.
//
// Yaw is observable only through gyro integration, so it drifts over long
// sessions. That is a property of 6-axis fusion, not a defect.
type Filter struct {
	cfg Config

	bias        [3]float64 // deg/s
	biasSum     [3]float64
	calibrated  bool
	calCount    int
	orientation orientation.Quaternion
	lastAt      float64 // seconds since epoch of the previous sample; 0 means none
}

// NewFilter creates a filter with the given tuning.
func NewFilter(cfg Config) *Filter {
	return &Filter{
		cfg:         cfg.withDefaults(),
		orientation: orientation.Identity(),
	}
}

// Calibrated reports whether the bias estimation phase has completed.
func (f *Filter) Calibrated() bool {
	return f.calibrated
}

// Bias returns the current gyro bias estimate in deg/s.
func (f *Filter) Bias() (bx, by, bz float64) {
	return f.bias[0], f.bias[1], f.bias[2]
}

// Orientation returns the current fused orientation estimate.
func (f *Filter) Orientation() orientation.Quaternion {
	return f.orientation
}

// Recalibrate restarts the bias estimation window. The current orientation
// estimate is kept so the output does not jump.
func (f *Filter) Recalibrate() {
	f.calibrated = false
	f.calCount = 0
	f.biasSum = [3]float64{}
}

// Update consumes one sample and returns the fused orientation. During the
// calibration phase the sensor is assumed stationary, gyro readings are
// accumulated into the bias estimate and the identity quaternion is
// returned.
func (f *Filter) Update(s imu.SixAxisSample) orientation.Quaternion {
	if !f.calibrated {
		f.biasSum[0] += s.Gx
		f.biasSum[1] += s.Gy
		f.biasSum[2] += s.Gz
		f.calCount++
		if f.calCount >= f.cfg.CalibrationSamples {
			n := float64(f.calCount)
			f.bias = [3]float64{f.biasSum[0] / n, f.biasSum[1] / n, f.biasSum[2] / n}
			f.calibrated = true
		}
		f.lastAt = timeSeconds(s)
		return orientation.Identity()
	}

	now := timeSeconds(s)
	dt := 0.0
	if f.lastAt != 0 {
		dt = now - f.lastAt
	}
	f.lastAt = now
	if dt <= 0 || dt > f.cfg.MaxDt {
		dt = 0
	}

	// Integrate the bias-corrected angular rate.
	gyro := f.orientation
	if dt > 0 {
		gx := (s.Gx - f.bias[0]) * math.Pi / 180.0
		gy := (s.Gy - f.bias[1]) * math.Pi / 180.0
		gz := (s.Gz - f.bias[2]) * math.Pi / 180.0
		gyro = f.orientation.Mul(rotationIncrement(gx, gy, gz, dt)).Normalized()
	}

	// Accelerometer tilt correction, gated on the gravity band: a vector
	// far from 1 g is measuring linear acceleration, not gravity, and
	// would inject tilt error.
	mag := math.Sqrt(s.Ax*s.Ax + s.Ay*s.Ay + s.Az*s.Az)
	if math.Abs(mag-gravity) > f.cfg.AccelTolerance*gravity {
		f.orientation = gyro
		return f.orientation
	}

	accRoll := math.Atan2(s.Ay, s.Az)
	accPitch := math.Atan2(-s.Ax, math.Sqrt(s.Ay*s.Ay+s.Az*s.Az))
	// Hold the gyro's yaw: the accelerometer cannot observe it, and
	// blending toward yaw 0 would fight the integration.
	_, _, yaw := gyro.Euler()
	accel := orientation.FromEuler(accRoll, accPitch, yaw)

	f.orientation = blend(gyro, accel, f.cfg.Alpha)
	return f.orientation
}

// rotationIncrement builds the quaternion for rotating at angular rate
// (wx, wy, wz) rad/s over dt seconds.
func rotationIncrement(wx, wy, wz, dt float64) orientation.Quaternion {
	rate := math.Sqrt(wx*wx + wy*wy + wz*wz)
	angle := rate * dt
	if rate < 1e-12 || angle < 1e-12 {
		return orientation.Identity()
	}
	sin := math.Sin(angle / 2)
	return orientation.Quaternion{
		W: math.Cos(angle / 2),
		X: sin * wx / rate,
		Y: sin * wy / rate,
		Z: sin * wz / rate,
	}
}

// blend is a normalized linear interpolation weighted toward a, flipping b
// onto the same hemisphere first so the interpolation takes the short path.
func blend(a, b orientation.Quaternion, alpha float64) orientation.Quaternion {
	if a.Dot(b) < 0 {
		b = orientation.Quaternion{W: -b.W, X: -b.X, Y: -b.Y, Z: -b.Z}
	}
	beta := 1 - alpha
	return orientation.Quaternion{
		W: alpha*a.W + beta*b.W,
		X: alpha*a.X + beta*b.X,
		Y: alpha*a.Y + beta*b.Y,
		Z: alpha*a.Z + beta*b.Z,
	}.Normalized()
}

func timeSeconds(s imu.SixAxisSample) float64 {
	if s.At.IsZero() {
		return 0
	}
	return float64(s.At.UnixNano()) / 1e9
}
