package sensors

import (
	"math"
	"testing"
)

func TestFullScaleRanges(t *testing.T) {
	cases := []struct {
		rangeIdx    byte
		wantAccelG  float64
		wantGyroDPS float64
	}{
		{0, 2, 250},
		{1, 4, 500},
		{2, 8, 1000},
		{3, 16, 2000},
	}
	for _, tc := range cases {
		if got := accelFullScaleG(tc.rangeIdx); got != tc.wantAccelG {
			t.Errorf("accelFullScaleG(%d) = %v, want %v", tc.rangeIdx, got, tc.wantAccelG)
		}
		if got := gyroFullScaleDPS(tc.rangeIdx); got != tc.wantGyroDPS {
			t.Errorf("gyroFullScaleDPS(%d) = %v, want %v", tc.rangeIdx, got, tc.wantGyroDPS)
		}
	}
}

func TestCountScaling(t *testing.T) {
	// At ±2g a full-scale positive count reads 2g in m/s².
	accelScale := accelFullScaleG(0) * gravity / rawFullScale
	if got, want := accelScale*rawFullScale, 2*gravity; math.Abs(got-want) > 1e-9 {
		t.Errorf("accel full-scale reading = %v m/s², want %v", got, want)
	}

	// At ±2000°/s a full-scale positive count reads 2000 deg/s.
	gyroScale := gyroFullScaleDPS(3) / rawFullScale
	if got, want := gyroScale*rawFullScale, 2000.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("gyro full-scale reading = %v deg/s, want %v", got, want)
	}
}
