package imu

import "time"

// SixAxisSample is one raw accelerometer+gyroscope reading. Accelerations
// are m/s², angular rates deg/s. At is the arrival timestamp assigned when
// the record was decoded or read from the sensor.
type SixAxisSample struct {
	Ax float64 `json:"ax"`
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`

	Gx float64 `json:"gx"`
	Gy float64 `json:"gy"`
	Gz float64 `json:"gz"`

	At time.Time `json:"-"`
}

// SampleSource is anything that can produce six-axis samples over time:
// the SPI-attached MPU9250, or a replay source in tests.
type SampleSource interface {
	Next() (SixAxisSample, error)
}
