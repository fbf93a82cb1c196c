package orientation

import (
	"math"
	"time"
)

// Pose is the Euler-angle view of an orientation, in degrees. This is what
// the console and display consumers print.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Pose converts q to roll/pitch/yaw degrees.
func (q Quaternion) Pose() Pose {
	roll, pitch, yaw := q.Euler()
	return Pose{
		Roll:  roll * 180.0 / math.Pi,
		Pitch: pitch * 180.0 / math.Pi,
		Yaw:   yaw * 180.0 / math.Pi,
	}
}

// Sample is one validated, offset-applied orientation with its arrival time.
// This is the unit published to consumers.
type Sample struct {
	Quat Quaternion
	At   time.Time
}

// Attitude is the JSON message published over MQTT and the WebSocket: the
// fused quaternion plus its Euler view and timestamp.
type Attitude struct {
	Quaternion
	Pose
	Time string `json:"time"`
}

// MakeAttitude builds the wire message for a published sample.
func MakeAttitude(s Sample) Attitude {
	return Attitude{
		Quaternion: s.Quat,
		Pose:       s.Quat.Pose(),
		Time:       s.At.Format(time.RFC3339Nano),
	}
}
