package frame

import "fmt"

// Format identifies the wire format of a sensor byte stream. The format is
// fixed per decoder instance; the decoder never switches formats mid-stream.
type Format int

const (
	// FormatASCIIQuaternion: "w,x,y,z\n", comma-separated decimal floats.
	FormatASCIIQuaternion Format = iota
	// FormatFloat32Quaternion: 16 bytes per record, four little-endian
	// float32 values (w, x, y, z), no framing.
	FormatFloat32Quaternion
	// FormatFloat64Quaternion: 32 bytes per record, four little-endian
	// float64 values (w, x, y, z), no framing.
	FormatFloat64Quaternion
	// FormatFramedQuaternion: 0xAA55 header (little-endian on the wire),
	// 16-byte float32 quaternion payload, 16-bit checksum.
	FormatFramedQuaternion
	// FormatASCIISixAxis: "ax,ay,az,gx,gy,gz\n", accelerations in m/s²,
	// angular rates in deg/s.
	FormatASCIISixAxis
)

func (f Format) String() string {
	switch f {
	case FormatASCIIQuaternion:
		return "ascii_quat"
	case FormatFloat32Quaternion:
		return "float32"
	case FormatFloat64Quaternion:
		return "float64"
	case FormatFramedQuaternion:
		return "framed"
	case FormatASCIISixAxis:
		return "ascii_six"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps a config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "ascii_quat":
		return FormatASCIIQuaternion, nil
	case "float32":
		return FormatFloat32Quaternion, nil
	case "float64":
		return FormatFloat64Quaternion, nil
	case "framed":
		return FormatFramedQuaternion, nil
	case "ascii_six":
		return FormatASCIISixAxis, nil
	default:
		return 0, fmt.Errorf("unknown sensor format %q (want ascii_quat, float32, float64, framed or ascii_six)", s)
	}
}
