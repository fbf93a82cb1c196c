package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/attitude_stream/internal/frame"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attitude.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
# Sensor link
SERIAL_PORT=/dev/ttyUSB0
SERIAL_BAUD=230400
SENSOR_FORMAT=framed
CHECKSUM_ALGO=xor

FILTER_ALPHA=0.95
CALIBRATION_SAMPLES=50
ACCEL_TOLERANCE=0.2
BUFFER_CAPACITY=8

MQTT_BROKER=tcp://localhost:1883
MQTT_CLIENT_ID_INGEST=attitude-ingest
TOPIC_ATTITUDE=attitude/quaternion

WEB_SERVER_PORT=8080
DISPLAY_UPDATE_INTERVAL=100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SerialPort != "/dev/ttyUSB0" || cfg.SerialBaud != 230400 {
		t.Errorf("serial = %s/%d", cfg.SerialPort, cfg.SerialBaud)
	}
	if cfg.Format() != frame.FormatFramedQuaternion {
		t.Errorf("format = %v, want framed", cfg.Format())
	}
	if cfg.Checksum() != frame.ChecksumXOR {
		t.Errorf("checksum = %v, want xor", cfg.Checksum())
	}
	if cfg.FilterAlpha != 0.95 || cfg.CalibrationSamples != 50 || cfg.AccelTolerance != 0.2 {
		t.Errorf("filter tuning = %g/%d/%g", cfg.FilterAlpha, cfg.CalibrationSamples, cfg.AccelTolerance)
	}
	if cfg.BufferCapacity != 8 {
		t.Errorf("buffer capacity = %d, want 8", cfg.BufferCapacity)
	}
	if cfg.DisplayUpdateInterval != 100 {
		t.Errorf("display update interval = %d, want 100", cfg.DisplayUpdateInterval)
	}
	if cfg.WebServerPort != 8080 {
		t.Errorf("web port = %d, want 8080", cfg.WebServerPort)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "MQTT_BROKER=tcp://localhost:1883\nSENSOR_MOCK=true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Format() != frame.FormatASCIIQuaternion {
		t.Errorf("default format = %v, want ascii_quat", cfg.Format())
	}
	if cfg.Checksum() != frame.ChecksumSum {
		t.Errorf("default checksum = %v, want sum", cfg.Checksum())
	}
	if cfg.BufferCapacity != 1 {
		t.Errorf("default buffer capacity = %d, want 1", cfg.BufferCapacity)
	}
	if cfg.SerialBaud != 115200 {
		t.Errorf("default baud = %d, want 115200", cfg.SerialBaud)
	}
	if cfg.TopicAttitude != "attitude/quaternion" || cfg.TopicControl != "attitude/control" {
		t.Errorf("default topics = %s / %s", cfg.TopicAttitude, cfg.TopicControl)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing broker", "SERIAL_PORT=/dev/ttyUSB0\n", "MQTT_BROKER"},
		{"missing port", "MQTT_BROKER=tcp://localhost:1883\n", "SERIAL_PORT"},
		{"unknown key", "MQTT_BROKER=x\nNO_SUCH_KEY=1\n", "unknown config key"},
		{"bad line", "MQTT_BROKER=x\njust some text\n", "invalid config line"},
		{"bad format", "MQTT_BROKER=x\nSENSOR_MOCK=true\nSENSOR_FORMAT=csv\n", "format"},
		{"bad checksum", "MQTT_BROKER=x\nSENSOR_MOCK=true\nCHECKSUM_ALGO=crc32\n", "checksum"},
		{"bad accel range", "IMU_ACCEL_RANGE=7\n", "IMU_ACCEL_RANGE"},
		{"zero buffer", "BUFFER_CAPACITY=0\n", "BUFFER_CAPACITY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.conf")); err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}
