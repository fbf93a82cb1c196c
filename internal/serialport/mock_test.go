package serialport

import (
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/attitude_stream/internal/frame"
)

func TestMockStreamDecodes(t *testing.T) {
	src := NewMockStream(time.Millisecond)
	defer src.Close()

	dec := frame.NewDecoder(frame.FormatASCIISixAxis)
	buf := make([]byte, 256)
	decoded := 0
	for decoded < 5 {
		n, err := src.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		dec.Feed(buf[:n])
		for {
			rec, err := dec.Next()
			if errors.Is(err, frame.ErrNeedMoreData) {
				break
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if rec.Kind != frame.KindSixAxis {
				t.Fatalf("kind = %v, want six-axis", rec.Kind)
			}
			if rec.Six.Az < 9 || rec.Six.Az > 10.5 {
				t.Fatalf("az = %g, want near 1 g", rec.Six.Az)
			}
			decoded++
		}
	}
}
