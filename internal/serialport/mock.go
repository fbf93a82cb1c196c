// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package serialport

import (
	"fmt"
	"io"
	"math"
	"time"
)

// mockStream emits a synthetic six-axis ASCII byte stream, one record per
// interval, for running the pipeline without hardware. The motion is a slow
// roll/pitch sway around level with gravity on Z.
type mockStream struct {
	start    time.Time
	interval time.Duration
	pending  []byte
}

// NewMockStream returns a reader producing smooth synthetic sensor records.
func NewMockStream(interval time.Duration) io.ReadCloser {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &mockStream{start: time.Now(), interval: interval}
}

func (m *mockStream) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		time.Sleep(m.interval)
		elapsed := time.Since(m.start).Seconds()
		gx := 10 * math.Sin(elapsed)
		gy := 8 * math.Cos(elapsed*0.7)
		// Pure rotation rates around level, so the filter sees gravity
		// mostly on Z with a small sway.
		ax := 0.3 * math.Sin(elapsed*0.5)
		ay := 0.3 * math.Cos(elapsed*0.5)
		m.pending = fmt.Appendf(nil, "%.4f,%.4f,%.4f,%.4f,%.4f,%.4f\n",
			ax, ay, 9.80665, gx, gy, 0.0)
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *mockStream) Close() error { return nil }
