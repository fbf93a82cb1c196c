package ingest

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/attitude_stream/internal/frame"
	"github.com/relabs-tech/attitude_stream/internal/fusion"
	"github.com/relabs-tech/attitude_stream/internal/imu"
	"github.com/relabs-tech/attitude_stream/internal/orientation"
	"github.com/relabs-tech/attitude_stream/internal/stream"
)

type pipeline struct {
	svc  *Service
	buf  *stream.Buffer
	w    *io.PipeWriter
	done chan error
}

func startPipeline(t *testing.T, ctx context.Context, format frame.Format) *pipeline {
	t.Helper()
	buf := stream.NewBuffer(1)
	svc, err := New(Config{Format: format}, buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, w := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, r) }()
	return &pipeline{svc: svc, buf: buf, w: w, done: done}
}

func (p *pipeline) write(t *testing.T, s string) {
	t.Helper()
	if _, err := p.w.Write([]byte(s)); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
}

func (p *pipeline) await(t *testing.T, after uint64) (orientation.Sample, uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, seq, err := p.buf.Await(ctx, after)
	if err != nil {
		t.Fatalf("await publish after seq %d: %v", after, err)
	}
	return s, seq
}

func (p *pipeline) stop(t *testing.T, cancel context.CancelFunc) {
	t.Helper()
	cancel()
	select {
	case err := <-p.done:
		if err != nil {
			t.Fatalf("run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunPublishesQuaternion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := startPipeline(t, ctx, frame.FormatASCIIQuaternion)

	p.write(t, "1,0,0,0\n")
	s, _ := p.await(t, 0)
	if s.Quat != orientation.Identity() {
		t.Fatalf("got %+v, want identity", s.Quat)
	}
	if s.At.IsZero() {
		t.Fatal("published sample has zero timestamp")
	}
	p.stop(t, cancel)

	st := p.svc.Stats()
	if st.Records != 1 || st.Published != 1 {
		t.Fatalf("stats = %+v, want 1 record, 1 published", st)
	}
}

func TestMalformedLineSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := startPipeline(t, ctx, frame.FormatASCIIQuaternion)

	p.write(t, "1,0,abc,0\n0,1,0,0\n")
	s, _ := p.await(t, 0)
	want := orientation.Quaternion{X: 1}
	if s.Quat != want {
		t.Fatalf("got %+v, want %+v", s.Quat, want)
	}
	p.stop(t, cancel)

	st := p.svc.Stats()
	if st.Malformed != 1 {
		t.Fatalf("malformed count = %d, want 1", st.Malformed)
	}
	if st.Published != 1 {
		t.Fatalf("published count = %d, want 1", st.Published)
	}
	if st.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestInvalidQuaternionRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := startPipeline(t, ctx, frame.FormatASCIIQuaternion)

	// Well-formed line, but the norm is far outside the accepted band.
	p.write(t, "0.1,0.1,0.1,0.1\n1,0,0,0\n")
	s, _ := p.await(t, 0)
	if s.Quat != orientation.Identity() {
		t.Fatalf("got %+v, want identity", s.Quat)
	}
	p.stop(t, cancel)

	st := p.svc.Stats()
	if st.InvalidQuaternions != 1 {
		t.Fatalf("invalid count = %d, want 1", st.InvalidQuaternions)
	}
	if st.Records != 2 || st.Published != 1 {
		t.Fatalf("stats = %+v, want 2 records, 1 published", st)
	}
}

func TestSourceCloseIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := startPipeline(t, ctx, frame.FormatASCIIQuaternion)

	p.write(t, "1,0,0,0\n")
	p.await(t, 0)

	p.w.CloseWithError(errors.New("device unplugged"))
	select {
	case err := <-p.done:
		if !errors.Is(err, ErrSourceClosed) {
			t.Fatalf("run returned %v, want ErrSourceClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after source close")
	}

	// The last value survives the ingestion death.
	s, _, ok := p.buf.Latest()
	if !ok || s.Quat != orientation.Identity() {
		t.Fatalf("latest after close = %+v ok=%v, want identity", s.Quat, ok)
	}
}

func TestResetAndClear(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := startPipeline(t, ctx, frame.FormatASCIIQuaternion)

	// 90 degrees about X.
	const line = "0.70710678,0.70710678,0,0\n"
	p.write(t, line)
	s, seq := p.await(t, 0)
	if math.Abs(s.Quat.X-math.Sqrt2/2) > 1e-6 {
		t.Fatalf("pre-reset output %+v", s.Quat)
	}

	if err := p.svc.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	p.write(t, line)
	s, seq = p.await(t, seq)
	if math.Abs(s.Quat.W-1) > 1e-6 {
		t.Fatalf("post-reset output %+v, want identity", s.Quat)
	}

	if err := p.svc.ClearReset(ctx); err != nil {
		t.Fatalf("clear reset: %v", err)
	}
	p.write(t, line)
	s, _ = p.await(t, seq)
	if math.Abs(s.Quat.X-math.Sqrt2/2) > 1e-6 {
		t.Fatalf("post-clear output %+v, want original frame", s.Quat)
	}
	p.stop(t, cancel)
}

func TestResetBeforeFirstSample(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := startPipeline(t, ctx, frame.FormatASCIIQuaternion)

	if err := p.svc.Reset(ctx); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("reset before samples returned %v, want ErrNoSamples", err)
	}
	p.stop(t, cancel)
}

// stationarySource emits a level six-axis sample with a fixed gyro bias.
type stationarySource struct{}

func (stationarySource) Next() (imu.SixAxisSample, error) {
	return imu.SixAxisSample{Az: 9.80665, Gx: 0.5, At: time.Now()}, nil
}

func TestRunSamplesFusesAndPublishes(t *testing.T) {
	buf := stream.NewBuffer(1)
	svc, err := New(Config{Filter: fusion.Config{CalibrationSamples: 3}}, buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.RunSamples(ctx, stationarySource{}, time.Millisecond) }()

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer awaitCancel()
	var seq uint64
	for i := 0; i < 10; i++ {
		var s orientation.Sample
		s, seq, err = buf.Await(awaitCtx, seq)
		if err != nil {
			t.Fatalf("await publish %d: %v", i, err)
		}
		if n := s.Quat.Norm(); math.Abs(n-1) > 1e-9 {
			t.Fatalf("published non-unit quaternion, norm %g", n)
		}
	}

	if err := svc.Recalibrate(ctx); err != nil {
		t.Fatalf("recalibrate: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if st := svc.Stats(); st.Published < 10 {
		t.Fatalf("published = %d, want at least 10", st.Published)
	}
}
