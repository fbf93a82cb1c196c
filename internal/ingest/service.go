package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/attitude_stream/internal/frame"
	"github.com/relabs-tech/attitude_stream/internal/fusion"
	"github.com/relabs-tech/attitude_stream/internal/imu"
	"github.com/relabs-tech/attitude_stream/internal/orientation"
	"github.com/relabs-tech/attitude_stream/internal/stream"
)

// ErrSourceClosed is the fatal ingestion error: the sensor byte source
// stopped delivering (unplugged, port closed). Consumers keep the last
// published value; only the ingestion role dies.
var ErrSourceClosed = errors.New("ingest: sensor source closed")

// ErrNoSamples is returned by Reset before the pipeline has produced a
// single validated orientation to use as the reference.
var ErrNoSamples = errors.New("ingest: no samples yet")

const defaultReadChunk = 4096

// Config wires the pipeline stages together.
type Config struct {
	Format   frame.Format
	Checksum frame.ChecksumAlgo
	Filter   fusion.Config
	// ReadChunk is the serial read size; zero means 4096.
	ReadChunk int
}

// Stats are the per-record error and throughput counters. Every error kind
// here is recoverable: counted, never fatal.
type Stats struct {
	Records            uint64 `json:"records"`
	Published          uint64 `json:"published"`
	Malformed          uint64 `json:"malformed"`
	ChecksumErrors     uint64 `json:"checksum_errors"`
	InvalidQuaternions uint64 `json:"invalid_quaternions"`
	LastError          string `json:"last_error,omitempty"`
}

// Service is the ingestion role: it owns the decoder, the filter state and
// the reset reference, and is the only writer to the output buffer. Exactly
// one Run* call may be active at a time; decoding, fusion and offset
// application all happen on that single goroutine, so records are processed
// strictly in arrival order and control requests apply atomically between
// decode steps.
type Service struct {
	cfg Config
	buf *stream.Buffer

	resetCh chan chan error
	clearCh chan chan error
	recalCh chan chan error

	mu    sync.RWMutex
	stats Stats
}

// New creates an ingestion service publishing into buf.
func New(cfg Config, buf *stream.Buffer) (*Service, error) {
	if buf == nil {
		return nil, fmt.Errorf("ingest: nil output buffer")
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = defaultReadChunk
	}
	return &Service{
		cfg:     cfg,
		buf:     buf,
		resetCh: make(chan chan error, 1),
		clearCh: make(chan chan error, 1),
		recalCh: make(chan chan error, 1),
	}, nil
}

// Stats returns a snapshot of the error/throughput counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Reset declares the current pose to be the identity: the next and all
// following published values are re-referenced so the orientation at reset
// time maps to (1,0,0,0). Applied by the ingestion goroutine between decode
// steps, never mid-fusion.
func (s *Service) Reset(ctx context.Context) error {
	return s.request(ctx, s.resetCh)
}

// ClearReset removes the reference orientation; output returns to the
// filter/decoder frame.
func (s *Service) ClearReset(ctx context.Context) error {
	return s.request(ctx, s.clearCh)
}

// Recalibrate restarts the gyro bias estimation window. Only meaningful on
// six-axis streams; the current orientation estimate is retained.
func (s *Service) Recalibrate(ctx context.Context) error {
	return s.request(ctx, s.recalCh)
}

func (s *Service) request(ctx context.Context, ch chan chan error) error {
	done := make(chan error, 1)
	select {
	case ch <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// session is the per-Run pipeline state, discarded when the run ends so a
// partial frame or stale reference can never leak into the next session.
type session struct {
	filter  *fusion.Filter
	ref     orientation.Reference
	lastRaw orientation.Quaternion
	haveRaw bool
}

// Run consumes the byte source until it fails or ctx is cancelled.
// Cancellation returns nil and simply drops any in-flight partial frame; a
// read error is fatal and wraps ErrSourceClosed. All per-record errors are
// counted and skipped.
func (s *Service) Run(ctx context.Context, src io.Reader) error {
	dec := frame.NewDecoder(s.cfg.Format, frame.WithChecksum(s.cfg.Checksum))
	sess := &session{filter: fusion.NewFilter(s.cfg.Filter)}

	chunks := make(chan []byte, 8)
	readErr := make(chan error, 1)
	go func() {
		for {
			p := make([]byte, s.cfg.ReadChunk)
			n, err := src.Read(p)
			if n > 0 {
				select {
				case chunks <- p[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			dec.Discard()
			return nil
		case done := <-s.resetCh:
			done <- s.applyReset(sess)
		case done := <-s.clearCh:
			sess.ref.Clear()
			done <- nil
		case done := <-s.recalCh:
			sess.filter.Recalibrate()
			done <- nil
		case p := <-chunks:
			dec.Feed(p)
			s.drainRecords(dec, sess)
		case err := <-readErr:
			// Decode whatever arrived before the failure, then die.
			for {
				select {
				case p := <-chunks:
					dec.Feed(p)
					s.drainRecords(dec, sess)
					continue
				default:
				}
				break
			}
			dec.Discard()
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: EOF", ErrSourceClosed)
			}
			return fmt.Errorf("%w: %v", ErrSourceClosed, err)
		}
	}
}

// RunSamples is the direct-capture variant of Run for sensors that hand us
// six-axis samples without a serial wire format (the SPI-attached IMU). The
// same fusion, validation, offset and publication stages apply.
func (s *Service) RunSamples(ctx context.Context, src imu.SampleSource, interval time.Duration) error {
	sess := &session{filter: fusion.NewFilter(s.cfg.Filter)}

	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case done := <-s.resetCh:
			done <- s.applyReset(sess)
		case done := <-s.clearCh:
			sess.ref.Clear()
			done <- nil
		case done := <-s.recalCh:
			sess.filter.Recalibrate()
			done <- nil
		case <-ticker.C:
			sample, err := src.Next()
			if err != nil {
				log.Printf("ingest: sensor read error: %v", err)
				s.noteError(err)
				continue
			}
			if sample.At.IsZero() {
				sample.At = time.Now()
			}
			s.processSixAxis(sess, sample, sample.At)
		}
	}
}

// applyReset captures the current (pre-offset) orientation as the new
// reference.
func (s *Service) applyReset(sess *session) error {
	if !sess.haveRaw {
		return ErrNoSamples
	}
	sess.ref.Set(sess.lastRaw)
	return nil
}

// drainRecords decodes every complete record currently buffered.
func (s *Service) drainRecords(dec *frame.Decoder, sess *session) {
	var malformed *frame.MalformedRecordError
	var checksum *frame.ChecksumError
	for {
		rec, err := dec.Next()
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrNeedMoreData):
			return
		case errors.As(err, &malformed):
			s.mu.Lock()
			s.stats.Malformed++
			s.stats.LastError = err.Error()
			s.mu.Unlock()
			continue
		case errors.As(err, &checksum):
			s.mu.Lock()
			s.stats.ChecksumErrors++
			s.stats.LastError = err.Error()
			s.mu.Unlock()
			continue
		default:
			// Unknown decode error: count it and keep decoding.
			s.noteError(err)
			continue
		}

		s.mu.Lock()
		s.stats.Records++
		s.mu.Unlock()

		switch rec.Kind {
		case frame.KindQuaternion:
			s.processQuaternion(sess, rec.Quat, rec.At)
		case frame.KindSixAxis:
			s.processSixAxis(sess, rec.Six, rec.At)
		}
	}
}

// processQuaternion validates a directly received quaternion, applies the
// reset reference and publishes.
func (s *Service) processQuaternion(sess *session, raw orientation.Quaternion, at time.Time) {
	q, err := orientation.Sanitize(raw.W, raw.X, raw.Y, raw.Z)
	if err != nil {
		s.mu.Lock()
		s.stats.InvalidQuaternions++
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		return
	}
	s.publish(sess, q, at)
}

// processSixAxis runs one sample through the complementary filter, then
// validates and publishes the fused orientation.
func (s *Service) processSixAxis(sess *session, sample imu.SixAxisSample, at time.Time) {
	fused := sess.filter.Update(sample)
	q, err := orientation.Sanitize(fused.W, fused.X, fused.Y, fused.Z)
	if err != nil {
		// The filter should never emit this; drop the sample and keep
		// its state out of the published stream.
		s.mu.Lock()
		s.stats.InvalidQuaternions++
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		return
	}
	s.publish(sess, q, at)
}

func (s *Service) publish(sess *session, q orientation.Quaternion, at time.Time) {
	sess.lastRaw = q
	sess.haveRaw = true
	s.buf.Publish(orientation.Sample{Quat: sess.ref.Apply(q), At: at})
	s.mu.Lock()
	s.stats.Published++
	s.mu.Unlock()
}

func (s *Service) noteError(err error) {
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}
