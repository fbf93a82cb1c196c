package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/attitude_stream/internal/imu"
	"github.com/relabs-tech/attitude_stream/internal/orientation"
)

// ErrNeedMoreData signals that the buffered bytes do not yet contain a
// complete record. The caller feeds the next chunk and retries; it is not a
// failure.
var ErrNeedMoreData = errors.New("frame: need more data")

// MalformedRecordError reports a record that was recognized but could not be
// parsed (bad field count, non-numeric field, oversized line). The offending
// bytes have already been discarded; decoding resumes with the next record.
type MalformedRecordError struct {
	Format Format
	Line   string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("frame: malformed %s record (%s): %q", e.Format, e.Reason, e.Line)
}

// ChecksumError reports a framed record whose checksum did not match. One
// header byte has been discarded so scanning resumes at the next byte
// position; forward progress is guaranteed under arbitrary corruption.
type ChecksumError struct {
	Algo ChecksumAlgo
	Want uint16
	Got  uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame: checksum mismatch (%s): frame 0x%04X, computed 0x%04X", e.Algo, e.Want, e.Got)
}

// RecordKind distinguishes the two record shapes a stream can carry.
type RecordKind int

const (
	KindQuaternion RecordKind = iota
	KindSixAxis
)

// Record is one decoded sensor record. Quaternion records carry the raw
// four-tuple as received; validation/normalization is the next stage's job.
type Record struct {
	Kind RecordKind
	Quat orientation.Quaternion
	Six  imu.SixAxisSample
	At   time.Time
}

const (
	headerLo = 0x55 // 0xAA55 little-endian on the wire
	headerHi = 0xAA

	framedPayloadLen = 16
	framedRecordLen  = 2 + framedPayloadLen + 2

	// Lines longer than this without a terminator are dropped wholesale so
	// a stream stuck in a non-ASCII mode cannot grow the buffer forever.
	maxLineLen = 512
)

// Decoder turns an arbitrary byte stream into a sequence of typed records
// for one fixed Format. Feed appends newly arrived bytes; Next yields
// exactly one record, ErrNeedMoreData, or a recoverable per-record error.
// A Decoder is owned by a single goroutine.
type Decoder struct {
	format   Format
	checksum ChecksumAlgo
	buf      []byte
	now      func() time.Time
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithChecksum selects the checksum policy for FormatFramedQuaternion.
func WithChecksum(algo ChecksumAlgo) Option {
	return func(d *Decoder) { d.checksum = algo }
}

// withClock overrides the arrival-timestamp source in tests.
func withClock(now func() time.Time) Option {
	return func(d *Decoder) { d.now = now }
}

// NewDecoder creates a decoder for the given wire format.
func NewDecoder(format Format, opts ...Option) *Decoder {
	d := &Decoder{
		format:   format,
		checksum: ChecksumSum,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Feed appends a chunk of newly arrived bytes to the decode buffer. The
// chunk is copied; the caller may reuse p.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discard drops any partially buffered frame. Used when a session ends so
// stale bytes cannot leak into the next one.
func (d *Decoder) Discard() {
	d.buf = nil
}

// Next attempts to decode one record from the buffered bytes.
func (d *Decoder) Next() (Record, error) {
	switch d.format {
	case FormatASCIIQuaternion:
		return d.nextASCII(4)
	case FormatASCIISixAxis:
		return d.nextASCII(6)
	case FormatFloat32Quaternion:
		return d.nextFixed(16)
	case FormatFloat64Quaternion:
		return d.nextFixed(32)
	case FormatFramedQuaternion:
		return d.nextFramed()
	default:
		return Record{}, fmt.Errorf("frame: unsupported format %v", d.format)
	}
}

// nextASCII scans for a line terminator, then parses exactly nFields
// comma-separated floats. Empty lines are skipped silently; a bad line is
// consumed and reported so decoding resumes at the next terminator.
func (d *Decoder) nextASCII(nFields int) (Record, error) {
	for {
		i := bytes.IndexAny(d.buf, "\r\n")
		if i < 0 {
			if len(d.buf) > maxLineLen {
				line := string(d.buf)
				d.buf = d.buf[:0]
				return Record{}, &MalformedRecordError{Format: d.format, Line: truncate(line), Reason: "line too long"}
			}
			return Record{}, ErrNeedMoreData
		}

		line := strings.TrimSpace(string(d.buf[:i]))
		d.buf = d.buf[i+1:]
		if line == "" {
			continue // bare terminator, or the \n half of \r\n
		}

		parts := strings.Split(line, ",")
		if len(parts) != nFields {
			return Record{}, &MalformedRecordError{
				Format: d.format,
				Line:   truncate(line),
				Reason: fmt.Sprintf("want %d fields, got %d", nFields, len(parts)),
			}
		}

		vals := make([]float64, nFields)
		for j, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return Record{}, &MalformedRecordError{Format: d.format, Line: truncate(line), Reason: "non-numeric field"}
			}
			vals[j] = v
		}

		at := d.now()
		if nFields == 4 {
			return Record{
				Kind: KindQuaternion,
				Quat: orientation.Quaternion{W: vals[0], X: vals[1], Y: vals[2], Z: vals[3]},
				At:   at,
			}, nil
		}
		return Record{
			Kind: KindSixAxis,
			Six: imu.SixAxisSample{
				Ax: vals[0], Ay: vals[1], Az: vals[2],
				Gx: vals[3], Gy: vals[4], Gz: vals[5],
				At: at,
			},
			At: at,
		}, nil
	}
}

// nextFixed decodes one unframed little-endian quaternion of size 16
// (float32) or 32 (float64) bytes.
func (d *Decoder) nextFixed(size int) (Record, error) {
	if len(d.buf) < size {
		return Record{}, ErrNeedMoreData
	}
	var q orientation.Quaternion
	if size == 16 {
		q = quatFromFloat32LE(d.buf[:16])
	} else {
		q = orientation.Quaternion{
			W: math.Float64frombits(binary.LittleEndian.Uint64(d.buf[0:8])),
			X: math.Float64frombits(binary.LittleEndian.Uint64(d.buf[8:16])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(d.buf[16:24])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(d.buf[24:32])),
		}
	}
	d.buf = d.buf[size:]
	return Record{Kind: KindQuaternion, Quat: q, At: d.now()}, nil
}

// nextFramed scans for the 0xAA55 header, then requires payload and
// checksum. On checksum mismatch exactly one byte is discarded before the
// error is reported, so resynchronization advances byte by byte.
func (d *Decoder) nextFramed() (Record, error) {
	// Align the buffer on a header candidate.
	for len(d.buf) >= 2 && !(d.buf[0] == headerLo && d.buf[1] == headerHi) {
		d.buf = d.buf[1:]
	}
	if len(d.buf) < framedRecordLen {
		return Record{}, ErrNeedMoreData
	}

	body := d.buf[:2+framedPayloadLen]
	want := binary.LittleEndian.Uint16(d.buf[2+framedPayloadLen : framedRecordLen])
	got := d.checksum.Compute(body)
	if got != want {
		d.buf = d.buf[1:]
		return Record{}, &ChecksumError{Algo: d.checksum, Want: want, Got: got}
	}

	q := quatFromFloat32LE(d.buf[2 : 2+framedPayloadLen])
	d.buf = d.buf[framedRecordLen:]
	return Record{Kind: KindQuaternion, Quat: q, At: d.now()}, nil
}

func quatFromFloat32LE(p []byte) orientation.Quaternion {
	return orientation.Quaternion{
		W: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:4]))),
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:8]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:12]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[12:16]))),
	}
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
