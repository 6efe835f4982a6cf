// Package codec defines the serialization contract for key and value
// domains stored inside index nodes, along with codecs for the closed
// set of supported domain types.
package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"

	"golang.org/x/exp/constraints"
)

// bin is the byte order used for all marshals/unmarshals.
var bin = binary.LittleEndian

// Codec (de)serializes values of a single domain type. The buffer handed
// to Decode holds exactly one encoded value.
type Codec[T any] interface {
	Size(val T) int
	Encode(val T, buf []byte)
	Decode(buf []byte) (T, error)
}

// Compare is the total ordering for ordered primitive domains.
func Compare[T constraints.Ordered](a, b T) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// CompareTime is the total ordering for the timestamp domain.
func CompareTime(a, b time.Time) int {
	if a.Before(b) {
		return -1
	} else if a.After(b) {
		return 1
	}
	return 0
}

// Int64 encodes signed integers as fixed 8 bytes.
type Int64 struct{}

func (Int64) Size(val int64) int {
	return 8
}

func (Int64) Encode(val int64, buf []byte) {
	bin.PutUint64(buf, uint64(val))
}

func (Int64) Decode(buf []byte) (int64, error) {
	if len(buf) < 8 {
		return 0, errors.Errorf("int64 decode: need 8 bytes, have %d", len(buf))
	}
	return int64(bin.Uint64(buf)), nil
}

// Float64 encodes floats as IEEE 754 bits, fixed 8 bytes.
type Float64 struct{}

func (Float64) Size(val float64) int {
	return 8
}

func (Float64) Encode(val float64, buf []byte) {
	bin.PutUint64(buf, math.Float64bits(val))
}

func (Float64) Decode(buf []byte) (float64, error) {
	if len(buf) < 8 {
		return 0, errors.Errorf("float64 decode: need 8 bytes, have %d", len(buf))
	}
	return math.Float64frombits(bin.Uint64(buf)), nil
}

// String encodes strings as raw bytes. Length is carried by the
// surrounding layout.
type String struct{}

func (String) Size(val string) int {
	return len(val)
}

func (String) Encode(val string, buf []byte) {
	copy(buf, val)
}

func (String) Decode(buf []byte) (string, error) {
	return string(buf), nil
}

// Time encodes timestamps as unix nanoseconds, fixed 8 bytes.
type Time struct{}

func (Time) Size(val time.Time) int {
	return 8
}

func (Time) Encode(val time.Time, buf []byte) {
	bin.PutUint64(buf, uint64(val.UnixNano()))
}

func (Time) Decode(buf []byte) (time.Time, error) {
	if len(buf) < 8 {
		return time.Time{}, errors.Errorf("time decode: need 8 bytes, have %d", len(buf))
	}
	return time.Unix(0, int64(bin.Uint64(buf))).UTC(), nil
}
