// Package measurement defines the fields every instrument reading carries.
package measurement

import "time"

// Precision is the resolution timestamps are kept at, matching what the
// store can represent.
const Precision = time.Millisecond

// Header holds the fields present on every reading regardless of kind.
type Header struct {
	Timestamp    time.Time `json:"timestamp"`
	DeviceError  bool      `json:"deviceError"`
	NetworkError bool      `json:"networkError"`
}

// Meta returns the header; embedding Header satisfies Measurement.
func (h Header) Meta() Header { return h }

// OK reports whether neither error flag is set.
func (h Header) OK() bool { return !h.DeviceError && !h.NetworkError }

// Measurement is implemented by every reading kind.
type Measurement interface {
	Meta() Header
}

// Stamp normalizes t to UTC at storage precision.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// NewHeader returns a header stamped with the current time.
func NewHeader() Header {
	return Header{Timestamp: Stamp(time.Now())}
}

// NetworkFailure returns a header for a request that never produced a payload.
func NetworkFailure(at time.Time) Header {
	return Header{Timestamp: Stamp(at), NetworkError: true}
}
