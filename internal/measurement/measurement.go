// Package measurement defines the data model every instrument emits and
// every consumer (distributor subscriber, storage writer, run engine)
// reads: a tagged sum of scalar/vector/image/spectrum values.
package measurement

import (
	"fmt"
	"time"
)

// Kind discriminates the Measurement union.
type Kind int

const (
	KindScalar Kind = iota
	KindVector
	KindImage
	KindSpectrum
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindImage:
		return "image"
	case KindSpectrum:
		return "spectrum"
	default:
		return "unknown"
	}
}

// Measurement is a timestamped, channel-tagged record emitted by an
// instrument. Only the fields relevant to Kind are populated; this
// mirrors a Rust tagged enum as a Go struct with a discriminant, which is
// the idiomatic shape for a closed, non-extensible sum type in Go.
type Measurement struct {
	Kind      Kind
	Channel   string
	Unit      string
	Timestamp time.Time

	// KindScalar
	Value float64

	// KindVector, KindSpectrum
	Values []float64

	// KindImage
	Width, Height int
	Pixels        PixelBuffer
	Metadata      map[string]any
}

// NewScalar constructs a Scalar measurement.
func NewScalar(channel string, value float64, unit string, ts time.Time) *Measurement {
	return &Measurement{Kind: KindScalar, Channel: channel, Value: value, Unit: unit, Timestamp: ts}
}

// NewVector constructs a Vector measurement.
func NewVector(channel string, values []float64, unit string, ts time.Time) *Measurement {
	return &Measurement{Kind: KindVector, Channel: channel, Values: values, Unit: unit, Timestamp: ts}
}

// NewSpectrum constructs a Spectrum measurement.
func NewSpectrum(channel string, amplitudes []float64, unit string, ts time.Time) *Measurement {
	return &Measurement{Kind: KindSpectrum, Channel: channel, Values: amplitudes, Unit: unit, Timestamp: ts}
}

// NewImage constructs an Image measurement. Returns an error if the pixel
// buffer's length does not match width*height for its element type.
func NewImage(channel string, width, height int, pixels PixelBuffer, unit string, meta map[string]any, ts time.Time) (*Measurement, error) {
	if pixels.Len() != width*height {
		return nil, fmt.Errorf("measurement: image pixel buffer length %d != width*height %d", pixels.Len(), width*height)
	}
	return &Measurement{
		Kind: KindImage, Channel: channel, Width: width, Height: height,
		Pixels: pixels, Unit: unit, Metadata: meta, Timestamp: ts,
	}, nil
}

// PixelElemKind discriminates the PixelBuffer union.
type PixelElemKind int

const (
	PixelU8 PixelElemKind = iota
	PixelU16
	PixelU32
	PixelF32
)

// PixelBuffer carries image data at the sensor's native depth; consumers
// never widen it for transport. Exactly one of the slices is populated,
// selected by Kind.
type PixelBuffer struct {
	Kind PixelElemKind
	U8   []uint8
	U16  []uint16
	U32  []uint32
	F32  []float32
}

// Len returns the element count of whichever slice is populated.
func (b PixelBuffer) Len() int {
	switch b.Kind {
	case PixelU8:
		return len(b.U8)
	case PixelU16:
		return len(b.U16)
	case PixelU32:
		return len(b.U32)
	case PixelF32:
		return len(b.F32)
	default:
		return 0
	}
}

func NewPixelBufferU8(data []uint8) PixelBuffer   { return PixelBuffer{Kind: PixelU8, U8: data} }
func NewPixelBufferU16(data []uint16) PixelBuffer { return PixelBuffer{Kind: PixelU16, U16: data} }
func NewPixelBufferU32(data []uint32) PixelBuffer { return PixelBuffer{Kind: PixelU32, U32: data} }
func NewPixelBufferF32(data []float32) PixelBuffer { return PixelBuffer{Kind: PixelF32, F32: data} }
