package storage

import (
	"encoding/binary"
	"math"

	"github.com/hyperstudy/bridge/internal/ids"
)

// ChannelFormat identifies the wire/storage encoding of an LSL channel,
// mirroring liblsl's channel_format_t.
type ChannelFormat string

const (
	FormatF32    ChannelFormat = "f32"
	FormatF64    ChannelFormat = "f64"
	FormatI8     ChannelFormat = "i8"
	FormatI16    ChannelFormat = "i16"
	FormatI32    ChannelFormat = "i32"
	FormatI64    ChannelFormat = "i64"
	FormatString ChannelFormat = "string"
)

// EncodeChannelData packs a numeric sample for persistence, little-endian,
// per spec §3. String-typed streams should pass their payload through
// EncodeStringChannelData instead.
func EncodeChannelData(format ChannelFormat, values []float64) ([]byte, error) {
	switch format {
	case FormatF32:
		buf := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		}
		return buf, nil
	case FormatF64:
		buf := make([]byte, 8*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		}
		return buf, nil
	case FormatI8:
		buf := make([]byte, len(values))
		for i, v := range values {
			buf[i] = byte(int8(v))
		}
		return buf, nil
	case FormatI16:
		buf := make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
		}
		return buf, nil
	case FormatI32:
		buf := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(v)))
		}
		return buf, nil
	case FormatI64:
		buf := make([]byte, 8*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(int64(v)))
		}
		return buf, nil
	default:
		return nil, ids.New(ids.KindDataFormatMismatch, "%s is not a numeric channel format", format)
	}
}

// EncodeStringChannelData stores a string-typed sample's payload verbatim,
// newline-joined so multi-channel string samples decode unambiguously.
func EncodeStringChannelData(values []string) []byte {
	out := make([]byte, 0, 64)
	for i, v := range values {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, v...)
	}
	return out
}

// DecodeChannelData unpacks a numeric channel_data blob back into float64s.
func DecodeChannelData(format ChannelFormat, data []byte) ([]float64, error) {
	switch format {
	case FormatF32:
		n := len(data) / 4
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return out, nil
	case FormatF64:
		n := len(data) / 8
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	case FormatI8:
		out := make([]float64, len(data))
		for i, b := range data {
			out[i] = float64(int8(b))
		}
		return out, nil
	case FormatI16:
		n := len(data) / 2
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
		return out, nil
	case FormatI32:
		n := len(data) / 4
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return out, nil
	case FormatI64:
		n := len(data) / 8
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(int64(binary.LittleEndian.Uint64(data[i*8:])))
		}
		return out, nil
	default:
		return nil, ids.New(ids.KindDataFormatMismatch, "%s is not a numeric channel format", format)
	}
}
