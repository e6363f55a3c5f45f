package records

import (
	"fmt"
	"math"
)

// DPT represents a KNX Datapoint Type identifier.
//
// Format: "major.minor" (e.g., "1.001", "9.001")
type DPT string

// Datapoint types carried by this bridge.
const (
	// DPTSwitch is the 1-bit boolean type: 0=Off, 1=On.
	DPTSwitch DPT = "1.001"

	// DPTTemperature is the 2-byte float type in °C,
	// -671088.64 to 670760.96 at 0.01 resolution.
	DPTTemperature DPT = "9.001"
)

// IsValid returns true for a datapoint type this codec understands.
func (d DPT) IsValid() bool {
	return d == DPTSwitch || d == DPTTemperature
}

// DPT9 2-byte float encoding constants.
const (
	// dpt9Min and dpt9Max bound the representable range.
	dpt9Min = -671088.64
	dpt9Max = 670760.96

	// dpt9MantissaMin/Max bound the 12-bit two's-complement mantissa
	// (sign bit plus 11 value bits).
	dpt9MantissaMin = -2048
	dpt9MantissaMax = 2047

	// dpt9MaxExponent is the maximum 4-bit exponent.
	dpt9MaxExponent = 15

	// dpt9MantissaMask extracts the low 11 mantissa bits.
	dpt9MantissaMask = 0x07FF

	// dpt9Invalid is the KNX "invalid data" sentinel for all DPT 9.xxx.
	dpt9Invalid = 0x7FFF

	// dpt9SignBit marks a negative mantissa.
	dpt9SignBit = 0x8000

	// byteShift is the bit shift for byte extraction.
	byteShift = 8
)

// EncodeDPT1 encodes a boolean value to 1-bit KNX format.
//
// Parameters:
//   - value: Boolean value to encode
//
// Returns:
//   - []byte: Single byte with LSB set to 0 or 1
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a 1-bit KNX value to boolean.
//
// Parameters:
//   - data: KNX data (exactly 1 byte)
//
// Returns:
//   - bool: Decoded value (only bit 0 is significant)
//   - error: ErrMalformed if data is not 1 byte
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrMalformed, len(data))
	}
	return (data[0] & 0x01) != 0, nil
}

// EncodeDPT9 encodes a float value to the KNX 2-byte floating point format.
//
// Format:
//
//	Byte 0: SEEE EMMM (Sign, Exponent, Mantissa high)
//	Byte 1: MMMM MMMM (Mantissa low)
//
// Value = Mantissa × 0.01 × 2^Exponent, mantissa in 12-bit two's
// complement (-2048 to 2047), exponent 0-15.
//
// The value is rounded to the encoding's least-significant unit
// (0.01 × 2^exponent) using round-half-to-even, at the smallest exponent
// that can hold the rounded mantissa.
//
// Parameters:
//   - value: Float value to encode
//
// Returns:
//   - []byte: Two bytes in KNX format
//   - error: ErrOutOfRange if value is outside -671088.64 to 670760.96
func EncodeDPT9(value float64) ([]byte, error) {
	if value < dpt9Min || value > dpt9Max || math.IsNaN(value) {
		return nil, fmt.Errorf("%w: DPT9 value %v (valid: %.2f to %.2f)", ErrOutOfRange, value, dpt9Min, dpt9Max)
	}

	// Units of 0.01; repeated halving is exact in binary floating point,
	// so only the initial scaling and the final rounding lose precision.
	scaled := value * 100
	exp := 0
	for {
		m := math.RoundToEven(scaled)
		if m >= dpt9MantissaMin && m <= dpt9MantissaMax {
			mantissa := int16(m)
			var sign uint16
			if mantissa < 0 {
				sign = dpt9SignBit
			}
			encoded := sign | uint16(exp)<<11 | uint16(mantissa)&dpt9MantissaMask
			if encoded == dpt9Invalid {
				// Exponent 15 with mantissa 2047 collides with the
				// reserved invalid sentinel and must not be produced.
				return nil, fmt.Errorf("%w: DPT9 value %v rounds to the reserved 0x7FFF encoding", ErrOutOfRange, value)
			}
			return []byte{byte(encoded >> byteShift), byte(encoded)}, nil
		}
		if exp == dpt9MaxExponent {
			// Unreachable after the range check; kept as a guard.
			return nil, fmt.Errorf("%w: DPT9 exponent overflow for %v", ErrOutOfRange, value)
		}
		scaled /= 2
		exp++
	}
}

// DecodeDPT9 decodes a KNX 2-byte floating point value.
//
// Parameters:
//   - data: KNX data (exactly 2 bytes)
//
// Returns:
//   - float64: Decoded value
//   - error: ErrMalformed on wrong length or the 0x7FFF invalid sentinel
func DecodeDPT9(data []byte) (float64, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrMalformed, len(data))
	}

	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == dpt9Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid sentinel 0x7FFF (sensor error or not available)", ErrMalformed)
	}

	exp := int((raw >> 11) & 0x0F)
	mantissa := int16(raw & dpt9MantissaMask)
	if raw&dpt9SignBit != 0 {
		mantissa |= -0x800 // Sign extend the 11-bit field
	}

	// Ldexp then divide: both round correctly, so exact 0.01 multiples
	// decode to their exact float64 representation.
	return math.Ldexp(float64(mantissa), exp) / 100, nil
}

// EncodeBus encodes a record's value to its field-bus binary form.
//
// Only the value is encoded; the address travels in the telegram header
// and the timestamp is not represented on the bus at all.
//
// Parameters:
//   - r: Record to encode
//   - dpt: Expected datapoint type (must match the record's kind)
//
// Returns:
//   - []byte: DPT-encoded value bytes
//   - error: ErrUnknownTag for an unsupported DPT, ErrMalformed on a
//     kind/DPT mismatch, ErrOutOfRange from the DPT9 encoder
func EncodeBus(r Record, dpt DPT) ([]byte, error) {
	if !dpt.IsValid() {
		return nil, fmt.Errorf("%w: unsupported DPT %q", ErrUnknownTag, dpt)
	}
	if r.Kind.DPT() != dpt {
		return nil, fmt.Errorf("%w: kind %q does not encode as DPT %s", ErrMalformed, r.Kind, dpt)
	}

	switch dpt {
	case DPTSwitch:
		return EncodeDPT1(r.IsOn), nil
	case DPTTemperature:
		return EncodeDPT9(r.ValueCelsius)
	default:
		return nil, fmt.Errorf("%w: unsupported DPT %q", ErrUnknownTag, dpt)
	}
}

// DecodeBus decodes field-bus value bytes into a record.
//
// The bus carries only the value: the caller supplies the address from
// the telegram header, the record kind implied by the binding direction,
// and the arrival timestamp (ignored for untimestamped kinds).
//
// Parameters:
//   - dpt: Datapoint type of the bytes
//   - kind: Record kind to construct
//   - addr: Group address the value belongs to
//   - data: DPT-encoded value bytes
//   - observedAt: Arrival time, Unix epoch milliseconds
//
// Returns:
//   - Record: Decoded record
//   - error: ErrUnknownTag for an unsupported DPT or kind, ErrMalformed
//     on a kind/DPT mismatch or bad value bytes
func DecodeBus(dpt DPT, kind Kind, addr Address, data []byte, observedAt int64) (Record, error) {
	if !dpt.IsValid() {
		return Record{}, fmt.Errorf("%w: unsupported DPT %q", ErrUnknownTag, dpt)
	}
	if !kind.IsValid() {
		return Record{}, fmt.Errorf("%w: unknown record kind %q", ErrUnknownTag, kind)
	}
	if kind.DPT() != dpt {
		return Record{}, fmt.Errorf("%w: kind %q does not decode from DPT %s", ErrMalformed, kind, dpt)
	}

	switch kind {
	case KindSwitchState:
		isOn, err := DecodeDPT1(data)
		if err != nil {
			return Record{}, err
		}
		return NewSwitchState(addr, isOn, observedAt), nil
	case KindSwitchControl:
		isOn, err := DecodeDPT1(data)
		if err != nil {
			return Record{}, err
		}
		return NewSwitchControl(addr, isOn), nil
	case KindTemperature:
		celsius, err := DecodeDPT9(data)
		if err != nil {
			return Record{}, err
		}
		return NewTemperature(addr, celsius, observedAt), nil
	default:
		return Record{}, fmt.Errorf("%w: unknown record kind %q", ErrUnknownTag, kind)
	}
}
