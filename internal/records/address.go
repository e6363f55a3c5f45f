package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Address represents a KNX group address in 3-level format.
//
// Format: Main/Middle/Sub
//   - Main:   0-31 (5 bits)
//   - Middle: 0-7  (3 bits)
//   - Sub:    0-255 (8 bits)
//
// Total: 16 bits (0x0000 - 0xFFFF)
type Address struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

// Group address limits per KNX specification.
const (
	maxMain   = 31
	maxMiddle = 7
	maxSub    = 255

	// addrLevelCount is the number of levels in a 3-level group address.
	addrLevelCount = 3

	// Bit masks for extracting address parts from uint16.
	addrMainMask   = 0x1F // 5 bits
	addrMiddleMask = 0x07 // 3 bits
	addrSubMask    = 0xFF // 8 bits
)

// NewAddress constructs an Address, validating each level against its
// bit width.
//
// Parameters:
//   - main: Main group (0-31)
//   - middle: Middle group (0-7)
//   - sub: Sub group (0-255)
//
// Returns:
//   - Address: Validated address
//   - error: ErrOutOfRange if a level exceeds its bound
func NewAddress(main, middle, sub uint8) (Address, error) {
	if main > maxMain {
		return Address{}, fmt.Errorf("%w: main group must be 0-%d, got %d", ErrOutOfRange, maxMain, main)
	}
	if middle > maxMiddle {
		return Address{}, fmt.Errorf("%w: middle group must be 0-%d, got %d", ErrOutOfRange, maxMiddle, middle)
	}
	return Address{Main: main, Middle: middle, Sub: sub}, nil
}

// ParseAddress parses a 3-level group address string.
//
// Accepts the standard "main/middle/sub" format, e.g. "1/0/7".
//
// Parameters:
//   - s: Group address string
//
// Returns:
//   - Address: Parsed address
//   - error: ErrMalformed on bad syntax, ErrOutOfRange when a level
//     exceeds its bit width
//
// Example:
//
//	addr, err := records.ParseAddress("1/0/7")
//	if err != nil {
//	    return err
//	}
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, "/")
	if len(parts) != addrLevelCount {
		return Address{}, fmt.Errorf("%w: expected 3-level format (main/middle/sub), got %q", ErrMalformed, s)
	}

	main, err := parseLevel(parts[0], maxMain, "main")
	if err != nil {
		return Address{}, err
	}
	middle, err := parseLevel(parts[1], maxMiddle, "middle")
	if err != nil {
		return Address{}, err
	}
	sub, err := parseLevel(parts[2], maxSub, "sub")
	if err != nil {
		return Address{}, err
	}

	return Address{Main: main, Middle: middle, Sub: sub}, nil
}

// parseLevel parses one address level, distinguishing syntax errors from
// range violations.
func parseLevel(s string, max uint64, name string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %s group must be 0-%d, got %q", ErrOutOfRange, name, max, s)
		}
		return 0, fmt.Errorf("%w: %s group is not a number: %q", ErrMalformed, name, s)
	}
	if v > max {
		return 0, fmt.Errorf("%w: %s group must be 0-%d, got %d", ErrOutOfRange, name, max, v)
	}
	return uint8(v), nil
}

// String returns the group address in 3-level format.
//
// Example: "1/0/7"
func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Main, a.Middle, a.Sub)
}

// ToUint16 converts the address to its 16-bit bus representation.
//
// Layout: MMMM MSSS SSSS SSSS
//   - M = Main (5 bits)
//   - S = Middle (3 bits) + Sub (8 bits)
func (a Address) ToUint16() uint16 {
	return uint16(a.Main)<<11 | uint16(a.Middle)<<8 | uint16(a.Sub)
}

// AddressFromUint16 creates an Address from its 16-bit bus representation.
//
// Parameters:
//   - value: 16-bit group address value
//
// Returns:
//   - Address: Decoded address
func AddressFromUint16(value uint16) Address {
	// Bit masks ensure values fit in uint8 (no overflow possible).
	return Address{
		Main:   uint8((value >> 11) & addrMainMask),
		Middle: uint8((value >> 8) & addrMiddleMask),
		Sub:    uint8(value & addrSubMask),
	}
}

// IsValid returns true if all levels are within their bit widths.
func (a Address) IsValid() bool {
	return a.Main <= maxMain && a.Middle <= maxMiddle && a.Sub <= maxSub
}

// MarshalYAML implements yaml.Marshaler so addresses render as "1/0/7"
// in configuration files.
func (a Address) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler, accepting the 3-level
// string form used throughout the configuration.
func (a *Address) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
