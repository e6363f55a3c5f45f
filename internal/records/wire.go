package records

import (
	"encoding/json"
	"fmt"
)

// Wire payload shapes. The wire form carries no explicit kind tag; the
// variant is inferred from which value fields are present:
//
//	{"address":"1/0/7","is_on":true,"observed_at":1000}   switch state
//	{"address":"1/0/6","is_on":true}                      switch control
//	{"address":"9/1/0","value_celsius":21.5,"observed_at":1000}  temperature
type (
	wireSwitchState struct {
		Address    string `json:"address"`
		IsOn       bool   `json:"is_on"`
		ObservedAt int64  `json:"observed_at"`
	}

	wireSwitchControl struct {
		Address string `json:"address"`
		IsOn    bool   `json:"is_on"`
	}

	wireTemperature struct {
		Address      string  `json:"address"`
		ValueCelsius float64 `json:"value_celsius"`
		ObservedAt   int64   `json:"observed_at"`
	}

	// wireProbe captures any of the above shapes for variant inference.
	// Pointer fields distinguish absent from zero.
	wireProbe struct {
		Address      *string  `json:"address"`
		IsOn         *bool    `json:"is_on"`
		ValueCelsius *float64 `json:"value_celsius"`
		ObservedAt   *int64   `json:"observed_at"`
	}
)

// EncodeWire serialises a record to its JSON wire form.
//
// Parameters:
//   - r: Record to encode (must have a valid kind)
//
// Returns:
//   - []byte: JSON payload, bit-exact with the broker wire format
//   - error: ErrUnknownTag for an unrecognised kind
func EncodeWire(r Record) ([]byte, error) {
	switch r.Kind {
	case KindSwitchState:
		return json.Marshal(wireSwitchState{
			Address:    r.Address.String(),
			IsOn:       r.IsOn,
			ObservedAt: r.ObservedAt,
		})
	case KindSwitchControl:
		return json.Marshal(wireSwitchControl{
			Address: r.Address.String(),
			IsOn:    r.IsOn,
		})
	case KindTemperature:
		return json.Marshal(wireTemperature{
			Address:      r.Address.String(),
			ValueCelsius: r.ValueCelsius,
			ObservedAt:   r.ObservedAt,
		})
	default:
		return nil, fmt.Errorf("%w: cannot encode kind %q", ErrUnknownTag, r.Kind)
	}
}

// DecodeWire parses a JSON wire payload back into a record.
//
// Variant inference:
//   - value_celsius present            → temperature
//   - is_on present with observed_at   → switch state
//   - is_on present without            → switch control
//   - neither value field present      → ErrUnknownTag
//
// Parameters:
//   - data: JSON payload
//
// Returns:
//   - Record: Decoded record
//   - error: ErrMalformed on bad JSON or a missing/ambiguous shape,
//     ErrOutOfRange on address levels outside their bit widths,
//     ErrUnknownTag when no variant matches
func DecodeWire(data []byte) (Record, error) {
	var probe wireProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if probe.Address == nil {
		return Record{}, fmt.Errorf("%w: missing address field", ErrMalformed)
	}
	addr, err := ParseAddress(*probe.Address)
	if err != nil {
		return Record{}, err
	}

	switch {
	case probe.ValueCelsius != nil && probe.IsOn != nil:
		return Record{}, fmt.Errorf("%w: both is_on and value_celsius present", ErrMalformed)

	case probe.ValueCelsius != nil:
		if probe.ObservedAt == nil {
			return Record{}, fmt.Errorf("%w: temperature requires observed_at", ErrMalformed)
		}
		return NewTemperature(addr, *probe.ValueCelsius, *probe.ObservedAt), nil

	case probe.IsOn != nil:
		if probe.ObservedAt != nil {
			return NewSwitchState(addr, *probe.IsOn, *probe.ObservedAt), nil
		}
		return NewSwitchControl(addr, *probe.IsOn), nil

	default:
		return Record{}, fmt.Errorf("%w: no recognised value field", ErrUnknownTag)
	}
}
