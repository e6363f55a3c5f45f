package records

// Kind identifies a Record variant.
//
// Each kind maps to exactly one datapoint type; the mapping is fixed by
// the variant, not configurable per instance.
type Kind string

// Record kinds.
const (
	// KindSwitchState is an observed on/off state. Monitoring-only.
	KindSwitchState Kind = "switch_state"

	// KindSwitchControl is an on/off command. Control-only, no timestamp.
	KindSwitchControl Kind = "switch_control"

	// KindTemperature is an observed temperature in °C. Monitoring-only.
	KindTemperature Kind = "temperature"
)

// DPT returns the datapoint type fixed for this kind.
// Returns the empty DPT for an unrecognised kind.
func (k Kind) DPT() DPT {
	switch k {
	case KindSwitchState, KindSwitchControl:
		return DPTSwitch
	case KindTemperature:
		return DPTTemperature
	default:
		return ""
	}
}

// Timestamped returns true if the kind carries an observation timestamp.
// Control kinds do not: they are commands, not observations.
func (k Kind) Timestamped() bool {
	return k == KindSwitchState || k == KindTemperature
}

// IsValid returns true for a recognised kind.
func (k Kind) IsValid() bool {
	return k == KindSwitchState || k == KindSwitchControl || k == KindTemperature
}

// Record is a tagged union of the domain values carried across the
// bridge: switch states, switch commands, and temperatures.
//
// The Kind discriminator selects which value fields are meaningful:
//   - KindSwitchState:   Address, IsOn, ObservedAt
//   - KindSwitchControl: Address, IsOn
//   - KindTemperature:   Address, ValueCelsius, ObservedAt
//
// ObservedAt is Unix epoch milliseconds. Records are small value types;
// copy them freely.
type Record struct {
	Kind         Kind
	Address      Address
	IsOn         bool
	ValueCelsius float64
	ObservedAt   int64
}

// NewSwitchState creates a monitoring record for an observed on/off state.
//
// Parameters:
//   - addr: Group address the state was observed on
//   - isOn: Observed switch position
//   - observedAt: Observation time, Unix epoch milliseconds
func NewSwitchState(addr Address, isOn bool, observedAt int64) Record {
	return Record{Kind: KindSwitchState, Address: addr, IsOn: isOn, ObservedAt: observedAt}
}

// NewSwitchControl creates a control record commanding an on/off state.
// Control records carry no timestamp.
func NewSwitchControl(addr Address, isOn bool) Record {
	return Record{Kind: KindSwitchControl, Address: addr, IsOn: isOn}
}

// NewTemperature creates a monitoring record for an observed temperature.
//
// Parameters:
//   - addr: Group address the value was observed on
//   - celsius: Temperature in °C
//   - observedAt: Observation time, Unix epoch milliseconds
func NewTemperature(addr Address, celsius float64, observedAt int64) Record {
	return Record{Kind: KindTemperature, Address: addr, ValueCelsius: celsius, ObservedAt: observedAt}
}

// Equal reports whether two records are identical, comparing only the
// fields meaningful for the kind.
func (r Record) Equal(other Record) bool {
	if r.Kind != other.Kind || r.Address != other.Address {
		return false
	}
	switch r.Kind {
	case KindSwitchState:
		return r.IsOn == other.IsOn && r.ObservedAt == other.ObservedAt
	case KindSwitchControl:
		return r.IsOn == other.IsOn
	case KindTemperature:
		return r.ValueCelsius == other.ValueCelsius && r.ObservedAt == other.ObservedAt
	default:
		return false
	}
}

// DPT returns the datapoint type fixed for this record's kind.
func (r Record) DPT() DPT {
	return r.Kind.DPT()
}
