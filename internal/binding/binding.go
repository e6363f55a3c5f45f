package binding

import (
	"fmt"
	"strings"

	"github.com/nerrad567/aimx-core/internal/records"
)

// Direction states which way a binding carries traffic.
type Direction string

// Binding directions.
const (
	// DirectionMonitor flows field-bus telegrams to the broker.
	DirectionMonitor Direction = "monitor"

	// DirectionControl flows broker messages to the field bus.
	DirectionControl Direction = "control"
)

// IsValid returns true for a recognised direction.
func (d Direction) IsValid() bool {
	return d == DirectionMonitor || d == DirectionControl
}

// Binding associates one group address and datapoint type with one broker
// topic, a direction, and the record key the console exposes it under.
//
// The Kind field is resolved from direction and DPT when the table is
// built; it is not read from configuration.
type Binding struct {
	Key       string          `yaml:"key"`
	Address   records.Address `yaml:"address"`
	DPT       records.DPT     `yaml:"dpt"`
	Topic     string          `yaml:"topic"`
	Direction Direction       `yaml:"direction"`

	Kind records.Kind `yaml:"-"`
}

// Writable returns true if the binding accepts control records.
func (b Binding) Writable() bool {
	return b.Direction == DirectionControl
}

// kindFor resolves the record kind implied by a direction and DPT.
func kindFor(dir Direction, dpt records.DPT) (records.Kind, error) {
	switch {
	case dir == DirectionMonitor && dpt == records.DPTSwitch:
		return records.KindSwitchState, nil
	case dir == DirectionMonitor && dpt == records.DPTTemperature:
		return records.KindTemperature, nil
	case dir == DirectionControl && dpt == records.DPTSwitch:
		return records.KindSwitchControl, nil
	default:
		return "", fmt.Errorf("no record kind for direction %q with DPT %q", dir, dpt)
	}
}

// Table is the static topic binding table shared by the gateway and the
// console. It is built once at startup from configuration and read-only
// afterwards, so lookups need no locking.
type Table struct {
	bindings []Binding

	byKey            map[string]Binding
	monitorByAddress map[records.Address]Binding
	monitorByTopic   map[string]Binding
	controlByTopic   map[string]Binding
}

// NewTable validates binding entries and builds the lookup table.
//
// Validation rules (violations abort startup):
//   - keys are non-empty and unique
//   - addresses are within their bit widths
//   - DPTs are supported and resolve to a record kind for the direction
//   - topics are non-empty and unique per direction
//   - an address may not appear in the same direction twice, nor in both
//     directions with conflicting DPTs
//
// Parameters:
//   - bindings: Entries in configuration order
//
// Returns:
//   - *Table: Validated lookup table
//   - error: Joined description of every validation failure
func NewTable(bindings []Binding) (*Table, error) {
	t := &Table{
		bindings:         make([]Binding, 0, len(bindings)),
		byKey:            make(map[string]Binding, len(bindings)),
		monitorByAddress: make(map[records.Address]Binding, len(bindings)),
		monitorByTopic:   make(map[string]Binding, len(bindings)),
		controlByTopic:   make(map[string]Binding, len(bindings)),
	}

	var errs []string
	controlByAddress := make(map[records.Address]Binding, len(bindings))

	for i, b := range bindings {
		if b.Key == "" {
			errs = append(errs, fmt.Sprintf("bindings[%d]: key is required", i))
			continue
		}
		if _, dup := t.byKey[b.Key]; dup {
			errs = append(errs, fmt.Sprintf("bindings[%d]: key %q is duplicate", i, b.Key))
			continue
		}
		if !b.Address.IsValid() {
			errs = append(errs, fmt.Sprintf("bindings[%d] (%s): address %s is out of range", i, b.Key, b.Address))
			continue
		}
		if !b.Direction.IsValid() {
			errs = append(errs, fmt.Sprintf("bindings[%d] (%s): direction %q is invalid (use monitor or control)", i, b.Key, b.Direction))
			continue
		}
		kind, err := kindFor(b.Direction, b.DPT)
		if err != nil {
			errs = append(errs, fmt.Sprintf("bindings[%d] (%s): %v", i, b.Key, err))
			continue
		}
		b.Kind = kind

		if b.Topic == "" {
			errs = append(errs, fmt.Sprintf("bindings[%d] (%s): topic is required", i, b.Key))
			continue
		}

		switch b.Direction {
		case DirectionMonitor:
			if prev, dup := t.monitorByTopic[b.Topic]; dup {
				errs = append(errs, fmt.Sprintf("bindings[%d] (%s): monitor topic %q already bound to %s", i, b.Key, b.Topic, prev.Key))
				continue
			}
			if prev, dup := t.monitorByAddress[b.Address]; dup {
				errs = append(errs, fmt.Sprintf("bindings[%d] (%s): address %s already monitored by %s", i, b.Key, b.Address, prev.Key))
				continue
			}
			if other, ok := controlByAddress[b.Address]; ok && other.DPT != b.DPT {
				errs = append(errs, fmt.Sprintf("bindings[%d] (%s): address %s bound in both directions with conflicting DPTs (%s vs %s)", i, b.Key, b.Address, b.DPT, other.DPT))
				continue
			}
			t.monitorByTopic[b.Topic] = b
			t.monitorByAddress[b.Address] = b

		case DirectionControl:
			if prev, dup := t.controlByTopic[b.Topic]; dup {
				errs = append(errs, fmt.Sprintf("bindings[%d] (%s): control topic %q already bound to %s", i, b.Key, b.Topic, prev.Key))
				continue
			}
			if prev, dup := controlByAddress[b.Address]; dup {
				errs = append(errs, fmt.Sprintf("bindings[%d] (%s): address %s already controlled by %s", i, b.Key, b.Address, prev.Key))
				continue
			}
			if other, ok := t.monitorByAddress[b.Address]; ok && other.DPT != b.DPT {
				errs = append(errs, fmt.Sprintf("bindings[%d] (%s): address %s bound in both directions with conflicting DPTs (%s vs %s)", i, b.Key, b.Address, b.DPT, other.DPT))
				continue
			}
			t.controlByTopic[b.Topic] = b
			controlByAddress[b.Address] = b
		}

		t.byKey[b.Key] = b
		t.bindings = append(t.bindings, b)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("binding table errors: %s", strings.Join(errs, "; "))
	}
	if len(t.bindings) == 0 {
		return nil, fmt.Errorf("binding table errors: at least one binding is required")
	}

	return t, nil
}

// Bindings returns every binding in configuration order.
// The returned slice is shared; callers must not modify it.
func (t *Table) Bindings() []Binding {
	return t.bindings
}

// Monitored returns the monitor-direction bindings in configuration order.
func (t *Table) Monitored() []Binding {
	out := make([]Binding, 0, len(t.monitorByAddress))
	for _, b := range t.bindings {
		if b.Direction == DirectionMonitor {
			out = append(out, b)
		}
	}
	return out
}

// Controlled returns the control-direction bindings in configuration order.
func (t *Table) Controlled() []Binding {
	out := make([]Binding, 0, len(t.controlByTopic))
	for _, b := range t.bindings {
		if b.Direction == DirectionControl {
			out = append(out, b)
		}
	}
	return out
}

// ByKey looks up a binding by record key.
func (t *Table) ByKey(key string) (Binding, bool) {
	b, ok := t.byKey[key]
	return b, ok
}

// MonitoredByTopic looks up a monitor binding by broker topic.
func (t *Table) MonitoredByTopic(topic string) (Binding, bool) {
	b, ok := t.monitorByTopic[topic]
	return b, ok
}

// ControlledByTopic looks up a control binding by broker topic.
func (t *Table) ControlledByTopic(topic string) (Binding, bool) {
	b, ok := t.controlByTopic[topic]
	return b, ok
}

// Default returns the binding table entries for the reference deployment:
// a monitored TV switch, a monitored temperature sensor, and a controlled
// TV switch. Used when the configuration file declares no bindings.
func Default() []Binding {
	return []Binding{
		{Key: "tv_state", Address: records.Address{Main: 1, Middle: 0, Sub: 7}, DPT: records.DPTSwitch, Topic: "knx/tv/state", Direction: DirectionMonitor},
		{Key: "temperature", Address: records.Address{Main: 9, Middle: 1, Sub: 0}, DPT: records.DPTTemperature, Topic: "knx/temperature/state", Direction: DirectionMonitor},
		{Key: "tv_control", Address: records.Address{Main: 1, Middle: 0, Sub: 6}, DPT: records.DPTSwitch, Topic: "knx/tv/control", Direction: DirectionControl},
	}
}
