package binding

import (
	"fmt"

	"github.com/nerrad567/aimx-core/internal/records"
)

// DecodeTelegram resolves a field-bus telegram against the monitor bindings
// and decodes its payload into a record.
//
// Telegrams for addresses without a monitor binding are not an error; the
// bus carries traffic for devices outside the table and the bridge ignores
// it. Those return ok=false with a nil error.
//
// Parameters:
//   - addr: Group address the telegram was sent to
//   - data: DPT-encoded payload bytes
//   - observedAt: Receive time in Unix milliseconds
//
// Returns:
//   - Binding: Matched binding (topic, key, kind)
//   - records.Record: Decoded record
//   - bool: False when no monitor binding covers addr
//   - error: Decode failure for a matched address
func (t *Table) DecodeTelegram(addr records.Address, data []byte, observedAt int64) (Binding, records.Record, bool, error) {
	b, ok := t.monitorByAddress[addr]
	if !ok {
		return Binding{}, records.Record{}, false, nil
	}

	rec, err := records.DecodeBus(b.DPT, b.Kind, addr, data, observedAt)
	if err != nil {
		return b, records.Record{}, true, fmt.Errorf("decode telegram for %s (%s): %w", addr, b.Key, err)
	}
	return b, rec, true, nil
}

// EncodeControl resolves a broker message against the control bindings and
// encodes its payload into field-bus telegram bytes.
//
// Messages on topics without a control binding return ok=false with a nil
// error. A matched message whose payload does not decode to a control
// record for the binding's address and kind returns an error; the caller
// reports it and carries on.
//
// Parameters:
//   - topic: Broker topic the message arrived on
//   - payload: Wire-encoded record bytes
//
// Returns:
//   - Binding: Matched binding (address, DPT)
//   - []byte: DPT-encoded telegram payload
//   - bool: False when no control binding covers topic
//   - error: Decode or encode failure for a matched topic
func (t *Table) EncodeControl(topic string, payload []byte) (Binding, []byte, bool, error) {
	b, ok := t.controlByTopic[topic]
	if !ok {
		return Binding{}, nil, false, nil
	}

	rec, err := records.DecodeWire(payload)
	if err != nil {
		return b, nil, true, fmt.Errorf("decode control for %q (%s): %w", topic, b.Key, err)
	}
	if rec.Kind != b.Kind {
		return b, nil, true, fmt.Errorf("decode control for %q (%s): got %s record, want %s: %w",
			topic, b.Key, rec.Kind, b.Kind, records.ErrMalformed)
	}
	if rec.Address != b.Address {
		return b, nil, true, fmt.Errorf("decode control for %q (%s): record address %s does not match binding address %s: %w",
			topic, b.Key, rec.Address, b.Address, records.ErrMalformed)
	}

	data, err := records.EncodeBus(rec, b.DPT)
	if err != nil {
		return b, nil, true, fmt.Errorf("encode control for %q (%s): %w", topic, b.Key, err)
	}
	return b, data, true, nil
}
