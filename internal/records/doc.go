// Package records defines the typed domain values carried across the
// AimX bridge and their codecs.
//
// A Record is a tagged union of three variants: switch state (observed
// on/off), switch control (commanded on/off), and temperature. Every
// record carries a KNX group address; monitoring variants additionally
// carry an observation timestamp in Unix epoch milliseconds.
//
// # Encodings
//
// Records cross two wire boundaries, each with its own codec:
//
//   - Wire (JSON): the broker payload format. The variant is inferred
//     structurally from the fields present, not from an explicit tag.
//     EncodeWire/DecodeWire round-trip every constructible record.
//
//   - Field bus (DPT): the KNX binary value encoding. Switch kinds use
//     DPT 1.001 (1 bit), temperature uses DPT 9.001 (2-byte float at
//     0.01 resolution). EncodeBus/DecodeBus round-trip within the DPT's
//     declared precision; temperatures are rounded to the encoding's
//     least-significant unit with round-half-to-even.
//
// # Errors
//
// Both codecs fail with one of three sentinels: ErrMalformed (wrong
// length or shape), ErrUnknownTag (unrecognised variant or datapoint
// type), ErrOutOfRange (numeric value outside the representable range).
// All are local, non-fatal conditions: drop the message and continue.
//
// # Example
//
//	addr, _ := records.ParseAddress("9/1/0")
//	r := records.NewTemperature(addr, 21.5, time.Now().UnixMilli())
//
//	payload, _ := records.EncodeWire(r)
//	// {"address":"9/1/0","value_celsius":21.5,"observed_at":...}
//
//	data, _ := records.EncodeBus(r, records.DPTTemperature)
//	// [0x0C, 0x33]
package records
