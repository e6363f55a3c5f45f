package records

import "errors"

// Encoding errors shared by the wire (JSON) and field-bus (DPT) codecs.
//
// All three are local and non-fatal: callers drop the offending message,
// emit a diagnostic, and continue processing.
var (
	// ErrMalformed is returned when data has the wrong length or shape
	// for the expected encoding.
	ErrMalformed = errors.New("records: malformed encoding")

	// ErrUnknownTag is returned when a variant discriminator or datapoint
	// type identifier is not recognised.
	ErrUnknownTag = errors.New("records: unknown tag")

	// ErrOutOfRange is returned when a numeric value falls outside the
	// representable range of its encoding.
	ErrOutOfRange = errors.New("records: value out of range")
)
