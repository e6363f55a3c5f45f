package console

import "errors"

// Console error sentinels.
//
// These cross the cache API boundary and are mapped by the local
// protocol server onto its wire error codes. Use errors.Is to test for
// them since they are wrapped with call context.
var (
	// ErrUnknownKey is returned when a record key is not in the binding
	// table. Configured-but-cold keys are not an error; this is strictly
	// "no such key".
	ErrUnknownKey = errors.New("console: unknown record key")

	// ErrNotWritable is returned by Set for keys without a control
	// binding, and for records whose kind does not fit the binding.
	ErrNotWritable = errors.New("console: record key is not writable")

	// ErrHistoryDisabled is returned by OpenHistory when the history
	// store is disabled in configuration.
	ErrHistoryDisabled = errors.New("console: history store is disabled")

	// ErrTelemetryDisabled is returned by ConnectTelemetry when the
	// telemetry sink is disabled in configuration.
	ErrTelemetryDisabled = errors.New("console: telemetry sink is disabled")
)
