package knx

import "errors"

// Domain errors for the KNX bridge package.
var (
	// ErrTunnelLost is returned when the group socket to knxd fails:
	// dial or handshake failure, read error, or EOF. The bridge state
	// machine reacts by tearing the link down and reconnecting; it is
	// never fatal.
	ErrTunnelLost = errors.New("knx: tunnel lost")

	// ErrUnexpectedFrame is returned when knxd delivers a frame the
	// tunnel cannot use: an unknown message type or a group packet too
	// short to carry an APCI. The frame is dropped and the tunnel
	// keeps running.
	ErrUnexpectedFrame = errors.New("knx: unexpected frame")

	// ErrNotConnected is returned when an operation requires an open
	// tunnel but the tunnel is closed or lost.
	ErrNotConnected = errors.New("knx: not connected to knxd")

	// ErrInvalidTelegram is returned when a telegram cannot be encoded
	// for the bus.
	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrTimeout is returned when a bus operation times out.
	ErrTimeout = errors.New("knx: operation timed out")
)
