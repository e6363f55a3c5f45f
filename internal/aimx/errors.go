package aimx

import "errors"

// Request error sentinels. Each maps to a wire error code in responses;
// anything else a handler returns goes out as "internal".
var (
	// ErrBadRequest marks a request the server understood enough to
	// reject: unknown method, malformed params, a value that does not
	// fit the key's kind, or a set on a key that is not controllable.
	ErrBadRequest = errors.New("aimx: bad request")

	// ErrUnknownKey marks a request naming a key outside the binding
	// table.
	ErrUnknownKey = errors.New("aimx: unknown record key")

	// ErrPermissionDenied marks a set on a connection without write
	// access.
	ErrPermissionDenied = errors.New("aimx: permission denied")
)

// errFrameTooLarge marks a frame whose declared length exceeds
// maxFrameSize. The stream cannot be resynchronised past it, so the
// connection is closed after the error response.
var errFrameTooLarge = errors.New("aimx: frame exceeds size limit")
