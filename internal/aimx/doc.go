// Package aimx implements the local record protocol: a Unix-socket
// server exposing the console cache to same-host clients.
//
// # Wire Protocol
//
// Every frame is a 4-byte big-endian length prefix followed by a JSON
// body, capped at 64 KiB. Clients send requests:
//
//	{"id": "r1", "method": "get", "params": {"key": "tv_state"}}
//
// and receive exactly one response per request, either a result or a
// structured error (codes bad_request, unknown_key, permission_denied,
// internal):
//
//	{"id": "r1", "result": {"key": "tv_state", "cached": true, ...}}
//	{"id": "r1", "error": {"code": "unknown_key", "message": "..."}}
//
// watch additionally opens a subscription: after its result frame the
// server pushes events carrying the watch request's id as their
// subscription_id. A missed mark on an event means the client fell
// behind and at least one earlier event was dropped.
//
// Methods: list, get, set, watch, ping.
//
// # Permissions
//
// Each connection carries a write flag, defaulted from configuration
// or decided per connection by an Authorizer hook. set requires it;
// everything else is read-only.
package aimx
