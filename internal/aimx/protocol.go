package aimx

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nerrad567/aimx-core/internal/console"
	"github.com/nerrad567/aimx-core/internal/records"
)

// Wire error codes.
const (
	codeBadRequest       = "bad_request"
	codeUnknownKey       = "unknown_key"
	codePermissionDenied = "permission_denied"
	codeInternal         = "internal"
)

// Request is one client request frame.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request, carrying either a result or an
// error. ID echoes the request; it is empty when the request could not
// be parsed far enough to recover one.
type Response struct {
	ID     string     `json:"id"`
	Result any        `json:"result,omitempty"`
	Error  *WireError `json:"error,omitempty"`
}

// WireError is the error half of a Response.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Push is one server-initiated event frame. SubscriptionID echoes the
// id of the watch request that opened the subscription; individual
// events carry no ids of their own. Missed marks that at least one
// earlier event on this subscription was dropped.
type Push struct {
	SubscriptionID string          `json:"subscription_id"`
	Sequence       uint64          `json:"sequence"`
	Record         json.RawMessage `json:"record"`
	Missed         bool            `json:"missed,omitempty"`
}

// Method params and results. These are server-internal shapes; the wire
// contract is the JSON, not the Go types.
type (
	getParams struct {
		Key string `json:"key"`
	}

	setParams struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}

	watchParams struct {
		Key        string `json:"key"`
		CountLimit int    `json:"count_limit"`
		Full       bool   `json:"full"`
	}

	// switchValue is the set value schema for switch kinds. Pointer
	// distinguishes absent from false.
	switchValue struct {
		IsOn *bool `json:"is_on"`
	}

	listResult struct {
		Keys []keyInfoJSON `json:"keys"`
	}

	getResult struct {
		Key       string          `json:"key"`
		Cached    bool            `json:"cached"`
		Record    json.RawMessage `json:"record,omitempty"`
		Sequence  uint64          `json:"sequence,omitempty"`
		UpdatedAt string          `json:"updated_at,omitempty"`
	}

	setResult struct {
		OK bool `json:"ok"`
	}

	watchResult struct {
		Watching bool   `json:"watching"`
		Key      string `json:"key"`
	}

	pingResult struct {
		Pong bool `json:"pong"`
	}

	// keyValue is the condensed push form: the record reduced to its
	// single domain value.
	keyValue struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
)

// keyInfoJSON is one list entry. Sequence and UpdatedAt appear only for
// cached keys.
type keyInfoJSON struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Topic     string `json:"topic"`
	Direction string `json:"direction"`
	Writable  bool   `json:"writable"`
	Cached    bool   `json:"cached"`
	Sequence  uint64 `json:"sequence,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func keyInfoFrom(info console.KeyInfo) keyInfoJSON {
	out := keyInfoJSON{
		Key:       info.Key,
		Kind:      string(info.Kind),
		Topic:     info.Topic,
		Direction: string(info.Direction),
		Writable:  info.Writable,
		Cached:    info.Cached,
	}
	if info.Cached {
		out.Sequence = info.Sequence
		out.UpdatedAt = info.UpdatedAt.Format(time.RFC3339)
	}
	return out
}

// pushRecord builds the record field of a Push: the complete wire form
// when full, otherwise the condensed key/value summary.
func pushRecord(key string, rec records.Record, full bool) (json.RawMessage, error) {
	if full {
		return records.EncodeWire(rec)
	}

	var value any
	switch rec.Kind {
	case records.KindSwitchState:
		value = rec.IsOn
	case records.KindTemperature:
		value = rec.ValueCelsius
	default:
		return nil, errors.New("aimx: kind has no condensed form")
	}
	return json.Marshal(keyValue{Key: key, Value: value})
}

// errorCode maps a handler error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownKey) || errors.Is(err, console.ErrUnknownKey):
		return codeUnknownKey
	case errors.Is(err, ErrPermissionDenied):
		return codePermissionDenied
	case errors.Is(err, ErrBadRequest) || errors.Is(err, console.ErrNotWritable):
		return codeBadRequest
	default:
		return codeInternal
	}
}
